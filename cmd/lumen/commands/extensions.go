package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/lumen-ide/lumen/config"
	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/installer"
	"github.com/lumen-ide/lumen/logger"
	"github.com/lumen-ide/lumen/settings"
	"github.com/lumen-ide/lumen/version"
)

// ExtensionsCmd manages installed extensions from the command line.
var ExtensionsCmd = &cobra.Command{
	Use:     "extensions",
	Aliases: []string{"ext"},
	Short:   "Manage installed extensions",
}

var extensionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed extensions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		rt, err := BuildRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close(ctx)

		if err := rt.Manager.LoadAll(ctx); err != nil {
			return err
		}

		infos := rt.Manager.LoadedExtensions()
		if len(infos) == 0 {
			pterm.Info.Println("No extensions installed")
			return nil
		}

		rows := pterm.TableData{{"Name", "Version", "State", "Enabled", "Builtin"}}
		for _, info := range infos {
			enabled := "yes"
			if !info.Enabled {
				enabled = "no"
			}
			builtin := ""
			if info.IsBuiltin {
				builtin = "builtin"
			}
			rows = append(rows, []string{info.Name, info.Version, string(info.State), enabled, builtin})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func setDisabledFlag(name string, disabled bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := settings.Open(cfg.Database.Path, logger.Named("settings"))
	if err != nil {
		return err
	}
	defer store.Close()

	current, err := settings.DisabledExtensions(store)
	if err != nil {
		return err
	}
	if disabled {
		current[name] = true
	} else {
		delete(current, name)
	}
	return settings.SetDisabledExtensions(store, current)
}

var extensionsEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable an extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setDisabledFlag(args[0], false); err != nil {
			return err
		}
		pterm.Success.Printfln("Extension %s enabled; it loads on the next start or reload", args[0])
		return nil
	},
}

var extensionsDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable an extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setDisabledFlag(args[0], true); err != nil {
			return err
		}
		pterm.Success.Printfln("Extension %s disabled", args[0])
		return nil
	},
}

var extensionsInstallCmd = &cobra.Command{
	Use:   "install <source>",
	Short: "Install an extension from a path, URL, or git repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		spinner, _ := pterm.DefaultSpinner.Start("Fetching " + args[0])
		inst := installer.New(cfg.Extensions.UserDir, version.Get().Version)
		manifest, err := inst.Install(cmd.Context(), args[0])
		if err != nil {
			spinner.Fail(err.Error())
			return errors.Wrapf(err, "installing %s", args[0])
		}
		spinner.Success(pterm.Sprintf("Installed %s %s", manifest.Name, manifest.Version))
		return nil
	},
}

var extensionsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an installed extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		inst := installer.New(cfg.Extensions.UserDir, version.Get().Version)
		if err := inst.Remove(args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Extension %s removed", args[0])
		return nil
	},
}

func init() {
	ExtensionsCmd.AddCommand(extensionsListCmd)
	ExtensionsCmd.AddCommand(extensionsEnableCmd)
	ExtensionsCmd.AddCommand(extensionsDisableCmd)
	ExtensionsCmd.AddCommand(extensionsInstallCmd)
	ExtensionsCmd.AddCommand(extensionsRemoveCmd)
}
