package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumen-ide/lumen/cmd/lumen/commands"
	"github.com/lumen-ide/lumen/logger"
)

var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "Lumen - IDE extension host",
	Long: `Lumen loads, sandboxes, and supervises IDE extensions.

Extensions are WebAssembly modules discovered from the built-in and
user extension directories. Each one runs in its own sandbox and
reaches the workspace only through capability APIs scoped to it.

Examples:
  lumen serve                   # Start the extension host server
  lumen extensions list         # List installed extensions
  lumen extensions install ./my-extension
  lumen extensions disable spellcheck`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ExtensionsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
