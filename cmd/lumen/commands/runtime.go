package commands

import (
	"context"

	"github.com/lumen-ide/lumen/capability"
	"github.com/lumen-ide/lumen/chat"
	"github.com/lumen-ide/lumen/config"
	"github.com/lumen-ide/lumen/contrib"
	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/extension"
	"github.com/lumen-ide/lumen/host"
	"github.com/lumen-ide/lumen/logger"
	"github.com/lumen-ide/lumen/registry"
	"github.com/lumen-ide/lumen/sandbox"
	"github.com/lumen-ide/lumen/server/wsevents"
	"github.com/lumen-ide/lumen/settings"
	"github.com/lumen-ide/lumen/version"

	"github.com/lumen-ide/lumen/agent"
)

// Runtime is the fully wired extension host: settings store, privileged
// host, registries, sandbox loader, manager, chat, and the UI event
// hub.
type Runtime struct {
	Config    *config.Config
	Store     *settings.SQLiteStore
	Bus       *host.Bus
	Local     *host.Local
	Invoker   host.Invoker
	Commands  *registry.Commands
	Views     *registry.Views
	StatusBar *registry.StatusBar
	Contrib   *contrib.Registry
	Chat      *chat.Registry
	Manager   *extension.Manager
	Hub       *wsevents.Hub

	bridgeDispose host.Disposer
}

// hostFacade pairs the rate-limited invoker with the local event bus.
type hostFacade struct {
	host.Invoker
	host.Listener
}

// agentOpener adapts the capability stream to the agent's opener
// interface.
type agentOpener struct {
	ai *capability.AIAPI
}

func (o agentOpener) Stream(ctx context.Context, request map[string]any) (agent.FragmentStream, error) {
	return o.ai.Stream(ctx, request)
}

// BuildRuntime wires every component from configuration.
func BuildRuntime(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	store, err := settings.Open(cfg.Database.Path, logger.Named("settings"))
	if err != nil {
		return nil, errors.Wrap(err, "opening settings store")
	}

	bus := host.NewBus(logger.Named("bus"))
	llm := host.NewModelClient(cfg.Model, logger.Named("llm"))
	local := host.NewLocal(bus, store, llm, logger.Named("host"))
	local.BuiltinDir = cfg.Extensions.BuiltinDir
	local.UserDir = cfg.Extensions.UserDir
	limited := host.NewRateLimited(local, cfg.Sandbox.HostCallsPerSecond, cfg.Sandbox.HostCallBurst)

	commands := registry.NewCommands()
	views := registry.NewViews()
	statusBar := registry.NewStatusBar()
	chatReg := chat.NewRegistry()
	contribReg := contrib.NewRegistry(contrib.Collaborators{
		UnregisterView:       views.Unregister,
		UnregisterStatusItem: statusBar.Unregister,
		UnregisterCommand:    commands.Unregister,
	}, logger.Named("contrib"))

	builder := capability.NewBuilder(capability.Deps{
		Host:      hostFacade{limited, local},
		Contrib:   contribReg,
		Commands:  commands,
		Views:     views,
		StatusBar: statusBar,
		Chat:      chatReg,
		Settings:  store,
		Version:   version.Get().Version,
	})

	loader := sandbox.NewWazeroLoader(cfg.Sandbox)
	manager := extension.NewManager(limited, store, builder, loader, contribReg,
		version.Get().Version,
		func(level, message string) {
			bus.PublishValue("ui:notifications", map[string]string{
				"level":   level,
				"message": message,
			})
		})

	// built-in workspace assistant
	core := builder.Build("lumen.core")
	runner := agent.NewRunner(agentOpener{ai: core.AI}, agent.WorkspaceTools(limited))
	chatReg.Register(runner.Participant())

	hub := wsevents.NewHub(cfg.Server.AllowedOrigins)
	bridgeDispose, err := hub.BridgeBus(ctx, bus, "ui:notifications")
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "bridging notification events")
	}

	return &Runtime{
		Config:        cfg,
		Store:         store,
		Bus:           bus,
		Local:         local,
		Invoker:       limited,
		Commands:      commands,
		Views:         views,
		StatusBar:     statusBar,
		Contrib:       contribReg,
		Chat:          chatReg,
		Manager:       manager,
		Hub:           hub,
		bridgeDispose: bridgeDispose,
	}, nil
}

// Close unloads all extensions and releases resources.
func (r *Runtime) Close(ctx context.Context) {
	for _, info := range r.Manager.LoadedExtensions() {
		r.Manager.Unload(ctx, info.Name, false)
	}
	if r.bridgeDispose != nil {
		r.bridgeDispose()
	}
	if err := r.Store.Close(); err != nil {
		logger.Warnw("Closing settings store", logger.FieldError, err)
	}
}
