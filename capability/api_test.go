package capability

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-ide/lumen/chat"
	"github.com/lumen-ide/lumen/contrib"
	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/host"
	"github.com/lumen-ide/lumen/registry"
	"github.com/lumen-ide/lumen/settings"
)

type fixture struct {
	deps      Deps
	bus       *host.Bus
	commands  *registry.Commands
	views     *registry.Views
	statusBar *registry.StatusBar
	contrib   *contrib.Registry
	settings  *settings.MemoryStore
	openedTabs []Tab
}

type busHost struct {
	invoke host.InvokerFunc
	bus    *host.Bus
}

func (h *busHost) Invoke(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	return h.invoke(ctx, command, args)
}

func (h *busHost) Listen(ctx context.Context, topic string, handler func(json.RawMessage)) (host.Disposer, error) {
	return h.bus.Listen(ctx, topic, handler)
}

func newFixture(t *testing.T, invoke host.InvokerFunc) *fixture {
	t.Helper()
	f := &fixture{
		bus:       host.NewBus(nil),
		commands:  registry.NewCommands(),
		views:     registry.NewViews(),
		statusBar: registry.NewStatusBar(),
		settings:  settings.NewMemoryStore(),
	}
	f.contrib = contrib.NewRegistry(contrib.Collaborators{
		UnregisterView:       f.views.Unregister,
		UnregisterStatusItem: f.statusBar.Unregister,
		UnregisterCommand:    f.commands.Unregister,
	}, nil)
	if invoke == nil {
		invoke = func(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
			return nil, errors.NewHostCallError(errors.New("no host in this test"), command)
		}
	}
	f.deps = Deps{
		Host:      &busHost{invoke: invoke, bus: f.bus},
		Contrib:   f.contrib,
		Commands:  f.commands,
		Views:     f.views,
		StatusBar: f.statusBar,
		Chat:      chat.NewRegistry(),
		Settings:  f.settings,
		Version:   "1.2.3",
		UI: UICallbacks{
			OpenTab: func(tab Tab) { f.openedTabs = append(f.openedTabs, tab) },
		},
	}
	return f
}

func TestCommandRegisterTracksHandleBeforeRegistry(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	api.Commands.Register(CommandRegistration{
		ID:    "alpha.hello",
		Title: "Hello",
		Callback: func(ctx context.Context, args json.RawMessage) (any, error) {
			return "hi", nil
		},
	})

	handle := f.contrib.Snapshot("alpha")
	require.NotNil(t, handle)
	assert.Equal(t, []string{"alpha.hello"}, handle.Commands)

	result, err := f.commands.Execute(context.Background(), "alpha.hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}

func TestCommandRegisterNormalizesHandlerAlias(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	api.Commands.Register(CommandRegistration{
		ID: "alpha.handler-only",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return "from handler", nil
		},
	})

	result, err := f.commands.Execute(context.Background(), "alpha.handler-only", nil)
	require.NoError(t, err)
	assert.Equal(t, "from handler", result)
}

func TestOpenTabRecordsBeforeShellCallback(t *testing.T) {
	f := newFixture(t, nil)

	var recordedAtCallback []string
	f.deps.UI.OpenTab = func(tab Tab) {
		recordedAtCallback = append([]string(nil), f.contrib.Snapshot("alpha").OpenedTabs...)
	}
	api := NewBuilder(f.deps).Build("alpha")

	id := api.Window.OpenTab(Tab{Title: "Preview"})

	require.NotEmpty(t, id)
	assert.Equal(t, []string{id}, recordedAtCallback, "tab must be tracked before the shell sees it")
}

func TestStorageIsNamespacedPerExtension(t *testing.T) {
	f := newFixture(t, nil)
	alpha := NewBuilder(f.deps).Build("alpha")
	beta := NewBuilder(f.deps).Build("beta")

	require.NoError(t, alpha.Storage.Set("token", "secret-a"))
	require.NoError(t, beta.Storage.Set("token", "secret-b"))

	got, err := alpha.Storage.Get("token")
	require.NoError(t, err)
	assert.Equal(t, "secret-a", got)

	raw, err := f.settings.Get("plugin:alpha:token")
	require.NoError(t, err)
	assert.Equal(t, "secret-a", raw)

	keys, err := alpha.Storage.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, keys)
}

func TestViewAndStatusItemTracked(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	api.Views.Register("alpha.tree", "Tree", "sidebar")
	api.StatusBar.RegisterItem(registry.StatusItem{ID: "alpha.clock", Text: "12:00"})

	handle := f.contrib.Snapshot("alpha")
	require.NotNil(t, handle)
	assert.Equal(t, []string{"alpha.tree"}, handle.Views)
	assert.Equal(t, []string{"alpha.clock"}, handle.StatusItems)

	f.contrib.Teardown("alpha")
	_, ok := f.views.Get("alpha.tree")
	assert.False(t, ok)
	_, ok = f.statusBar.Get("alpha.clock")
	assert.False(t, ok)
}

func TestSystemVersionAndOutputChannel(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	assert.Equal(t, "1.2.3", api.System.Version())

	ch := api.Window.CreateOutputChannel("Build Log")
	assert.NotEmpty(t, ch.ID)
	ch.Append("compiling")
	ch.Append("done")
	assert.Equal(t, []string{"compiling", "done"}, ch.Lines())
	ch.Clear()
	assert.Empty(t, ch.Lines())
}

func TestDisposeSubscriptionsStopsListening(t *testing.T) {
	f := newFixture(t, nil)
	api := NewBuilder(f.deps).Build("alpha")

	seen := 0
	_, err := api.Workspace.Listen(context.Background(), "doc:saved", func(json.RawMessage) { seen++ })
	require.NoError(t, err)

	f.bus.Publish("doc:saved", json.RawMessage(`{}`))
	require.Equal(t, 1, seen)

	api.DisposeSubscriptions()
	api.DisposeSubscriptions()

	f.bus.Publish("doc:saved", json.RawMessage(`{}`))
	assert.Equal(t, 1, seen)
}
