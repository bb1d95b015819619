package extension

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-ide/lumen/capability"
	"github.com/lumen-ide/lumen/chat"
	"github.com/lumen-ide/lumen/contrib"
	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/host"
	"github.com/lumen-ide/lumen/registry"
	"github.com/lumen-ide/lumen/sandbox"
	"github.com/lumen-ide/lumen/settings"
)

// fakeInstance simulates a sandboxed extension in-process. activate
// drives the dispatcher the way a real guest would through host_call.
type fakeInstance struct {
	name        string
	dispatcher  sandbox.Dispatcher
	activate    func(ctx context.Context, d sandbox.Dispatcher) error
	deactivated bool
	deactivateErr error
	closed      bool
}

func (f *fakeInstance) Activate(ctx context.Context, payload json.RawMessage) error {
	if f.activate == nil {
		return nil
	}
	return f.activate(ctx, f.dispatcher)
}

func (f *fakeInstance) Deactivate(ctx context.Context) error {
	f.deactivated = true
	return f.deactivateErr
}

func (f *fakeInstance) Invoke(ctx context.Context, export string, args json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`"ok"`), nil
}

func (f *fakeInstance) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

type fakeLoader struct {
	activations map[string]func(ctx context.Context, d sandbox.Dispatcher) error
	loadErr     map[string]error
	instances   map[string]*fakeInstance
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		activations: map[string]func(ctx context.Context, d sandbox.Dispatcher) error{},
		loadErr:     map[string]error{},
		instances:   map[string]*fakeInstance{},
	}
}

func (l *fakeLoader) Load(ctx context.Context, extension string, code []byte, dispatcher sandbox.Dispatcher) (sandbox.Instance, error) {
	if err := l.loadErr[extension]; err != nil {
		return nil, err
	}
	inst := &fakeInstance{name: extension, dispatcher: dispatcher, activate: l.activations[extension]}
	l.instances[extension] = inst
	return inst, nil
}

type managerFixture struct {
	manager   *Manager
	store     *settings.MemoryStore
	loader    *fakeLoader
	commands  *registry.Commands
	views     *registry.Views
	statusBar *registry.StatusBar
	contrib   *contrib.Registry
	scan      []scanResult
	scanErr   error
	notices   []string
}

func manifestJSON(name string) json.RawMessage {
	m, _ := json.Marshal(Manifest{Name: name, Version: "1.0.0", Entry: "main.wasm"})
	return m
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:     settings.NewMemoryStore(),
		loader:    newFakeLoader(),
		commands:  registry.NewCommands(),
		views:     registry.NewViews(),
		statusBar: registry.NewStatusBar(),
	}
	f.contrib = contrib.NewRegistry(contrib.Collaborators{
		UnregisterView:       f.views.Unregister,
		UnregisterStatusItem: f.statusBar.Unregister,
		UnregisterCommand:    f.commands.Unregister,
	}, nil)

	invoker := host.InvokerFunc(func(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
		switch command {
		case host.CmdExtensionsScan:
			if f.scanErr != nil {
				return nil, errors.NewHostCallError(f.scanErr, command)
			}
			return json.Marshal(f.scan)
		case host.CmdReadEntry:
			return json.Marshal(map[string]any{"content": []byte{0x00, 0x61, 0x73, 0x6d}})
		default:
			return nil, errors.NewHostCallError(errors.New("unexpected command"), command)
		}
	})

	builder := capability.NewBuilder(capability.Deps{
		Host: struct {
			host.Invoker
			host.Listener
		}{invoker, host.NewBus(nil)},
		Contrib:   f.contrib,
		Commands:  f.commands,
		Views:     f.views,
		StatusBar: f.statusBar,
		Chat:      chat.NewRegistry(),
		Settings:  f.store,
		Version:   "1.0.0",
	})

	f.manager = NewManager(invoker, f.store, builder, f.loader, f.contrib, "1.0.0",
		func(level, message string) { f.notices = append(f.notices, level+": "+message) })
	return f
}

func (f *managerFixture) addExtension(name string) {
	f.scan = append(f.scan, scanResult{
		InstallPath: "/ext/" + name,
		Manifest:    manifestJSON(name),
	})
}

func TestLoadAllActivatesDiscoveredExtensions(t *testing.T) {
	f := newManagerFixture(t)
	f.addExtension("alpha")
	f.loader.activations["alpha"] = func(ctx context.Context, d sandbox.Dispatcher) error {
		_, err := d.Dispatch(ctx, "commands.register",
			json.RawMessage(`{"id":"alpha.hello","title":"Hello","callback":"on_hello"}`))
		return err
	}

	require.NoError(t, f.manager.LoadAll(context.Background()))

	infos := f.manager.LoadedExtensions()
	require.Len(t, infos, 1)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.True(t, infos[0].Enabled)
	assert.Equal(t, StateActive, infos[0].State)

	result, err := f.commands.Execute(context.Background(), "alpha.hello", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"ok"`), result)
}

func TestLoadAllIsolatesSingleFailure(t *testing.T) {
	f := newManagerFixture(t)
	f.addExtension("broken")
	f.addExtension("healthy")
	f.loader.loadErr["broken"] = errors.New("compile exploded")

	require.NoError(t, f.manager.LoadAll(context.Background()))

	infos := f.manager.LoadedExtensions()
	require.Len(t, infos, 2)
	assert.Equal(t, StateFailed, infos[0].State)
	assert.Equal(t, StateActive, infos[1].State)
	require.Len(t, f.notices, 1)
	assert.Contains(t, f.notices[0], "broken")
}

func TestLoadAllDiscoveryFailureUnloadsEverything(t *testing.T) {
	f := newManagerFixture(t)
	f.addExtension("alpha")
	require.NoError(t, f.manager.LoadAll(context.Background()))
	require.NotNil(t, f.loader.instances["alpha"])

	f.scanErr = errors.New("host is gone")
	err := f.manager.LoadAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDiscovery))

	assert.True(t, f.loader.instances["alpha"].closed)
	assert.Empty(t, f.manager.LoadedExtensions())
}

func TestActivationFailureCleansUpPartialContributions(t *testing.T) {
	f := newManagerFixture(t)
	f.addExtension("flaky")
	f.loader.activations["flaky"] = func(ctx context.Context, d sandbox.Dispatcher) error {
		_, err := d.Dispatch(ctx, "views.register",
			json.RawMessage(`{"id":"flaky.panel","title":"Panel","location":"sidebar"}`))
		require.NoError(t, err)
		return errors.New("activate crashed")
	}

	require.NoError(t, f.manager.LoadAll(context.Background()))

	_, ok := f.views.Get("flaky.panel")
	assert.False(t, ok, "partial contributions are cleaned up after a failed activate")
	assert.Nil(t, f.contrib.Snapshot("flaky"))
}

func TestUnloadSwallowsDeactivateErrors(t *testing.T) {
	f := newManagerFixture(t)
	f.addExtension("alpha")
	require.NoError(t, f.manager.LoadAll(context.Background()))
	inst := f.loader.instances["alpha"]
	inst.deactivateErr = errors.New("deactivate exploded")

	f.manager.Unload(context.Background(), "alpha", false)

	assert.True(t, inst.deactivated)
	assert.True(t, inst.closed)
	assert.Empty(t, f.manager.LoadedExtensions())

	// unknown names are a no-op
	f.manager.Unload(context.Background(), "alpha", false)
}

func TestDisableKeepsManifestAndPersists(t *testing.T) {
	f := newManagerFixture(t)
	f.addExtension("alpha")
	f.loader.activations["alpha"] = func(ctx context.Context, d sandbox.Dispatcher) error {
		_, err := d.Dispatch(ctx, "commands.register",
			json.RawMessage(`{"id":"alpha.hello","handler":"on_hello"}`))
		return err
	}
	require.NoError(t, f.manager.LoadAll(context.Background()))

	require.NoError(t, f.manager.Disable(context.Background(), "alpha"))

	infos := f.manager.LoadedExtensions()
	require.Len(t, infos, 1, "disabled extensions stay listed")
	assert.False(t, infos[0].Enabled)
	assert.Equal(t, StateUnloaded, infos[0].State)

	_, err := f.commands.Execute(context.Background(), "alpha.hello", nil)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	disabled, err := settings.DisabledExtensions(f.store)
	require.NoError(t, err)
	assert.True(t, disabled["alpha"])

	_, err = f.manager.API("alpha")
	assert.True(t, errors.Is(err, errors.ErrDisabled))
	_, err = f.manager.API("ghost")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDisableLeavesOtherExtensionsFunctional(t *testing.T) {
	f := newManagerFixture(t)
	f.addExtension("alpha")
	f.addExtension("beta")
	for _, name := range []string{"alpha", "beta"} {
		name := name
		f.loader.activations[name] = func(ctx context.Context, d sandbox.Dispatcher) error {
			_, err := d.Dispatch(ctx, "views.register",
				json.RawMessage(`{"id":"`+name+`.panel","title":"Panel","location":"sidebar"}`))
			if err != nil {
				return err
			}
			_, err = d.Dispatch(ctx, "commands.register",
				json.RawMessage(`{"id":"`+name+`.hello","handler":"on_hello"}`))
			return err
		}
	}
	require.NoError(t, f.manager.LoadAll(context.Background()))

	require.NoError(t, f.manager.Disable(context.Background(), "alpha"))

	_, ok := f.views.Get("alpha.panel")
	assert.False(t, ok)
	_, ok = f.views.Get("beta.panel")
	assert.True(t, ok)

	result, err := f.commands.Execute(context.Background(), "beta.hello", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"ok"`), result)
}

func TestEnableReloadsEverything(t *testing.T) {
	f := newManagerFixture(t)
	f.addExtension("alpha")
	require.NoError(t, settings.SetDisabledExtensions(f.store, map[string]bool{"alpha": true}))

	require.NoError(t, f.manager.LoadAll(context.Background()))
	infos := f.manager.LoadedExtensions()
	require.Len(t, infos, 1)
	require.False(t, infos[0].Enabled)
	require.Nil(t, f.loader.instances["alpha"])

	require.NoError(t, f.manager.Enable(context.Background(), "alpha"))

	infos = f.manager.LoadedExtensions()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Enabled)
	assert.Equal(t, StateActive, infos[0].State)
	require.NotNil(t, f.loader.instances["alpha"])
}

func TestDisableUnknownExtension(t *testing.T) {
	f := newManagerFixture(t)
	err := f.manager.Disable(context.Background(), "ghost")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestManifestVersionGate(t *testing.T) {
	f := newManagerFixture(t)
	raw, _ := json.Marshal(Manifest{Name: "future", Version: "2.0.0", Entry: "main.wasm", LumenVersion: ">= 9.0"})
	f.scan = append(f.scan, scanResult{InstallPath: "/ext/future", Manifest: raw})

	require.NoError(t, f.manager.LoadAll(context.Background()))

	assert.Empty(t, f.manager.LoadedExtensions(), "incompatible manifests are skipped")
	require.Len(t, f.notices, 1)
	assert.Contains(t, f.notices[0], "requires lumen")
}
