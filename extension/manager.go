package extension

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/capability"
	"github.com/lumen-ide/lumen/contrib"
	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/host"
	"github.com/lumen-ide/lumen/logger"
	"github.com/lumen-ide/lumen/sandbox"
	"github.com/lumen-ide/lumen/settings"
)

// State is one extension's lifecycle position.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateActive    State = "active"
	StateUnloading State = "unloading"
	StateFailed    State = "failed"
)

// Info is the management-UI view of one known extension. Disabled but
// still-installed extensions appear with Enabled false.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	IsBuiltin   bool   `json:"isBuiltin"`
	State       State  `json:"state"`
}

// Notifier surfaces non-fatal load and lifecycle failures to the user.
type Notifier func(level, message string)

// entry is the manager's record for one known extension name.
type entry struct {
	manifest    Manifest
	installPath string
	isBuiltin   bool
	state       State
	api         *capability.API
	instance    sandbox.Instance
}

// Manager owns the extension lifecycle: discovery through the host,
// sandbox loading, activation, and teardown. All operations run on the
// caller's goroutine; loads are sequential in manifest order so
// load-order side effects stay deterministic.
type Manager struct {
	host     host.Invoker
	store    settings.Store
	builder  *capability.Builder
	loader   sandbox.Loader
	contrib  *contrib.Registry
	notify   Notifier
	version  string
	log      *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

// NewManager creates an extension manager.
func NewManager(h host.Invoker, store settings.Store, builder *capability.Builder, loader sandbox.Loader, contribReg *contrib.Registry, version string, notify Notifier) *Manager {
	if notify == nil {
		notify = func(level, message string) {}
	}
	return &Manager{
		host:    h,
		store:   store,
		builder: builder,
		loader:  loader,
		contrib: contribReg,
		notify:  notify,
		version: version,
		log:     logger.Named("extension.manager"),
		entries: make(map[string]*entry),
	}
}

// scanResult is the host's discovery triple.
type scanResult struct {
	InstallPath string          `json:"installPath"`
	IsBuiltin   bool            `json:"isBuiltin"`
	Manifest    json.RawMessage `json:"manifest"`
}

// LoadAll rediscovers and loads every installed extension. Every
// currently loaded extension is unloaded first; full rescan semantics
// are safer than incremental diffing since extensions can change on
// disk externally. A discovery failure aborts and leaves everything
// unloaded. A single extension's load failure is logged, reported, and
// does not stop the others.
func (m *Manager) LoadAll(ctx context.Context) error {
	start := time.Now()

	disabled, err := settings.DisabledExtensions(m.store)
	if err != nil {
		return errors.Wrap(err, "reading disabled extensions")
	}

	raw, err := m.host.Invoke(ctx, host.CmdExtensionsScan, nil)
	if err != nil {
		m.unloadAll(ctx)
		return errors.Wrap(errors.ErrDiscovery, err.Error())
	}
	var results []scanResult
	if err := json.Unmarshal(raw, &results); err != nil {
		m.unloadAll(ctx)
		return errors.Wrap(errors.ErrDiscovery, err.Error())
	}

	m.unloadAll(ctx)

	loaded := 0
	for _, result := range results {
		manifest, err := ParseManifest(result.Manifest, m.version)
		if err != nil {
			m.log.Warnw("Skipping extension with invalid manifest",
				"path", result.InstallPath, logger.FieldError, err)
			m.notify("warning", "Invalid extension manifest at "+result.InstallPath+": "+err.Error())
			continue
		}

		m.record(manifest, result.InstallPath, result.IsBuiltin)
		if disabled[manifest.Name] {
			m.log.Debugw("Extension disabled, not loading", logger.FieldExtension, manifest.Name)
			continue
		}

		if err := m.load(ctx, manifest.Name); err != nil {
			m.log.Errorw("Extension failed to load",
				logger.FieldExtension, manifest.Name, logger.FieldError, err)
			m.notify("error", "Extension "+manifest.Name+" failed to load: "+err.Error())
			continue
		}
		loaded++
	}

	m.log.Infow("Extensions loaded",
		"loaded", loaded,
		"known", len(m.order),
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return nil
}

// record registers a discovered manifest, preserving discovery order
// for deterministic loading.
func (m *Manager) record(manifest Manifest, installPath string, isBuiltin bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, known := m.entries[manifest.Name]; !known {
		m.order = append(m.order, manifest.Name)
	}
	m.entries[manifest.Name] = &entry{
		manifest:    manifest,
		installPath: installPath,
		isBuiltin:   isBuiltin,
		state:       StateUnloaded,
	}
}

// load fetches the extension's entry code, instantiates its sandbox,
// and runs activate. Partial contributions made before an activation
// failure stay recorded and are cleaned up at unload.
func (m *Manager) load(ctx context.Context, name string) error {
	m.mu.Lock()
	e, known := m.entries[name]
	if !known {
		m.mu.Unlock()
		return errors.NewNotFoundError("extension " + name)
	}
	if e.state == StateActive || e.state == StateLoading {
		m.mu.Unlock()
		return errors.Newf("extension %s is already %s", name, e.state)
	}
	e.state = StateLoading
	manifest := e.manifest
	installPath := e.installPath
	isBuiltin := e.isBuiltin
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		e.state = StateFailed
		m.mu.Unlock()
		return errors.NewLoadError(err, name)
	}

	raw, err := m.host.Invoke(ctx, host.CmdReadEntry, map[string]any{
		"installPath": installPath,
		"entry":       manifest.Entry,
	})
	if err != nil {
		return fail(err)
	}
	var entryFile struct {
		Content []byte `json:"content"`
	}
	if err := json.Unmarshal(raw, &entryFile); err != nil {
		return fail(errors.Wrap(err, "decoding entry file"))
	}

	// handle first, so teardown sees the name even if activate fails
	m.contrib.GetHandle(name)
	api := m.builder.Build(name)

	instance, err := m.loader.Load(ctx, name, entryFile.Content, api)
	if err != nil {
		api.DisposeSubscriptions()
		m.contrib.Teardown(name)
		return fail(err)
	}
	api.SetGuestInvoker(instance.Invoke)

	payload, _ := json.Marshal(map[string]any{"manifest": manifest})
	if err := instance.Activate(ctx, payload); err != nil {
		// contributions made before the failure stay recorded until the
		// unload below cleans them up
		api.DisposeSubscriptions()
		m.contrib.Teardown(name)
		_ = instance.Close(ctx)
		return fail(err)
	}

	m.mu.Lock()
	e.api = api
	e.instance = instance
	e.state = StateActive
	m.mu.Unlock()

	m.log.Infow("Extension activated",
		logger.FieldExtension, name,
		"version", manifest.Version,
		"builtin", isBuiltin,
	)
	return nil
}

// Unload deactivates one extension and removes all of its
// contributions. Deactivation errors are swallowed; shutdown of the
// rest of the system never blocks on a broken extension. keepManifest
// retains the discovery record, used when disabling rather than
// removing.
func (m *Manager) Unload(ctx context.Context, name string, keepManifest bool) {
	m.mu.Lock()
	e, known := m.entries[name]
	if !known {
		m.mu.Unlock()
		return
	}
	e.state = StateUnloading
	api := e.api
	instance := e.instance
	e.api = nil
	e.instance = nil
	m.mu.Unlock()

	if instance != nil {
		if err := instance.Deactivate(ctx); err != nil {
			m.log.Warnw("Extension deactivate failed, continuing unload",
				logger.FieldExtension, name, logger.FieldError, err)
		}
	}
	if api != nil {
		api.DisposeSubscriptions()
	}
	m.contrib.Teardown(name)
	if instance != nil {
		if err := instance.Close(ctx); err != nil {
			m.log.Warnw("Closing extension sandbox",
				logger.FieldExtension, name, logger.FieldError, err)
		}
	}

	m.mu.Lock()
	if keepManifest {
		e.state = StateUnloaded
	} else {
		delete(m.entries, name)
		for i, n := range m.order {
			if n == name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	m.log.Infow("Extension unloaded", logger.FieldExtension, name, "keepManifest", keepManifest)
}

func (m *Manager) unloadAll(ctx context.Context) {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()
	for _, name := range names {
		m.Unload(ctx, name, false)
	}
}

// Enable removes name from the persisted disabled list and fully
// reloads. A full reload is deliberate; correctness over reload cost.
func (m *Manager) Enable(ctx context.Context, name string) error {
	if err := m.setDisabled(name, false); err != nil {
		return err
	}
	return m.LoadAll(ctx)
}

// Disable unloads name keeping its manifest and persists the flag.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.mu.Lock()
	_, known := m.entries[name]
	m.mu.Unlock()
	if !known {
		return errors.NewNotFoundError("extension " + name)
	}

	m.Unload(ctx, name, true)
	if err := m.setDisabled(name, true); err != nil {
		return err
	}
	return nil
}

func (m *Manager) setDisabled(name string, disabled bool) error {
	current, err := settings.DisabledExtensions(m.store)
	if err != nil {
		return errors.Wrap(err, "reading disabled extensions")
	}
	if disabled {
		current[name] = true
	} else {
		delete(current, name)
	}
	if err := settings.SetDisabledExtensions(m.store, current); err != nil {
		return errors.Wrap(err, "persisting disabled extensions")
	}
	return nil
}

// LoadedExtensions returns every known extension, disabled ones
// included, in discovery order.
func (m *Manager) LoadedExtensions() []Info {
	disabled, err := settings.DisabledExtensions(m.store)
	if err != nil {
		m.log.Warnw("Reading disabled extensions for listing", logger.FieldError, err)
		disabled = map[string]bool{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		e := m.entries[name]
		infos = append(infos, Info{
			ID:          name,
			Name:        name,
			Version:     e.manifest.Version,
			Description: e.manifest.Description,
			Enabled:     !disabled[name],
			IsBuiltin:   e.isBuiltin,
			State:       e.state,
		})
	}
	return infos
}

// API returns the live capability API for an active extension, used by
// the serving layer to route UI-originated capability calls.
func (m *Manager) API(name string) (*capability.API, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, known := m.entries[name]
	if !known {
		return nil, errors.NewNotFoundError("active extension " + name)
	}
	if e.api == nil {
		return nil, errors.Wrapf(errors.ErrDisabled, "extension %s is not active", name)
	}
	return e.api, nil
}
