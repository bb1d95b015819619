// Package capability builds the scoped API object handed to each
// extension at activation. Every method is attributed to the owning
// extension: named resources are tracked in its resource handle before
// they become globally visible, storage keys are namespaced, and event
// subscriptions are collected so unload can dispose them all.
package capability

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/chat"
	"github.com/lumen-ide/lumen/contrib"
	"github.com/lumen-ide/lumen/host"
	"github.com/lumen-ide/lumen/logger"
	"github.com/lumen-ide/lumen/registry"
	"github.com/lumen-ide/lumen/settings"
)

// Tab describes an editor tab an extension opens.
type Tab struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Component string `json:"component,omitempty"`
	Content   string `json:"content,omitempty"`
}

// UICallbacks are the host shell's editor and window hooks. All fields
// are optional; a nil callback makes the corresponding method a no-op
// (or an empty read).
type UICallbacks struct {
	InsertText   func(text string)
	GetContent   func() string
	GetSelection func() string
	OpenTab      func(tab Tab)
	CloseTab     func(tabID string)
	Notify       func(level, message string)
}

// Deps are the shared collaborators every per-extension API is built
// over.
type Deps struct {
	Host      host.Host
	Contrib   *contrib.Registry
	Commands  *registry.Commands
	Views     *registry.Views
	StatusBar *registry.StatusBar
	Chat      *chat.Registry
	Settings  settings.Store
	UI        UICallbacks
	Version   string
}

// Builder constructs capability APIs scoped to one extension each.
type Builder struct {
	deps Deps
}

// NewBuilder creates a capability API builder.
func NewBuilder(deps Deps) *Builder {
	return &Builder{deps: deps}
}

// Build returns the API object for the named extension.
func (b *Builder) Build(extension string) *API {
	api := &API{
		extension: extension,
		deps:      b.deps,
		log:       logger.Named("capability").With(logger.FieldExtension, extension),
	}
	api.Editor = &EditorAPI{api: api}
	api.Commands = &CommandsAPI{api: api}
	api.Workspace = &WorkspaceAPI{api: api}
	api.Views = &ViewsAPI{api: api}
	api.StatusBar = &StatusBarAPI{api: api}
	api.Menus = &MenusAPI{api: api}
	api.Window = &WindowAPI{api: api}
	api.Chat = &ChatAPI{api: api}
	api.AI = &AIAPI{api: api}
	api.Storage = &StorageAPI{api: api}
	api.System = &SystemAPI{api: api}
	return api
}

// API is the capability surface for one extension.
type API struct {
	extension string
	deps      Deps
	log       *zap.SugaredLogger

	mu        sync.Mutex
	disposers []host.Disposer
	guest     GuestInvoker
	streams   streamTable
	watches   watchTable

	Editor    *EditorAPI
	Commands  *CommandsAPI
	Workspace *WorkspaceAPI
	Views     *ViewsAPI
	StatusBar *StatusBarAPI
	Menus     *MenusAPI
	Window    *WindowAPI
	Chat      *ChatAPI
	AI        *AIAPI
	Storage   *StorageAPI
	System    *SystemAPI
}

// Extension returns the owning extension's name.
func (a *API) Extension() string {
	return a.extension
}

// trackDisposer records a subscription disposer for cleanup at unload.
func (a *API) trackDisposer(d host.Disposer) {
	a.mu.Lock()
	a.disposers = append(a.disposers, d)
	a.mu.Unlock()
}

// DisposeSubscriptions runs and forgets every tracked subscription
// disposer. Called during unload; safe to call repeatedly.
func (a *API) DisposeSubscriptions() {
	a.mu.Lock()
	disposers := a.disposers
	a.disposers = nil
	a.mu.Unlock()

	for _, d := range disposers {
		d()
	}
}
