// Package contrib tracks every resource an extension contributes while it
// is loaded: views, status-bar items, commands, opened tabs, and file-menu
// entries.
//
// The registry is the single source of truth for "what did extension X
// add, and how do I remove all of it". Teardown undoes the whole handle
// atomically and is safe to call any number of times.
package contrib

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ResourceHandle records the identifiers one extension has contributed,
// in registration order. It is mutated only through Registry methods
// invoked by that extension's own capability API, and read at teardown.
type ResourceHandle struct {
	Views       []string
	StatusItems []string
	Commands    []string
	OpenedTabs  []string
}

// Collaborators are the teardown effectors: unregister functions for the
// global feature registries plus the host shell's tab closer. They are
// injected so the contribution registry stays free of upward
// dependencies.
type Collaborators struct {
	UnregisterView       func(id string)
	UnregisterStatusItem func(id string)
	UnregisterCommand    func(id string)
	CloseTab             func(id string)
}

// FileMenuEntry is an extension-contributed entry in the File menu.
type FileMenuEntry struct {
	Extension string `json:"extension"`
	Label     string `json:"label"`
	CommandID string `json:"commandId"`
	Order     int    `json:"order"`

	// seq preserves insertion order for stable sorting
	seq int
}

// Registry owns all resource handles and file-menu entries.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*ResourceHandle
	menus   []FileMenuEntry
	nextSeq int
	collab  Collaborators
	logger  *zap.SugaredLogger
}

// NewRegistry creates a contribution registry with the given teardown
// collaborators. Nil collaborator functions are tolerated and skipped.
func NewRegistry(collab Collaborators, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		handles: make(map[string]*ResourceHandle),
		collab:  collab,
		logger:  logger,
	}
}

// GetHandle returns the existing handle for name, creating an empty one
// if needed. Idempotent, never fails.
func (r *Registry) GetHandle(name string) *ResourceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handleLocked(name)
}

func (r *Registry) handleLocked(name string) *ResourceHandle {
	handle, ok := r.handles[name]
	if !ok {
		handle = &ResourceHandle{}
		r.handles[name] = handle
	}
	return handle
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// RecordView appends a view id to the extension's handle. The append
// happens before the global registration so teardown can never miss a
// resource.
func (r *Registry) RecordView(name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle := r.handleLocked(name)
	handle.Views = appendUnique(handle.Views, id)
}

// RecordStatusItem appends a status-bar item id to the extension's handle.
func (r *Registry) RecordStatusItem(name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle := r.handleLocked(name)
	handle.StatusItems = appendUnique(handle.StatusItems, id)
}

// RecordCommand appends a command id to the extension's handle.
func (r *Registry) RecordCommand(name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle := r.handleLocked(name)
	handle.Commands = appendUnique(handle.Commands, id)
}

// RecordOpenedTab appends tabID to the extension's opened tabs if not
// already present.
func (r *Registry) RecordOpenedTab(name, tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle := r.handleLocked(name)
	handle.OpenedTabs = appendUnique(handle.OpenedTabs, tabID)
}

// Teardown unregisters every view, status-bar item, and command the
// extension contributed, closes every tracked tab, removes its file-menu
// entries, and deletes the handle. Calling it twice, or with an unknown
// name, is a no-op.
func (r *Registry) Teardown(name string) {
	r.mu.Lock()
	handle, ok := r.handles[name]
	if ok {
		delete(r.handles, name)
	}

	kept := r.menus[:0]
	for _, entry := range r.menus {
		if entry.Extension != name {
			kept = append(kept, entry)
		}
	}
	r.menus = kept
	r.mu.Unlock()

	if !ok {
		return
	}

	for _, id := range handle.Views {
		if r.collab.UnregisterView != nil {
			r.collab.UnregisterView(id)
		}
	}
	for _, id := range handle.StatusItems {
		if r.collab.UnregisterStatusItem != nil {
			r.collab.UnregisterStatusItem(id)
		}
	}
	for _, id := range handle.Commands {
		if r.collab.UnregisterCommand != nil {
			r.collab.UnregisterCommand(id)
		}
	}
	for _, id := range handle.OpenedTabs {
		if r.collab.CloseTab != nil {
			r.collab.CloseTab(id)
		}
	}

	r.logger.Infow("Extension contributions removed",
		"extension", name,
		"contributions", len(handle.Views)+len(handle.StatusItems)+len(handle.Commands)+len(handle.OpenedTabs),
	)
}

// RegisterFileMenuEntry records a menu entry attributed to its owning
// extension.
func (r *Registry) RegisterFileMenuEntry(entry FileMenuEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.seq = r.nextSeq
	r.nextSeq++
	r.menus = append(r.menus, entry)
}

// ListFileMenuEntries returns all entries sorted ascending by order, ties
// broken by insertion order, so menu layout is deterministic.
func (r *Registry) ListFileMenuEntries() []FileMenuEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]FileMenuEntry, len(r.menus))
	copy(entries, r.menus)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Order != entries[j].Order {
			return entries[i].Order < entries[j].Order
		}
		return entries[i].seq < entries[j].seq
	})
	return entries
}

// Snapshot returns a copy of the extension's handle, or nil when no
// handle exists. Used by queries and tests; mutation goes through the
// Record methods.
func (r *Registry) Snapshot(name string) *ResourceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle, ok := r.handles[name]
	if !ok {
		return nil
	}
	copied := &ResourceHandle{
		Views:       append([]string(nil), handle.Views...),
		StatusItems: append([]string(nil), handle.StatusItems...),
		Commands:    append([]string(nil), handle.Commands...),
		OpenedTabs:  append([]string(nil), handle.OpenedTabs...),
	}
	return copied
}
