package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/logger"
)

// View is a registered UI panel contributed by an extension.
type View struct {
	ID        string
	Title     string
	Location  string
	Extension string
}

// Views is the global view registry.
type Views struct {
	mu     sync.RWMutex
	views  map[string]View
	notify notifier
	logger *zap.SugaredLogger
}

// NewViews creates an empty view registry.
func NewViews() *Views {
	return &Views{
		views:  make(map[string]View),
		logger: logger.Named("registry.views"),
	}
}

// Subscribe registers fn to run after every registry change.
func (v *Views) Subscribe(fn func()) func() {
	return v.notify.subscribe(fn)
}

// Register adds or replaces a view, warning on id conflicts.
func (v *Views) Register(view View) {
	v.mu.Lock()
	existing, exists := v.views[view.ID]
	v.views[view.ID] = view
	v.mu.Unlock()

	if exists && existing.Extension != view.Extension {
		v.logger.Warnw("View overwritten",
			"view", view.ID,
			"previous", existing.Extension,
			logger.FieldExtension, view.Extension,
		)
	}
	v.notify.fire()
}

// Unregister removes a view by id. Unknown ids are ignored.
func (v *Views) Unregister(id string) {
	v.mu.Lock()
	_, exists := v.views[id]
	delete(v.views, id)
	v.mu.Unlock()

	if exists {
		v.notify.fire()
	}
}

// Get returns the view registered under id.
func (v *Views) Get(id string) (View, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	view, exists := v.views[id]
	return view, exists
}

// List returns all registered views in unspecified order.
func (v *Views) List() []View {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]View, 0, len(v.views))
	for _, view := range v.views {
		out = append(out, view)
	}
	return out
}
