package registry

import (
	"sync"
)

// StatusItem is a registered status-bar entry.
type StatusItem struct {
	ID        string
	Text      string
	Tooltip   string
	CommandID string
	Alignment string
	Priority  int
	Extension string
}

// StatusBar is the global status-bar item registry.
type StatusBar struct {
	mu     sync.RWMutex
	items  map[string]StatusItem
	notify notifier
}

// NewStatusBar creates an empty status-bar registry.
func NewStatusBar() *StatusBar {
	return &StatusBar{items: make(map[string]StatusItem)}
}

// Subscribe registers fn to run after every registry change.
func (s *StatusBar) Subscribe(fn func()) func() {
	return s.notify.subscribe(fn)
}

// Register adds or replaces a status-bar item.
func (s *StatusBar) Register(item StatusItem) {
	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()
	s.notify.fire()
}

// Update replaces the text and tooltip of an existing item. Unknown ids
// are ignored.
func (s *StatusBar) Update(id, text, tooltip string) {
	s.mu.Lock()
	item, exists := s.items[id]
	if exists {
		item.Text = text
		item.Tooltip = tooltip
		s.items[id] = item
	}
	s.mu.Unlock()

	if exists {
		s.notify.fire()
	}
}

// Unregister removes an item by id. Unknown ids are ignored.
func (s *StatusBar) Unregister(id string) {
	s.mu.Lock()
	_, exists := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()

	if exists {
		s.notify.fire()
	}
}

// Get returns the item registered under id.
func (s *StatusBar) Get(id string) (StatusItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, exists := s.items[id]
	return item, exists
}

// List returns all registered items in unspecified order.
func (s *StatusBar) List() []StatusItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StatusItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out
}
