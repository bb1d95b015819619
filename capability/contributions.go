package capability

import (
	"github.com/lumen-ide/lumen/contrib"
	"github.com/lumen-ide/lumen/registry"
)

// ViewsAPI registers UI panels attributed to the extension.
type ViewsAPI struct {
	api *API
}

// Register adds a view, tracking its id in the resource handle before
// the global registration.
func (v *ViewsAPI) Register(id, title, location string) {
	v.api.deps.Contrib.RecordView(v.api.extension, id)
	v.api.deps.Views.Register(registry.View{
		ID:        id,
		Title:     title,
		Location:  location,
		Extension: v.api.extension,
	})
}

// StatusBarAPI registers status-bar items attributed to the extension.
type StatusBarAPI struct {
	api *API
}

// RegisterItem adds a status-bar item, tracking its id in the resource
// handle first.
func (s *StatusBarAPI) RegisterItem(item registry.StatusItem) {
	item.Extension = s.api.extension
	s.api.deps.Contrib.RecordStatusItem(s.api.extension, item.ID)
	s.api.deps.StatusBar.Register(item)
}

// UpdateItem replaces an item's text and tooltip.
func (s *StatusBarAPI) UpdateItem(id, text, tooltip string) {
	s.api.deps.StatusBar.Update(id, text, tooltip)
}

// MenusAPI contributes entries to the File menu.
type MenusAPI struct {
	api *API
}

// RegisterFileMenu records a File-menu entry. Entries are sorted by
// order at read time, ties in insertion order.
func (m *MenusAPI) RegisterFileMenu(label, commandID string, order int) {
	m.api.deps.Contrib.RegisterFileMenuEntry(contrib.FileMenuEntry{
		Extension: m.api.extension,
		Label:     label,
		CommandID: commandID,
		Order:     order,
	})
}
