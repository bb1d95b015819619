package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/lumen-ide/lumen/host"
	"github.com/lumen-ide/lumen/logger"
)

// OutputChannel collects an extension's log-style output under a stable
// channel id.
type OutputChannel struct {
	ID   string
	Name string

	mu    sync.Mutex
	lines []string
	api   *API
}

// Append adds a line to the channel and mirrors it to the host log.
func (c *OutputChannel) Append(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
	c.api.log.Debugw("Output", "channel", c.Name, "line", line)
}

// Lines returns a copy of everything appended so far.
func (c *OutputChannel) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// Clear discards the channel's contents.
func (c *OutputChannel) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

// WindowAPI opens tabs and surfaces notifications through the host
// shell.
type WindowAPI struct {
	api *API
}

// OpenTab opens an editor tab and returns its id. The tab is recorded
// against the extension's resource handle before the shell callback
// runs, so an immediate unload still closes it.
func (w *WindowAPI) OpenTab(tab Tab) string {
	if tab.ID == "" {
		tab.ID = uuid.NewString()
	}
	w.api.deps.Contrib.RecordOpenedTab(w.api.extension, tab.ID)
	if w.api.deps.UI.OpenTab != nil {
		w.api.deps.UI.OpenTab(tab)
	}
	w.api.log.Debugw("Tab opened", logger.FieldTab, tab.ID)
	return tab.ID
}

// CloseTab closes a tab by id through the shell callback.
func (w *WindowAPI) CloseTab(tabID string) {
	if w.api.deps.UI.CloseTab != nil {
		w.api.deps.UI.CloseTab(tabID)
	}
}

// ShowNotification surfaces a transient message to the user. Falls back
// to the host's notification broadcast when no shell callback is wired.
func (w *WindowAPI) ShowNotification(ctx context.Context, level, message string) {
	if w.api.deps.UI.Notify != nil {
		w.api.deps.UI.Notify(level, message)
		return
	}
	_, _ = w.api.deps.Host.Invoke(ctx, host.CmdNotify, map[string]any{
		"level":   level,
		"message": message,
	})
}

// CreateOutputChannel creates a named output channel with a short
// base58 id.
func (w *WindowAPI) CreateOutputChannel(name string) *OutputChannel {
	id := uuid.New()
	return &OutputChannel{
		ID:   fmt.Sprintf("out_%s", base58.Encode(id[:8])),
		Name: name,
		api:  w.api,
	}
}
