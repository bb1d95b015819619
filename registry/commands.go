// Package registry holds the global, extension-agnostic feature
// registries: commands, views, and status-bar items. Each registry
// supports change subscriptions so UI surfaces can re-render when
// extensions come and go.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/logger"
)

// CommandHandler executes a registered command with raw JSON arguments.
type CommandHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Command is a globally registered, executable command.
type Command struct {
	ID        string
	Title     string
	Extension string
	Handler   CommandHandler
}

// Commands is the global command registry. Re-registering an identical
// command is a silent no-op; registering a conflicting id overwrites with
// a warning.
type Commands struct {
	mu       sync.RWMutex
	commands map[string]Command
	notify   notifier
	logger   *zap.SugaredLogger
}

// NewCommands creates an empty command registry.
func NewCommands() *Commands {
	return &Commands{
		commands: make(map[string]Command),
		logger:   logger.Named("registry.commands"),
	}
}

// Subscribe registers fn to run after every observable registry change.
// Returns an unsubscribe function.
func (c *Commands) Subscribe(fn func()) func() {
	return c.notify.subscribe(fn)
}

// Register adds or replaces a command. When the id is already held with
// the same title and extension the call changes nothing and subscribers
// are not notified. A conflicting id is overwritten last-write-wins.
func (c *Commands) Register(cmd Command) {
	c.mu.Lock()
	existing, exists := c.commands[cmd.ID]
	if exists && existing.Title == cmd.Title && existing.Extension == cmd.Extension {
		c.mu.Unlock()
		return
	}
	c.commands[cmd.ID] = cmd
	c.mu.Unlock()

	if exists {
		c.logger.Warnw("Command overwritten",
			logger.FieldCommand, cmd.ID,
			"previous", existing.Extension,
			logger.FieldExtension, cmd.Extension,
		)
	}
	c.notify.fire()
}

// Unregister removes a command by id. Unknown ids are ignored without
// notification.
func (c *Commands) Unregister(id string) {
	c.mu.Lock()
	_, exists := c.commands[id]
	if exists {
		delete(c.commands, id)
	}
	c.mu.Unlock()

	if exists {
		c.notify.fire()
	}
}

// Execute runs the command registered under id.
func (c *Commands) Execute(ctx context.Context, id string, args json.RawMessage) (any, error) {
	c.mu.RLock()
	cmd, exists := c.commands[id]
	c.mu.RUnlock()

	if !exists {
		return nil, errors.Wrapf(errors.ErrNotFound, "command %s is not registered", id)
	}
	if cmd.Handler == nil {
		return nil, errors.Newf("command %s has no handler", id)
	}
	return cmd.Handler(ctx, args)
}

// Get returns the command registered under id.
func (c *Commands) Get(id string) (Command, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cmd, exists := c.commands[id]
	return cmd, exists
}

// List returns all registered commands in unspecified order.
func (c *Commands) List() []Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Command, 0, len(c.commands))
	for _, cmd := range c.commands {
		out = append(out, cmd)
	}
	return out
}
