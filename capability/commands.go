package capability

import (
	"context"
	"encoding/json"

	"github.com/lumen-ide/lumen/logger"
	"github.com/lumen-ide/lumen/registry"
)

// CommandRegistration is the payload accepted by Register. Callback and
// Handler are aliases; Callback wins when both are set.
type CommandRegistration struct {
	ID       string
	Title    string
	Category string
	Callback registry.CommandHandler
	Handler  registry.CommandHandler
}

// CommandsAPI registers and executes global commands on behalf of one
// extension.
type CommandsAPI struct {
	api *API
}

// Register adds a command attributed to the extension. The command id is
// appended to the resource handle first; handle appends cannot fail, so
// teardown can never miss the id. Re-registering identical fields is a
// silent no-op.
func (c *CommandsAPI) Register(reg CommandRegistration) {
	handler := reg.Callback
	if handler == nil {
		handler = reg.Handler
	}

	c.api.deps.Contrib.RecordCommand(c.api.extension, reg.ID)
	c.api.deps.Commands.Register(registry.Command{
		ID:        reg.ID,
		Title:     reg.Title,
		Extension: c.api.extension,
		Handler:   handler,
	})
	c.api.log.Debugw("Command registered", logger.FieldCommand, reg.ID)
}

// Execute runs a command by id, whichever extension registered it.
func (c *CommandsAPI) Execute(ctx context.Context, id string, args json.RawMessage) (any, error) {
	return c.api.deps.Commands.Execute(ctx, id, args)
}
