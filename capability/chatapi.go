package capability

import (
	"github.com/lumen-ide/lumen/chat"
	"github.com/lumen-ide/lumen/logger"
)

// ChatAPI registers chat participants attributed to the extension.
type ChatAPI struct {
	api *API
}

// RegisterChatParticipant adds a participant to the global registry,
// overwriting any existing one with the same id.
func (c *ChatAPI) RegisterChatParticipant(p chat.Participant) {
	p.Extension = c.api.extension
	c.api.deps.Chat.Register(p)
	c.api.log.Infow("Chat participant registered", logger.FieldParticipant, p.ID)
}

// UnregisterChatParticipant removes a participant by id.
func (c *ChatAPI) UnregisterChatParticipant(id string) {
	c.api.deps.Chat.Unregister(id)
}
