// Package chat defines chat participants and the response stream they
// write to. Participants are addressed with an @-mention in the chat
// input and handle requests asynchronously through a ResponseStream.
package chat

import "context"

// Message is one prior turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat turn routed to a participant.
type Request struct {
	Prompt  string    `json:"prompt"`
	History []Message `json:"history,omitempty"`
	TabID   string    `json:"tabId,omitempty"`
}

// ToolCall reports one tool invocation made while answering a request.
// Status moves through "calling" and then "success" or "error".
type ToolCall struct {
	Name   string `json:"name"`
	Args   string `json:"args,omitempty"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// ResponseStream receives a participant's incremental answer. Exactly
// one of Error or Done terminates the stream; after either, all further
// calls are ignored by conforming implementations.
type ResponseStream interface {
	// Status reports a coarse phase such as "thinking" or "streaming".
	Status(status string)
	// Markdown appends a fragment of rendered answer text.
	Markdown(fragment string)
	// ToolCall reports a completed tool invocation.
	ToolCall(call ToolCall)
	// Error terminates the stream with a failure.
	Error(err error)
	// Done terminates the stream successfully.
	Done()
}

// Handler answers one chat request, writing to stream until it calls
// Error or Done.
type Handler func(ctx context.Context, req Request, stream ResponseStream) error

// Participant is a named chat agent registered by an extension.
type Participant struct {
	// ID is the @-mention name, unique across the registry.
	ID          string
	DisplayName string
	Description string
	Extension   string
	Handler     Handler
}
