// Package sandbox runs extension code inside per-extension WebAssembly
// instances. Each extension gets its own wazero runtime with a bounded
// linear memory; the only way out of the sandbox is the host_call
// import, which routes JSON-encoded capability calls into the
// extension's scoped API.
//
// Memory protocol: strings cross the boundary as (ptr, len) pairs in
// WASM linear memory. Return values are packed as (ptr << 32) | len in
// a u64.
package sandbox

import (
	"context"
	"encoding/json"
)

// Instance is one loaded extension runtime.
type Instance interface {
	// Activate runs the guest's activate export with the activation
	// payload.
	Activate(ctx context.Context, payload json.RawMessage) error
	// Deactivate runs the guest's deactivate export if present. A guest
	// without one deactivates trivially.
	Deactivate(ctx context.Context) error
	// Invoke calls an arbitrary guest export with JSON in and JSON out.
	// Used for command callbacks and chat handlers the guest registered
	// by export name.
	Invoke(ctx context.Context, export string, args json.RawMessage) (json.RawMessage, error)
	// Close releases the runtime. The instance is unusable afterwards.
	Close(ctx context.Context) error
}

// Dispatcher receives capability calls crossing the sandbox boundary.
// Implemented by the per-extension capability API.
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, args json.RawMessage) (json.RawMessage, error)
}

// Loader turns compiled extension bytes into a live instance wired to
// its capability dispatcher.
type Loader interface {
	Load(ctx context.Context, extension string, code []byte, dispatcher Dispatcher) (Instance, error)
}

// hostRequest is the envelope a guest sends through host_call.
type hostRequest struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

// hostResponse is the envelope handed back to the guest.
type hostResponse struct {
	OK    json.RawMessage `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
}
