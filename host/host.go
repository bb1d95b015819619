// Package host defines the boundary between the extension host and the
// privileged host process.
//
// The extension host reaches privileged functionality only through
// [Invoker.Invoke]: file I/O, directory listing, process execution,
// environment access, settings persistence, extension enumeration, and
// driving a model completion stream. Events flow back through
// [Listener.Listen] subscriptions.
//
// The in-process [Local] implementation backs the CLI and tests; a real
// deployment can substitute an out-of-process implementation without the
// rest of the host noticing.
package host

import (
	"context"
	"encoding/json"
)

// Host command names. These are the complete privileged surface; anything
// not listed here is unreachable from extension code.
const (
	CmdReadFile      = "read_file"
	CmdWriteFile     = "write_file"
	CmdStat          = "stat"
	CmdReadDirectory = "read_directory"
	CmdFindFiles     = "find_files"
	CmdWatchPath     = "watch_path"
	CmdUnwatchPath   = "unwatch_path"

	CmdExec       = "exec"
	CmdGetEnv     = "get_env"
	CmdSystemInfo = "system_info"

	CmdSettingsGet = "settings_get"
	CmdSettingsSet = "settings_set"

	CmdExtensionsScan = "extensions_scan"
	CmdReadEntry      = "read_entry"

	CmdLLMChat = "llm_chat"

	CmdNotify = "notify"
)

// Disposer tears down an event subscription. Calling it more than once is
// a no-op.
type Disposer func()

// Invoker issues commands to the privileged host process.
//
// Invoke returns the command's JSON result, or an error wrapping
// errors.ErrHostCall. The host layer never interprets or retries
// failures; they surface to the caller as-is.
type Invoker interface {
	Invoke(ctx context.Context, command string, args map[string]any) (json.RawMessage, error)
}

// Listener subscribes to host event topics: filesystem change
// notifications, document lifecycle events, window state, and the
// per-request push channels used for model output.
type Listener interface {
	Listen(ctx context.Context, topic string, handler func(payload json.RawMessage)) (Disposer, error)
}

// Host is the full boundary a capability API builder needs.
type Host interface {
	Invoker
	Listener
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, command string, args map[string]any) (json.RawMessage, error)

func (f InvokerFunc) Invoke(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	return f(ctx, command, args)
}
