// Package errors provides error handling for the Lumen extension host.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrHostCall) {
//	    // surface to the extension as a failed async result
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the extension host failure taxonomy.
// Use these with errors.Is() for type-safe error checking and wrap them
// with errors.Wrap() to add context while preserving the class.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrDiscovery indicates host enumeration of installed extensions
	// failed. LoadAll aborts on this class and leaves every extension
	// unloaded, since the new truth is unknown.
	ErrDiscovery = New("extension discovery failed")

	// ErrLoad indicates fetch/compile/activate failed for one extension.
	// Load failures are isolated: they are logged and reported, and never
	// prevent other extensions from loading.
	ErrLoad = New("extension load failed")

	// ErrHostCall indicates a command forwarded to the privileged host
	// process failed. The host layer never interprets or retries these;
	// the extension's own code sees the failed result.
	ErrHostCall = New("host call failed")

	// ErrStreamProtocol indicates a malformed delta payload arrived on a
	// model output channel. These are logged and dropped without
	// terminating the stream.
	ErrStreamProtocol = New("malformed stream payload")

	// ErrToolExecution indicates a tool handler failed during an agent
	// turn. The failure is reported on the response stream and fed back
	// into history as the tool's result.
	ErrToolExecution = New("tool execution failed")

	// ErrDisabled indicates the extension is present but disabled
	ErrDisabled = New("extension disabled")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsHostCallError checks if an error is or wraps ErrHostCall.
func IsHostCallError(err error) bool {
	return err != nil && Is(err, ErrHostCall)
}

// IsLoadError checks if an error is or wraps ErrLoad.
func IsLoadError(err error) bool {
	return err != nil && Is(err, ErrLoad)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewLoadError wraps an extension load failure with the extension name,
// keeping ErrLoad the primary identity for errors.Is checks.
func NewLoadError(err error, name string) error {
	if err == nil {
		return Wrapf(ErrLoad, "extension %s", name)
	}
	return Wrapf(Wrap(ErrLoad, err.Error()), "extension %s", name)
}

// NewHostCallError wraps a failed host command, preserving ErrHostCall.
func NewHostCallError(err error, command string) error {
	if err == nil {
		return Wrapf(ErrHostCall, "command %s", command)
	}
	return Wrapf(Wrap(ErrHostCall, err.Error()), "command %s", command)
}
