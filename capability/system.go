package capability

import (
	"context"
	"encoding/json"

	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/host"
)

// ExecResult is the outcome of a host-side process execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// SystemAPI is the raw escape hatch to host commands.
type SystemAPI struct {
	api *API
}

// Invoke forwards an arbitrary command to the privileged host.
func (s *SystemAPI) Invoke(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	return s.api.deps.Host.Invoke(ctx, command, args)
}

// GetEnv reads one environment variable from the host process.
func (s *SystemAPI) GetEnv(ctx context.Context, name string) (string, error) {
	raw, err := s.api.deps.Host.Invoke(ctx, host.CmdGetEnv, map[string]any{"name": name})
	if err != nil {
		return "", err
	}
	var result struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", errors.Wrap(err, "decoding get_env result")
	}
	return result.Value, nil
}

// Exec runs a command line on the host and returns its output.
func (s *SystemAPI) Exec(ctx context.Context, commandLine string) (ExecResult, error) {
	raw, err := s.api.deps.Host.Invoke(ctx, host.CmdExec, map[string]any{"command": commandLine})
	if err != nil {
		return ExecResult{}, err
	}
	var result ExecResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ExecResult{}, errors.Wrap(err, "decoding exec result")
	}
	return result, nil
}

// Version returns the host application version.
func (s *SystemAPI) Version() string {
	return s.api.deps.Version
}
