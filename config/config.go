// Package config loads Lumen host configuration.
//
// Configuration merges, lowest precedence first: built-in defaults, the
// system config (/etc/lumen/config.toml), the user config
// (~/.lumen/config.toml), a project config found by upward search
// (lumen.toml), and LUMEN_* environment variables.
package config

import (
	"os"
	"path/filepath"

	"github.com/lumen-ide/lumen/errors"
)

// DefaultDirPermissions for created config/extension directories
const DefaultDirPermissions = 0o755

// Config is the typed view over the merged configuration sources.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Extensions ExtensionsConfig `mapstructure:"extensions"`
	Model      ModelConfig      `mapstructure:"model"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Server     ServerConfig     `mapstructure:"server"`
}

// DatabaseConfig configures the SQLite settings store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ExtensionsConfig configures extension discovery
type ExtensionsConfig struct {
	// BuiltinDir holds extensions shipped with the IDE
	BuiltinDir string `mapstructure:"builtin_dir"`
	// UserDir holds user-installed extensions
	UserDir string `mapstructure:"user_dir"`
}

// ModelConfig configures the completion model the host drives for llm_chat
type ModelConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	APIKey         string  `mapstructure:"api_key"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// SandboxConfig configures per-extension sandbox limits
type SandboxConfig struct {
	// MemoryPages caps guest linear memory (64KiB pages)
	MemoryPages int `mapstructure:"memory_pages"`
	// HostCallsPerSecond is the per-extension host-call rate limit
	HostCallsPerSecond float64 `mapstructure:"host_calls_per_second"`
	// HostCallBurst is the rate limiter burst size
	HostCallBurst int `mapstructure:"host_call_burst"`
}

// ServerConfig configures the UI event bridge
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// UserDir returns the per-user Lumen directory (~/.lumen), creating it if
// needed.
func UserDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	dir := filepath.Join(homeDir, ".lumen")
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return "", errors.Wrapf(err, "create %s", dir)
	}
	return dir, nil
}
