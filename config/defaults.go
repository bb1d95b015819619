package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()
	lumenDir := filepath.Join(homeDir, ".lumen")

	// Settings store defaults
	v.SetDefault("database.path", filepath.Join(lumenDir, "lumen.db"))

	// Extension discovery defaults
	v.SetDefault("extensions.builtin_dir", "/usr/share/lumen/extensions")
	v.SetDefault("extensions.user_dir", filepath.Join(lumenDir, "extensions"))

	// Completion model defaults (any OpenAI-compatible endpoint)
	v.SetDefault("model.base_url", "http://localhost:11434")
	v.SetDefault("model.model", "llama3.2:3b")
	v.SetDefault("model.temperature", 0.2)
	v.SetDefault("model.max_tokens", 4096)
	v.SetDefault("model.timeout_seconds", 3600)

	// Sandbox limits
	v.SetDefault("sandbox.memory_pages", 256) // 16 MiB of guest linear memory
	v.SetDefault("sandbox.host_calls_per_second", 200.0)
	v.SetDefault("sandbox.host_call_burst", 50)

	// UI event bridge defaults
	v.SetDefault("server.port", 7420)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:7420"})
}
