package config

import (
	"github.com/lumen-ide/lumen/errors"
)

// Validate checks the configuration for values that cannot work at runtime.
// It is called once after Load; individual components trust the config after
// that point.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}
	if c.Extensions.UserDir == "" {
		return errors.New("extensions.user_dir must not be empty")
	}
	if c.Sandbox.MemoryPages <= 0 {
		return errors.Newf("sandbox.memory_pages must be positive, got %d", c.Sandbox.MemoryPages)
	}
	if c.Sandbox.HostCallsPerSecond <= 0 {
		return errors.Newf("sandbox.host_calls_per_second must be positive, got %f", c.Sandbox.HostCallsPerSecond)
	}
	if c.Sandbox.HostCallBurst <= 0 {
		return errors.Newf("sandbox.host_call_burst must be positive, got %d", c.Sandbox.HostCallBurst)
	}
	if c.Model.TimeoutSeconds <= 0 {
		return errors.Newf("model.timeout_seconds must be positive, got %d", c.Model.TimeoutSeconds)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	return nil
}
