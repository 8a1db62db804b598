package config

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
)

// Validate performs structural validation of the configuration.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("server.port_start", c.Server.PortStart, portInRange),
		criterio.Run("server.port_end", c.Server.PortEnd, portInRange),
		c.validatePortRange(),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
		c.validateCommandPatterns(),
		c.validateRateLimit(),
	)
}

func (c *Config) validatePortRange() error {
	if c.Server.PortEnd < c.Server.PortStart {
		return criterio.NewFieldErrors("server.port_end",
			fmt.Errorf("port_end %d is below port_start %d", c.Server.PortEnd, c.Server.PortStart))
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	var errs criterio.FieldErrorsBuilder
	if c.Server.RateLimit.RPS < 0 {
		errs = errs.Append("server.rate_limit.rps", fmt.Errorf("must not be negative"))
	}
	if c.Server.RateLimit.Burst < 0 {
		errs = errs.Append("server.rate_limit.burst", fmt.Errorf("must not be negative"))
	}
	return errs.ToError()
}

// validateCommandPatterns checks allow/deny globs compile under doublestar.
func (c *Config) validateCommandPatterns() error {
	var errs criterio.FieldErrorsBuilder
	for i, pattern := range c.Commands.Allow {
		if !doublestar.ValidatePattern(pattern) {
			errs = errs.Append(fmt.Sprintf("commands.allow[%d]", i), fmt.Errorf("invalid glob %q", pattern))
		}
	}
	for i, pattern := range c.Commands.Deny {
		if !doublestar.ValidatePattern(pattern) {
			errs = errs.Append(fmt.Sprintf("commands.deny[%d]", i), fmt.Errorf("invalid glob %q", pattern))
		}
	}
	return errs.ToError()
}

// Exposes reports whether a command name passes the allow/deny filters.
// Deny wins over allow; an empty allow list exposes everything not denied.
func (c *CommandsConfig) Exposes(name string) bool {
	for _, pattern := range c.Deny {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	if len(c.Allow) == 0 {
		return true
	}
	for _, pattern := range c.Allow {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func portInRange(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d outside 1-65535", port)
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}
