package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/docker/go-connections/nat"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks semantic constraints the schema cannot express.
func (s *Settings) Validate() error {
	if s.Version != DefaultVersion {
		return fmt.Errorf("%s: unsupported version %q", fieldPath("version"), s.Version)
	}
	if s.Output.Lines < 1 {
		return fmt.Errorf("%s: must be positive", fieldPath("output", "lines"))
	}
	if s.Stop.SweepDelay.Duration < 0 {
		return fmt.Errorf("%s: must not be negative", fieldPath("stop", "sweepDelay"))
	}
	if s.Stop.LookupTimeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("stop", "lookupTimeout"))
	}
	if s.Stop.DrainTimeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("stop", "drainTimeout"))
	}
	if s.Probe.Timeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("probe", "timeout"))
	}
	if !logLevels[strings.ToLower(s.Log.Level)] {
		return fmt.Errorf("%s: unknown level %q", fieldPath("log", "level"), s.Log.Level)
	}
	for key := range s.Env {
		if !envKeyPattern.MatchString(key) {
			return fmt.Errorf("%s: invalid variable name %q", fieldPath("env"), key)
		}
	}
	if err := validateAddr(s.API.Addr); err != nil {
		return fmt.Errorf("%s: %w", fieldPath("api", "addr"), err)
	}
	return nil
}

func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return fmt.Errorf("invalid host %q", host)
	}
	if _, err := nat.ParsePort(port); err != nil {
		return fmt.Errorf("invalid port %q: %w", port, err)
	}
	return nil
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}
