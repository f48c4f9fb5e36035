package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Settings mirrors the config.yaml document structure.
type Settings struct {
	Version  string            `yaml:"version"`
	Projects string            `yaml:"projects"`
	Paths    []string          `yaml:"paths"`
	Env      map[string]string `yaml:"env"`
	EnvFile  string            `yaml:"envFile"`
	Output   OutputSettings    `yaml:"output"`
	Stop     StopSettings      `yaml:"stop"`
	Shell    ShellSettings     `yaml:"shell"`
	API      APISettings       `yaml:"api"`
	Log      LogSettings       `yaml:"log"`
	Probe    ProbeSettings     `yaml:"probe"`

	// ResolvedEnv is Env merged over the contents of EnvFile.
	ResolvedEnv map[string]string `yaml:"-"`
	// Source is the file the settings were read from, empty for defaults.
	Source string `yaml:"-"`
}

// OutputSettings controls per-project output retention.
type OutputSettings struct {
	Lines int `yaml:"lines"`
}

// StopSettings tunes the kill cascade.
type StopSettings struct {
	SweepDelay    Duration `yaml:"sweepDelay"`
	LookupTimeout Duration `yaml:"lookupTimeout"`
	DrainTimeout  Duration `yaml:"drainTimeout"`
}

// ShellSettings opts into running commands through a login shell.
type ShellSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Profile string `yaml:"profile"`
}

// APISettings configures the HTTP control API.
type APISettings struct {
	Addr string `yaml:"addr"`
}

// LogSettings configures devrun's own diagnostics.
type LogSettings struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ProbeSettings configures endpoint reachability checks.
type ProbeSettings struct {
	Timeout Duration `yaml:"timeout"`
}

const (
	DefaultVersion       = "1"
	DefaultOutputLines   = 1000
	DefaultSweepDelay    = time.Second
	DefaultLookupTimeout = 3 * time.Second
	DefaultDrainTimeout  = 500 * time.Millisecond
	DefaultShell         = "/bin/zsh"
	DefaultShellProfile  = "~/.zshrc"
	DefaultAPIAddr       = "127.0.0.1:7664"
	DefaultLogLevel      = "warn"
	DefaultProbeTimeout  = 2 * time.Second
)

// Defaults returns settings with every default applied.
func Defaults() *Settings {
	s := &Settings{}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills unset fields.
func (s *Settings) ApplyDefaults() {
	if s.Version == "" {
		s.Version = DefaultVersion
	}
	if s.Output.Lines == 0 {
		s.Output.Lines = DefaultOutputLines
	}
	if !s.Stop.SweepDelay.IsSet() {
		s.Stop.SweepDelay.Duration = DefaultSweepDelay
	}
	if s.Stop.LookupTimeout.Duration == 0 {
		s.Stop.LookupTimeout.Duration = DefaultLookupTimeout
	}
	if s.Stop.DrainTimeout.Duration == 0 {
		s.Stop.DrainTimeout.Duration = DefaultDrainTimeout
	}
	if s.Shell.Path == "" {
		s.Shell.Path = DefaultShell
	}
	if s.Shell.Profile == "" && s.Shell.Path == DefaultShell {
		s.Shell.Profile = DefaultShellProfile
	}
	if s.API.Addr == "" {
		s.API.Addr = DefaultAPIAddr
	}
	if s.Log.Level == "" {
		s.Log.Level = DefaultLogLevel
	}
	if s.Probe.Timeout.Duration == 0 {
		s.Probe.Timeout.Duration = DefaultProbeTimeout
	}
}
