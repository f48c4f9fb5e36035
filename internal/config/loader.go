package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/devrun/internal/project"
)

// LookupFunc resolves environment variables.
type LookupFunc func(key string) (string, bool)

// DefaultPath returns ~/.config/devrun/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "devrun", "config.yaml"), nil
}

// Load reads the settings file at path and applies DEVRUN_* overrides from the
// process environment. A missing file yields defaults unless required is set.
func Load(path string, required bool) (*Settings, error) {
	return load(path, required, os.LookupEnv)
}

func load(path string, required bool, lookup LookupFunc) (*Settings, error) {
	settings := &Settings{}
	baseDir := ""
	if path != "" {
		absPath, err := filepath.Abs(project.ExpandHome(path))
		if err != nil {
			return nil, fmt.Errorf("resolve settings path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		switch {
		case errors.Is(err, os.ErrNotExist) && !required:
		case err != nil:
			return nil, fmt.Errorf("open settings file: %w", err)
		default:
			if err := decode(data, settings); err != nil {
				return nil, fmt.Errorf("%s: %w", absPath, err)
			}
			settings.Source = absPath
			baseDir = filepath.Dir(absPath)
		}
	}

	if err := applyEnv(settings, lookup); err != nil {
		return nil, err
	}
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, withSource(settings.Source, err)
	}
	if err := settings.resolveEnv(baseDir); err != nil {
		return nil, withSource(settings.Source, err)
	}
	return settings, nil
}

func withSource(source string, err error) error {
	if source == "" {
		return err
	}
	return fmt.Errorf("%s: %w", source, err)
}

func decode(data []byte, settings *Settings) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		return nil
	}
	if err := validateAgainstSchema(settingsSchema, raw); err != nil {
		return err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(settings); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// applyEnv overlays DEVRUN_* variables on the file contents.
func applyEnv(s *Settings, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	if v, ok := lookup("DEVRUN_PROJECTS"); ok && v != "" {
		s.Projects = v
	}
	if v, ok := lookup("DEVRUN_LOG_LEVEL"); ok && v != "" {
		s.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("DEVRUN_LOG_FILE"); ok {
		s.Log.File = v
	}
	if v, ok := lookup("DEVRUN_API_ADDR"); ok && v != "" {
		s.API.Addr = v
	}
	if v, ok := lookup("DEVRUN_OUTPUT_LINES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse DEVRUN_OUTPUT_LINES: %w", err)
		}
		s.Output.Lines = n
	}
	if v, ok := lookup("DEVRUN_SWEEP_DELAY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse DEVRUN_SWEEP_DELAY: %w", err)
		}
		s.Stop.SweepDelay = Duration{Duration: d, explicit: true}
	}
	if v, ok := lookup("DEVRUN_SHELL"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse DEVRUN_SHELL: %w", err)
		}
		s.Shell.Enabled = enabled
	}
	if v, ok := lookup("DEVRUN_SHELL_PATH"); ok && v != "" {
		s.Shell.Path = v
	}
	if v, ok := lookup("DEVRUN_SHELL_PROFILE"); ok {
		s.Shell.Profile = v
	}
	if v, ok := lookup("DEVRUN_PATHS"); ok && v != "" {
		s.Paths = append(filepath.SplitList(v), s.Paths...)
	}
	return nil
}

// resolveEnv expands ~ in path settings and merges env over envFile.
func (s *Settings) resolveEnv(baseDir string) error {
	if s.Projects != "" {
		s.Projects = project.ExpandHome(os.ExpandEnv(s.Projects))
	}
	if s.Log.File != "" {
		s.Log.File = project.ExpandHome(os.ExpandEnv(s.Log.File))
	}
	if s.Shell.Profile != "" {
		s.Shell.Profile = project.ExpandHome(s.Shell.Profile)
	}
	for i, p := range s.Paths {
		s.Paths[i] = project.ExpandHome(os.ExpandEnv(p))
	}

	merged := make(map[string]string)
	if s.EnvFile != "" {
		expanded := project.ExpandHome(os.ExpandEnv(s.EnvFile))
		if !filepath.IsAbs(expanded) && baseDir != "" {
			expanded = filepath.Clean(filepath.Join(baseDir, expanded))
		}
		s.EnvFile = expanded
		fileEnv, err := loadEnvFile(expanded)
		if err != nil {
			return fmt.Errorf("%s: %w", fieldPath("envFile"), err)
		}
		for k, v := range fileEnv {
			merged[k] = v
		}
	}
	for k, v := range s.Env {
		merged[k] = os.ExpandEnv(v)
	}
	if len(merged) > 0 {
		s.ResolvedEnv = merged
	}
	return nil
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if strings.HasPrefix(raw, "export ") {
			raw = strings.TrimSpace(raw[len("export "):])
		}
		sep := strings.IndexRune(raw, '=')
		if sep <= 0 {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		key := strings.TrimSpace(raw[:sep])
		if !envKeyPattern.MatchString(key) {
			return nil, fmt.Errorf("load env file %q: invalid key on line %d", path, lineNo)
		}
		value := strings.TrimSpace(raw[sep+1:])
		if strings.HasPrefix(value, "\"") {
			if len(value) < 2 || value[len(value)-1] != '"' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		} else if strings.HasPrefix(value, "'") {
			if len(value) < 2 || value[len(value)-1] != '\'' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		} else if comment := strings.IndexRune(value, '#'); comment >= 0 {
			value = strings.TrimSpace(value[:comment])
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
