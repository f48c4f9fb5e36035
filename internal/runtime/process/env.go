package process

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	stdruntime "runtime"
	"sort"
	"strings"
)

const fallbackPath = "/usr/bin:/bin"

// DefaultToolPaths lists the directories package managers commonly install
// global binaries into. They are prepended to PATH because devrun is often
// started from a desktop launcher or service manager with a minimal PATH.
func DefaultToolPaths(home string) []string {
	paths := []string{
		"/usr/local/bin",
		"/opt/homebrew/bin",
	}
	if home != "" {
		paths = append(paths,
			filepath.Join(home, "Library", "pnpm"),
			filepath.Join(home, ".local", "share", "pnpm"),
			filepath.Join(home, ".deno", "bin"),
			filepath.Join(home, ".bun", "bin"),
		)
	}
	return append(paths, "/usr/bin", "/bin")
}

// EnvOptions controls BuildEnv.
type EnvOptions struct {
	// Home is the user's home directory used for tool paths and PNPM_HOME.
	Home string
	// ExtraPaths are prepended to PATH ahead of DefaultToolPaths.
	ExtraPaths []string
	// Overrides are applied last and win over every computed value.
	Overrides map[string]string
}

// BuildEnv derives a child environment from base (KEY=VALUE pairs). PATH gains
// the configured and default tool directories, colour output is forced and
// NO_COLOR is removed.
func BuildEnv(base []string, opts EnvOptions) []string {
	values := make(map[string]string, len(base)+8)
	order := make([]string, 0, len(base)+8)
	seen := make(map[string]bool, len(base)+8)
	set := func(key, value string) {
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
		values[key] = value
	}

	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		set(key, value)
	}

	current := values["PATH"]
	if current == "" {
		current = fallbackPath
	}
	prefix := append(append([]string(nil), opts.ExtraPaths...), DefaultToolPaths(opts.Home)...)
	set("PATH", strings.Join(append(prefix, current), string(os.PathListSeparator)))

	if _, ok := values["PNPM_HOME"]; !ok && opts.Home != "" {
		set("PNPM_HOME", pnpmHome(opts.Home))
	}
	set("TERM", "xterm-256color")
	set("FORCE_COLOR", "1")
	set("CLICOLOR_FORCE", "1")
	delete(values, "NO_COLOR")

	keys := make([]string, 0, len(opts.Overrides))
	for k := range opts.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set(k, opts.Overrides[k])
	}

	env := make([]string, 0, len(order))
	for _, key := range order {
		value, ok := values[key]
		if !ok {
			continue
		}
		env = append(env, key+"="+value)
	}
	return env
}

// Lookup returns the value of key in env.
func Lookup(env []string, key string) (string, bool) {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):], true
		}
	}
	return "", false
}

func pnpmHome(home string) string {
	if stdruntime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "pnpm")
	}
	return filepath.Join(home, ".local", "share", "pnpm")
}

// lookPath resolves file against the PATH of the child environment rather
// than devrun's own.
func lookPath(file string, env []string) (string, error) {
	if strings.ContainsRune(file, filepath.Separator) {
		return file, nil
	}
	if stdruntime.GOOS == "windows" {
		return exec.LookPath(file)
	}
	pathEnv, _ := Lookup(env, "PATH")
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, file)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode().Perm()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", file, exec.ErrNotFound)
}
