package project

import (
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// Resolver maps a project type and directory to the command that starts its
// development server.
type Resolver interface {
	Resolve(t Type, dir string) (string, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(t Type, dir string) (string, bool)

// Resolve calls f.
func (f ResolverFunc) Resolve(t Type, dir string) (string, bool) {
	return f(t, dir)
}

// ManifestResolver derives run commands from package manifests and lockfiles.
type ManifestResolver struct{}

var _ Resolver = ManifestResolver{}

// Resolve implements Resolver.
func (ManifestResolver) Resolve(t Type, dir string) (string, bool) {
	switch t {
	case TypeNode:
		return nodeCommand(dir), true
	case TypeDeno:
		return denoCommand(dir)
	case TypeBun:
		if scripts, ok := readManifest(dir, "package.json", "scripts"); ok && scripts.Get("dev").Exists() {
			return "bun run dev", true
		}
		return "bun start", true
	case TypeSwift:
		return "swift run", true
	case TypeXcode:
		return "swift build", true
	case TypeWeb:
		return "python3 -u -m http.server 8000", true
	}
	return "", false
}

// PackageManager picks the Node package manager from the lockfile present in
// dir, defaulting to npm.
func PackageManager(dir string) string {
	switch {
	case fileExists(dir, "pnpm-lock.yaml"):
		return "pnpm"
	case fileExists(dir, "yarn.lock"):
		return "yarn"
	case fileExists(dir, "bun.lockb"), fileExists(dir, "bun.lock"):
		return "bun"
	}
	return "npm"
}

func nodeCommand(dir string) string {
	pm := PackageManager(dir)
	if scripts, ok := readManifest(dir, "package.json", "scripts"); ok && scripts.Get("dev").Exists() {
		return pm + " run dev"
	}
	if pm == "npm" {
		return "npm start"
	}
	return pm + " run start"
}

func denoCommand(dir string) (string, bool) {
	tasks, ok := readManifest(dir, "deno.json", "tasks")
	if !ok {
		tasks, ok = readManifest(dir, "deno.jsonc", "tasks")
	}
	if ok {
		if tasks.Get("dev").Exists() {
			return "deno task dev", true
		}
		if tasks.Get("start").Exists() {
			return "deno task start", true
		}
	}
	for _, entry := range []string{"main.ts", "mod.ts"} {
		if fileExists(dir, entry) {
			return "deno run --allow-all " + entry, true
		}
	}
	return "", false
}

// readManifest loads a JSON manifest and returns the object at key. JSONC
// comments are not stripped; a manifest gjson cannot parse yields false.
func readManifest(dir, name, key string) (gjson.Result, bool) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil || !gjson.ValidBytes(data) {
		return gjson.Result{}, false
	}
	result := gjson.GetBytes(data, key)
	if !result.IsObject() {
		return gjson.Result{}, false
	}
	return result, true
}

func fileExists(dir, name string) bool {
	info, err := os.Stat(filepath.Join(dir, name))
	return err == nil && !info.IsDir()
}
