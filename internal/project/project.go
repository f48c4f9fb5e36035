package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ID identifies a registered project. All per-project supervisor state is
// keyed by it.
type ID string

// Short returns the first eight characters of the identifier.
func (id ID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// Type classifies a project directory by the toolchain that runs it.
type Type string

const (
	TypeNode        Type = "node"
	TypeDeno        Type = "deno"
	TypeBun         Type = "bun"
	TypeSwift       Type = "swift"
	TypeXcode       Type = "xcode"
	TypeWeb         Type = "web"
	TypeUnsupported Type = "unsupported"
)

var typeLabels = map[Type]string{
	TypeNode:  "Node.js",
	TypeDeno:  "Deno",
	TypeBun:   "Bun",
	TypeSwift: "Swift Package",
	TypeXcode: "Xcode Project",
	TypeWeb:   "Web",
}

// Label returns the human readable name of the type.
func (t Type) Label() string {
	if label, ok := typeLabels[t]; ok {
		return label
	}
	return string(t)
}

// ParseType validates a type name as stored in the projects file.
func ParseType(value string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := typeLabels[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, value)
	}
	return t, nil
}

// Project is a registered project directory.
type Project struct {
	ID    ID        `yaml:"id" json:"id"`
	Name  string    `yaml:"name" json:"name"`
	Path  string    `yaml:"path" json:"path"`
	Type  Type      `yaml:"type" json:"type"`
	Added time.Time `yaml:"added,omitempty" json:"added,omitempty"`
}

// Dir returns the absolute project directory with a leading ~ expanded.
func (p Project) Dir() string {
	return ExpandHome(p.Path)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// CollapseHome rewrites paths below home to start with ~.
func CollapseHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	rel, err := filepath.Rel(home, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return "~/" + filepath.ToSlash(rel)
}
