package project

import (
	"fmt"
	"os"
	"strings"
)

// DetectType classifies dir by the files at its top level. The first matching
// rule wins: Xcode project or workspace, Swift package, Deno config, Bun
// marker, package.json, any HTML file.
func DetectType(dir string) (Type, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return TypeUnsupported, fmt.Errorf("read project directory: %w", err)
	}
	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	hasSuffix := func(suffixes ...string) bool {
		for name := range names {
			for _, suffix := range suffixes {
				if strings.HasSuffix(name, suffix) {
					return true
				}
			}
		}
		return false
	}
	hasAny := func(files ...string) bool {
		for _, f := range files {
			if names[f] {
				return true
			}
		}
		return false
	}

	switch {
	case hasSuffix(".xcodeproj", ".xcworkspace"):
		return TypeXcode, nil
	case hasAny("Package.swift"):
		return TypeSwift, nil
	case hasAny("deno.json", "deno.jsonc"):
		return TypeDeno, nil
	case hasAny("bunfig.toml", "bun.lockb", "bun.lock"):
		return TypeBun, nil
	case hasAny("package.json"):
		return TypeNode, nil
	case hasSuffix(".html"):
		return TypeWeb, nil
	}
	return TypeUnsupported, nil
}
