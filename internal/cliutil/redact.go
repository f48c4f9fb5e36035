package cliutil

import (
	"regexp"
	"sort"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)
	// Matches KEY=value assignments whose key names a credential, such as
	// NPM_TOKEN=... or DATABASE_PASSWORD: "...".
	secretAssignPattern = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:` + strings.Join(secretMarkers, "|") + `)[A-Z0-9_]*)(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
)

var secretMarkers = []string{
	"TOKEN",
	"SECRET",
	"PASSWORD",
	"PASSWD",
	"API_KEY",
	"ACCESS_KEY",
	"PRIVATE_KEY",
	"CREDENTIAL",
}

// IsSecretKey reports whether an environment variable name looks like it
// holds a credential.
func IsSecretKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range secretMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// RedactSecrets masks ${VAR} template references and credential assignments
// in the supplied string.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	redacted := templateVarPattern.ReplaceAllStringFunc(message, func(match string) string {
		return "${" + redactedPlaceholder + "}"
	})
	return secretAssignPattern.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
}

// RedactEnv returns the environment as sorted KEY=value pairs with credential
// values masked.
func RedactEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v := env[k]
		if IsSecretKey(k) {
			v = redactedPlaceholder
		}
		out = append(out, k+"="+v)
	}
	return out
}
