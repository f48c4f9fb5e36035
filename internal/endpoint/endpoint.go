// Package endpoint extracts the address a development server bound to from
// lines of its console output.
package endpoint

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/docker/go-connections/nat"
)

var (
	csiPattern  = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")
	osc8Pattern = regexp.MustCompile("\x1b\\]8;;[^\x1b]*\x1b\\\\")

	localURLPattern = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0)(:\d+)(?:/[^\s]*)?`)
	ipv6URLPattern  = regexp.MustCompile(`https?://\[[^\]]+\]:(\d+)(?:/[^\s)]*)?`)
	portPattern     = regexp.MustCompile(`(?i)\bport[:\s]+(\d{3,5})\b`)
)

// conflictMarkers identify port-conflict and retry notices. Lines containing
// them often mention a port the server did not end up using.
var conflictMarkers = []string{"in use", "busy", "unavailable", "trying another"}

// Strip removes CSI escape sequences and OSC-8 hyperlink sequences.
func Strip(line string) string {
	if !strings.ContainsRune(line, '\x1b') {
		return line
	}
	line = csiPattern.ReplaceAllString(line, "")
	return osc8Pattern.ReplaceAllString(line, "")
}

// Detect returns the endpoint implied by line given the currently known
// endpoint. Explicit local URLs always replace current; a bare "port N"
// mention is only used while no endpoint is known.
func Detect(line, current string) string {
	stripped := Strip(line)

	lower := strings.ToLower(stripped)
	for _, marker := range conflictMarkers {
		if strings.Contains(lower, marker) {
			return current
		}
	}

	if match := localURLPattern.FindString(stripped); match != "" {
		match = strings.Replace(match, "0.0.0.0", "localhost", 1)
		match = strings.Replace(match, "127.0.0.1", "localhost", 1)
		return match
	}

	if m := ipv6URLPattern.FindStringSubmatch(stripped); m != nil {
		if port, ok := validPort(m[1]); ok {
			return localhostURL(port)
		}
	}

	if current == "" {
		if m := portPattern.FindStringSubmatch(stripped); m != nil {
			if port, ok := validPort(m[1]); ok {
				return localhostURL(port)
			}
		}
	}

	return current
}

// Port extracts the TCP port from an endpoint URL.
func Port(endpoint string) (int, bool) {
	if endpoint == "" {
		return 0, false
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, false
	}
	return validPort(u.Port())
}

func validPort(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	port, err := nat.ParsePort(raw)
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}

func localhostURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
