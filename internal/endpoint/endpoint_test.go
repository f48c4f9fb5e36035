package endpoint

import "testing"

func feed(current string, lines ...string) string {
	for _, line := range lines {
		current = Detect(line, current)
	}
	return current
}

func TestDetectExplicitURLSupersedesEarlierOne(t *testing.T) {
	got := feed("",
		"Port 3000 in use",
		"Local: http://localhost:3000/",
		"Local: http://localhost:3001/",
	)
	if got != "http://localhost:3001/" {
		t.Fatalf("expected http://localhost:3001/, got %q", got)
	}
}

func TestDetectWeakFallbackOnlyBeforeURL(t *testing.T) {
	got := feed("",
		"listening on port 4000",
		"Local: http://localhost:5000/",
	)
	if got != "http://localhost:5000/" {
		t.Fatalf("expected http://localhost:5000/, got %q", got)
	}

	got = feed("",
		"Local: http://localhost:5000/",
		"forwarding port 8080 to container",
	)
	if got != "http://localhost:5000/" {
		t.Fatalf("bare port mention overrode URL: %q", got)
	}
}

func TestDetectStripsColorEscapes(t *testing.T) {
	line := "  \x1b[32m➜\x1b[39m  \x1b[1mLocal\x1b[22m:   \x1b[36mhttp://localhost:\x1b[1m5173\x1b[22m/\x1b[39m"
	if got := Detect(line, ""); got != "http://localhost:5173/" {
		t.Fatalf("expected http://localhost:5173/, got %q", got)
	}
}

func TestDetectStripsHyperlinks(t *testing.T) {
	line := "ready \x1b]8;;http://localhost:4321/\x1b\\http://localhost:4321/\x1b]8;;\x1b\\"
	if got := Detect(line, ""); got != "http://localhost:4321/" {
		t.Fatalf("expected http://localhost:4321/, got %q", got)
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		current string
		want    string
	}{
		{name: "localhost", line: "Server running at http://localhost:8080", want: "http://localhost:8080"},
		{name: "loopback normalised", line: "http://127.0.0.1:9000/app", want: "http://localhost:9000/app"},
		{name: "wildcard normalised", line: "Listening on https://0.0.0.0:8443", want: "https://localhost:8443"},
		{name: "explicit overwrites", line: "http://localhost:3001", current: "http://localhost:3000", want: "http://localhost:3001"},
		{name: "ipv6", line: "Serving HTTP on :: port 8000 (http://[::]:8000/) ...", want: "http://localhost:8000"},
		{name: "ipv6 overwrites", line: "http://[::1]:8001/", current: "http://localhost:8000", want: "http://localhost:8001"},
		{name: "bare port", line: "Listening on PORT: 4000", want: "http://localhost:4000"},
		{name: "bare port ignored when known", line: "port 4000", current: "http://localhost:3000", want: "http://localhost:3000"},
		{name: "bare port out of range", line: "port 99999", want: ""},
		{name: "bare port too short", line: "port 80", want: ""},
		{name: "port inside a word", line: "Report 500 errors", want: ""},
		{name: "port suffix of a word", line: "passport: 12345", want: ""},
		{name: "port run into digits", line: "port 1234567", want: ""},
		{name: "conflict notice", line: "Port 3000 is busy, trying another one", current: "x", want: "x"},
		{name: "conflict with url", line: "http://localhost:3000 unavailable", want: ""},
		{name: "remote host ignored", line: "see https://example.com:443/docs", want: ""},
		{name: "no url", line: "compiled successfully", current: "http://localhost:1", want: "http://localhost:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.line, tt.current); got != tt.want {
				t.Fatalf("Detect(%q, %q) = %q, want %q", tt.line, tt.current, got, tt.want)
			}
		})
	}
}

func TestPort(t *testing.T) {
	tests := map[string]int{
		"http://localhost:3000/":  3000,
		"https://localhost:8443":  8443,
		"http://localhost:65535/": 65535,
	}
	for input, want := range tests {
		got, ok := Port(input)
		if !ok || got != want {
			t.Fatalf("Port(%q) = %d, %t; want %d", input, got, ok, want)
		}
	}

	for _, input := range []string{"", "http://localhost/", "http://localhost:0", "::not a url"} {
		if port, ok := Port(input); ok {
			t.Fatalf("Port(%q) unexpectedly returned %d", input, port)
		}
	}
}

func TestStripLeavesPlainText(t *testing.T) {
	if got := Strip("plain line"); got != "plain line" {
		t.Fatalf("unexpected strip result %q", got)
	}
	if got := Strip("\x1b[1;31merror\x1b[0m"); got != "error" {
		t.Fatalf("unexpected strip result %q", got)
	}
}
