package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/Paintersrp/devrun/internal/engine"
	"github.com/Paintersrp/devrun/internal/runtime"
)

// LogRecord represents a structured event ready for JSON encoding.
type LogRecord struct {
	Timestamp time.Time `json:"ts"`
	Project   string    `json:"project"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewLogRecord converts an engine event into a structured log record.
func NewLogRecord(event engine.Event) LogRecord {
	level := event.Level
	if level == "" {
		if inferred := inferLogLevel(event.Message); inferred != "" {
			level = inferred
		} else {
			level = "info"
		}
	}
	source := event.Source
	if source == "" {
		source = runtime.LogSourceSystem
	}
	record := LogRecord{
		Timestamp: event.Timestamp,
		Project:   string(event.Project),
		Name:      event.Name,
		Type:      string(event.Type),
		Level:     level,
		Message:   RedactSecrets(event.Message),
		Source:    source,
		Reason:    event.Reason,
	}
	if event.Type == engine.EventTypeExited {
		code := event.ExitCode
		record.ExitCode = &code
	}
	if event.Err != nil {
		record.Error = RedactSecrets(event.Err.Error())
	}
	return record
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|warning|info)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return "error"
	case "warn", "warning":
		return "warn"
	case "info":
		return "info"
	default:
		return ""
	}
}

// EncodeLogEvent encodes an event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event engine.Event) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}
