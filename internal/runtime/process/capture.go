package process

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/Paintersrp/devrun/internal/runtime"
)

const readChunkSize = 32 * 1024

// ReadLines reads r until it is exhausted or closed and hands every batch of
// complete, non-empty lines to fn. Whatever a single Read returns is split on
// \n, \r\n and \r; an unterminated tail is carried into the next read and
// flushed when the stream ends. A closed reader is treated like EOF so the
// loop can be detached by closing the pipe.
func ReadLines(r io.Reader, source string, fn runtime.LineFunc) error {
	buf := make([]byte, readChunkSize)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			var lines []string
			pending, lines = splitLines(pending)
			if len(lines) > 0 {
				fn(source, lines)
			}
		}
		if err != nil {
			if tail := decodeLine(pending); tail != "" {
				fn(source, []string{tail})
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// splitLines extracts complete lines from data and returns the unterminated
// remainder, reusing data's storage.
func splitLines(data []byte) ([]byte, []string) {
	var lines []string
	start := 0
	for i, b := range data {
		if b != '\n' && b != '\r' {
			continue
		}
		if line := decodeLine(data[start:i]); line != "" {
			lines = append(lines, line)
		}
		start = i + 1
	}
	n := copy(data, data[start:])
	return data[:n], lines
}

func decodeLine(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return strings.ToValidUTF8(string(b), "�")
}
