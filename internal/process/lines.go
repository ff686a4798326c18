package process

import (
	"bytes"
	"strings"
	"sync"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
)

const maxLineLength = 64 * 1024

type stream int

const (
	streamStdout stream = iota
	streamStderr
)

// lineWriter splits a byte stream into lines and hands each one to emit.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(line string)
}

func newLineWriter(emit func(line string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineLength {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Close flushes a trailing line without newline.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(strings.TrimRight(string(w.buf), "\r"))
		w.buf = nil
	}
	return nil
}

// classify picks a severity for a line of subprocess output.
func classify(s stream, line string) deploy.Severity {
	l := strings.ToLower(line)
	switch {
	case strings.Contains(l, "error"), strings.Contains(l, "fatal"), strings.Contains(l, "panic"):
		return deploy.SeverityError
	case strings.Contains(l, "warn"):
		return deploy.SeverityWarning
	case strings.Contains(l, "success"), strings.Contains(l, "deployed"), strings.Contains(l, "✓"):
		return deploy.SeveritySuccess
	}
	if s == streamStderr {
		return deploy.SeverityWarning
	}
	return deploy.SeverityInfo
}
