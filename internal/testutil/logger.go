package testutil

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// NewTestLogger creates a test logger that discards output.
// Use NewTestLoggerWithOutput to log to t.Log().
func NewTestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(io.Discard).With().Timestamp().Logger()
}

// NewTestLoggerWithOutput creates a test logger that logs to t.Log().
func NewTestLoggerWithOutput(t *testing.T) zerolog.Logger {
	return zerolog.New(&testLogWriter{t: t}).With().Timestamp().Logger()
}

// testLogWriter wraps testing.T to implement io.Writer.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (n int, err error) {
	w.t.Log(string(p))
	return len(p), nil
}

// LogBuffer collects JSON log lines written from any goroutine.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Count returns how many log lines contain substr.
func (b *LogBuffer) Count(substr string) int {
	n := 0
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

// NewBufferLogger returns a debug-level logger writing into a LogBuffer.
func NewBufferLogger() (zerolog.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return zerolog.New(buf).Level(zerolog.DebugLevel).With().Timestamp().Logger(), buf
}
