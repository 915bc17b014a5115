// Package testutil provides testing utilities for frameprof.
package testutil

import (
	"context"
	"testing"
	"time"
)

// Context returns a context that is cancelled with the test, bounded by
// timeout.
func Context(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
