// Package util holds small best-effort helpers shared across the
// cache implementation.
package util

import (
	"io"
	"log/slog"
)

// CloseQuietly closes c and logs a failure instead of propagating it,
// for cleanup paths where the caller already has a more meaningful
// error to return.
func CloseQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("close", "err", err)
	}
}
