package util

import (
	"io"
	"log/slog"
)

// CloseFunc closes c and logs (instead of returning) the error, for use in defer.
func CloseFunc(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("close failed", "err", err)
	}
}
