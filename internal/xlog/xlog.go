// Package xlog wraps log/slog with the same env-gated debug discipline as
// internal/xdebug, so packages that want structured logging don't each
// reinvent a logger-or-nil convention.
package xlog

import (
	"log/slog"
	"os"
	"sync"

	"github.com/duplexmux/duplexmux/internal/xdebug"
)

var (
	once    sync.Once
	handler slog.Handler
)

func base() slog.Handler {
	once.Do(func() {
		level := slog.LevelInfo
		if xdebug.Enabled("log") {
			level = slog.LevelDebug
		}
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	})
	return handler
}

// For returns a logger tagged with a "component" attribute, e.g.
// xlog.For("session").Debug("resend", "seq", seq).
func For(component string) *slog.Logger {
	return slog.New(base()).With("component", component)
}
