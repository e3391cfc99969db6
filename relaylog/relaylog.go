// Package relaylog provides structured leveled logging shared by every
// component, built directly on log/slog.
package relaylog

import (
	"context"
	"log/slog"
	"os"
)

var (
	level slog.LevelVar
	base  = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
)

// SetLevel adjusts the minimum level of the default logger. Safe to call
// while other goroutines are logging.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// For returns a child logger pre-tagged with a component name.
func For(component string) *slog.Logger {
	return base.With("component", component)
}

func Info(ctx context.Context, component, msg string, args ...any) {
	For(component).InfoContext(ctx, msg, args...)
}

func Warn(ctx context.Context, component, msg string, args ...any) {
	For(component).WarnContext(ctx, msg, args...)
}

func Error(ctx context.Context, component, msg string, args ...any) {
	For(component).ErrorContext(ctx, msg, args...)
}

func Debug(ctx context.Context, component, msg string, args ...any) {
	For(component).DebugContext(ctx, msg, args...)
}
