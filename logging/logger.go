// Package logging defines the context-aware structured logger used across
// sessionauth. Implementations can wrap slog or any other backend.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key/value pairs:
//
//	log.Warn(ctx, "password hash upgrade failed", "user_id", id, "err", err)
type Logger interface {
	// Info logs lifecycle events.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs best-effort failures that did not fail the operation.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs failures, including store causes hidden from callers.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key/value pairs.
	With(args ...any) Logger
}

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) Logger                  { return n }
