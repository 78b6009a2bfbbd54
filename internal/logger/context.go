// Package logger provides utilities for working with
// [zerolog] and [context.Context].
package logger

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WithContext stores the given logger in the returned context.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger stored in the given context,
// or a disabled logger if none was stored.
func FromContext(ctx context.Context) zerolog.Logger {
	return *zerolog.Ctx(ctx)
}

// FatalError reports an unrecoverable startup error, and aborts.
func FatalError(msg string, err error) {
	log.Fatal().Err(err).Msg(msg)
}

// FatalErrorContext is [FatalError] with a context-scoped logger.
func FatalErrorContext(ctx context.Context, msg string, err error) {
	zerolog.Ctx(ctx).Fatal().Err(err).Msg(msg)
}
