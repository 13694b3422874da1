package http

import (
	"context"
	"log/slog"

	"github.com/example/counselling-scheduler/internal/application"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// handlerLogger scopes the request logger to one handler operation. Requests
// that did not pass through RequestLogger fall back to base, tagged with the
// request id when one is known.
func handlerLogger(ctx context.Context, base *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	logger := LoggerFromContext(ctx)
	if logger == nil {
		logger = defaultLogger(base)
		if id, ok := RequestIDFromContext(ctx); ok {
			logger = logger.With("request_id", id)
		}
	}

	pairs := make([]any, 0, 4+len(attrs))
	pairs = append(pairs, "handler", handlerName)
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	return logger.With(append(pairs, attrs...)...)
}

// logServiceFailure logs rejected business operations at WARN and anything
// unexpected at ERROR.
func logServiceFailure(ctx context.Context, logger *slog.Logger, msg string, err error) {
	kind := application.ErrorKind(err)
	level := slog.LevelWarn
	if kind == "unexpected" {
		level = slog.LevelError
	}
	logger.Log(ctx, level, msg, "error", err, "error_kind", kind)
}
