package middleware

import (
	"log/slog"
	"time"

	"github.com/vango-dev/hypercube/pkg/hypercube"
)

// Logging creates middleware that logs every routed frame. Handled frames
// are logged at debug level, routing failures at info and handler panics
// at warn. A nil logger uses slog.Default().
func Logging(logger *slog.Logger) hypercube.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatch")

	return func(d *hypercube.Dispatch, next func()) {
		start := time.Now()
		next()

		level := slog.LevelDebug
		switch d.Outcome {
		case hypercube.OutcomeHandled:
		case hypercube.OutcomePanic:
			level = slog.LevelWarn
		default:
			level = slog.LevelInfo
		}

		attrs := []any{
			"path", d.Path,
			"event", d.Event,
			"outcome", d.Outcome,
			"bytes", d.Size,
			"duration", time.Since(start),
		}
		if d.Session != nil {
			attrs = append(attrs, "session_id", d.Session.ID)
		}
		if d.Err != nil {
			attrs = append(attrs, "error", d.Err)
		}
		logger.Log(d.Context(), level, "event routed", attrs...)
	}
}
