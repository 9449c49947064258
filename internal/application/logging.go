package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/fleet-reservations/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrSyncGuardSkipped):
		return "sync_guard_skipped"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStaleState):
		return "stale_state"
	}

	var (
		vErr        *ValidationError
		conflictErr *ConflictError
		restErr     *RestGapError
		transErr    *InvalidTransitionError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &conflictErr):
		return "conflict"
	case errors.As(err, &restErr):
		return "rest_gap"
	case errors.As(err, &transErr):
		return "invalid_transition"
	}

	return "unexpected"
}

// logOutcome logs err at a level matching its kind. Rejections the caller can act on are
// warnings; a skipped sync is debug noise.
func logOutcome(ctx context.Context, logger *slog.Logger, msg string, err error) {
	kind := ErrorKind(err)
	switch kind {
	case "sync_guard_skipped":
		logger.DebugContext(ctx, msg, "outcome", kind)
	case "unexpected", "stale_state":
		logger.ErrorContext(ctx, msg, "error", err, "error_kind", kind)
	default:
		logger.WarnContext(ctx, msg, "error", err, "error_kind", kind)
	}
}
