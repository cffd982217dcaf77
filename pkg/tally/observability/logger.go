// Package observability provides the logging, metrics and tracing hooks used
// across tally.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Metrics and tracing are opt-in and have no-op implementations when disabled.
package observability

import "log/slog"

// ComponentLogger returns logger tagged with a component field, or nil if
// logger is nil.
func ComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("component", component))
}

// LogFlushStart logs the start of a flush.
func LogFlushStart(logger *slog.Logger, pending int) {
	if logger == nil {
		return
	}
	logger.Debug("flush starting",
		slog.Int("pending", pending),
	)
}

// LogFlushComplete logs the end of a flush.
func LogFlushComplete(logger *slog.Logger, batches, sent, dropped, retained int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("flush completed",
		slog.Int("batches", batches),
		slog.Int("sent", sent),
		slog.Int("dropped", dropped),
		slog.Int("retained", retained),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBatchResult logs the outcome of one batch send. Dropped batches are
// logged at Warn since their events are gone for good.
func LogBatchResult(logger *slog.Logger, size int, outcome string, err error) {
	if logger == nil {
		return
	}
	attrs := []any{
		slog.Int("batch_size", size),
		slog.String("outcome", outcome),
	}
	if err != nil {
		attrs = append(attrs, slog.String("reason", err.Error()))
	}
	switch outcome {
	case "drop":
		logger.Warn("batch dropped", attrs...)
	case "retry":
		logger.Info("batch deferred", attrs...)
	default:
		logger.Debug("batch sent", attrs...)
	}
}

// LogEventRejected logs an event that failed validation.
func LogEventRejected(logger *slog.Logger, name string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("event rejected",
		slog.String("event", name),
		slog.String("reason", err.Error()),
	)
}

// LogPersistError logs a failed write to local storage (non-fatal).
func LogPersistError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("persist failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogExperimentsLoaded logs a completed experiment fetch cycle.
func LogExperimentsLoaded(logger *slog.Logger, userID, source string, count int) {
	if logger == nil {
		return
	}
	logger.Debug("experiments loaded",
		slog.String("user_id", userID),
		slog.String("source", source),
		slog.Int("count", count),
	)
}

// LogExperimentsFailed logs a failed experiment fetch.
func LogExperimentsFailed(logger *slog.Logger, userID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("experiments fetch failed",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
}
