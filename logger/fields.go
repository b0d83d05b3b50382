package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings so log queries stay stable.
const (
	// Identity and context
	FieldRunID  = "run_id"
	FieldItemID = "item_id"
	FieldWorker = "worker_id"

	// Components
	FieldComponent = "component"
	FieldService   = "service"

	// Pipeline
	FieldStage     = "stage"
	FieldFromStage = "from_stage"
	FieldAttempt   = "attempt"
	FieldMaxTries  = "max_attempts"
	FieldBackoff   = "backoff"
	FieldDOI       = "doi"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts
	FieldCount      = "count"
	FieldTotalCount = "total_count"

	// Network
	FieldURL    = "url"
	FieldStatus = "status"
)

type contextKey string

const (
	runIDKey  contextKey = "logger_run_id"
	itemIDKey contextKey = "logger_item_id"
)

// WithRunID adds a run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithItemID adds an item ID to the context for logging
func WithItemID(ctx context.Context, itemID string) context.Context {
	return context.WithValue(ctx, itemIDKey, itemID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if itemID, ok := ctx.Value(itemIDKey).(string); ok && itemID != "" {
		fields = append(fields, FieldItemID, itemID)
	}

	return fields
}

// LoggerFromContext returns parent enriched with fields extracted from context.
func LoggerFromContext(ctx context.Context, parent *zap.SugaredLogger) *zap.SugaredLogger {
	if parent == nil {
		parent = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return parent
	}
	return parent.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	pool := batch.NewWorkerPool(store, stages, batch.PoolConfig{Workers: 4},
//	    logger.ComponentLogger("batch.worker"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
