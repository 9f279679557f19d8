package logging

import (
	"context"
	"log/slog"

	"loadout/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldSessionID is the standardized structured logging key for verification session identifiers.
	FieldSessionID = "session_id"
	// FieldTenantID is the standardized structured logging key for tenant identifiers.
	FieldTenantID = "tenant_id"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldFrameSeq is the standardized structured logging key for frame sequence numbers.
	FieldFrameSeq = "frame_seq"
	// FieldEventType classifies notable pipeline events for log filtering.
	FieldEventType = "event_type"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := services.TenantIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTenantID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if seq, ok := services.FrameSeqFromContext(ctx); ok {
		fields = append(fields, slog.Uint64(FieldFrameSeq, seq))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
