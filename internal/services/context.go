package services

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	tenantIDKey  contextKey = "tenant_id"
	jobIDKey     contextKey = "job_id"
	frameSeqKey  contextKey = "frame_seq"
)

// WithSessionID attaches a verification session identifier to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session identifier, if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// WithTenantID attaches a tenant identifier to the context.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

// TenantIDFromContext extracts the tenant identifier, if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantIDKey).(string)
	return id, ok && id != ""
}

// WithJobID attaches a job identifier to the context.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier, if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(jobIDKey).(string)
	return id, ok && id != ""
}

// WithFrameSeq attaches a frame sequence number to the context.
func WithFrameSeq(ctx context.Context, seq uint64) context.Context {
	return context.WithValue(ctx, frameSeqKey, seq)
}

// FrameSeqFromContext extracts the frame sequence number, if present.
func FrameSeqFromContext(ctx context.Context) (uint64, bool) {
	seq, ok := ctx.Value(frameSeqKey).(uint64)
	return seq, ok
}
