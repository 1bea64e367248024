package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyWorkerID contextKey = "worker_id"
	ContextKeyPaperID  contextKey = "paper_id"
)

// WithWorkerID adds a worker ID to the context
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, ContextKeyWorkerID, workerID)
}

// WorkerIDFromContext extracts the worker ID from context
func WorkerIDFromContext(ctx context.Context) string {
	if workerID, ok := ctx.Value(ContextKeyWorkerID).(string); ok {
		return workerID
	}
	return ""
}

// WithPaperID adds a paper ID to the context
func WithPaperID(ctx context.Context, paperID string) context.Context {
	return context.WithValue(ctx, ContextKeyPaperID, paperID)
}

// PaperIDFromContext extracts the paper ID from context
func PaperIDFromContext(ctx context.Context) string {
	if paperID, ok := ctx.Value(ContextKeyPaperID).(string); ok {
		return paperID
	}
	return ""
}
