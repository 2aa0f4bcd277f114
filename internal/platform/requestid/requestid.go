package requestid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New returns a fresh correlation id.
func New() string {
	return uuid.NewString()
}

func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the id stored on ctx, or a fresh one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return New()
}
