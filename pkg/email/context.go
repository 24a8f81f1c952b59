package email

import "context"

type queueOriginKey struct{}

// WithQueueOrigin marks ctx as belonging to a delivery attempt made by the
// queue itself. Senders that would otherwise enqueue must deliver directly.
func WithQueueOrigin(ctx context.Context) context.Context {
	return context.WithValue(ctx, queueOriginKey{}, true)
}

// IsQueueOrigin reports whether ctx was tagged by WithQueueOrigin.
func IsQueueOrigin(ctx context.Context) bool {
	v, _ := ctx.Value(queueOriginKey{}).(bool)
	return v
}
