package mailqueue

import (
	"context"
	"log/slog"
)

// Origin names what started a dispatch pass.
type Origin string

const (
	OriginItem     Origin = "item"     // immediate per-message wake
	OriginSweep    Origin = "sweep"    // explicit sweep wake
	OriginFallback Origin = "fallback" // timer fallback
	OriginPeriodic Origin = "periodic" // recurring job
	OriginAdmin    Origin = "admin"    // operator command
)

type originKey struct{}

// WithOrigin tags ctx with the dispatch origin.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFromContext returns the origin set by WithOrigin.
func OriginFromContext(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}

// OriginExtractor is a logger.ContextExtractor adding the dispatch origin.
func OriginExtractor(ctx context.Context) (slog.Attr, bool) {
	if o, ok := OriginFromContext(ctx); ok {
		return slog.String("origin", string(o)), true
	}
	return slog.Attr{}, false
}
