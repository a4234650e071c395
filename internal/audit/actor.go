package audit

import "context"

// Actor identifies who performs the current operation.
type Actor struct {
	ID      string
	Display string
}

// DisplayFunc derives a display name from an actor id.
type DisplayFunc func(id string) string

// NewActor builds an Actor, deriving Display with fn.
// A nil fn uses the id itself as the display name.
func NewActor(id string, fn DisplayFunc) Actor {
	if fn == nil {
		return Actor{ID: id, Display: id}
	}
	return Actor{ID: id, Display: fn(id)}
}

type actorKey struct{}
type trackingKey struct{}

// WithActor returns a context carrying a.
// Set it once per external operation; the Tracker reads it when writing.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, &a)
}

// WithoutActor returns a context with no actor, masking any inherited one.
func WithoutActor(ctx context.Context) context.Context {
	return context.WithValue(ctx, actorKey{}, (*Actor)(nil))
}

// ActorFrom extracts the actor from ctx.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, _ := ctx.Value(actorKey{}).(*Actor)
	if a == nil {
		return Actor{}, false
	}
	return *a, true
}

// WithoutTracking returns a context under which the Tracker writes nothing.
func WithoutTracking(ctx context.Context) context.Context {
	return context.WithValue(ctx, trackingKey{}, true)
}

// TrackingDisabled reports whether ctx was derived from WithoutTracking.
func TrackingDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(trackingKey{}).(bool)
	return v
}

// actorColumns converts the context actor to nullable columns.
func actorColumns(ctx context.Context) (id, display *string) {
	a, ok := ActorFrom(ctx)
	if !ok {
		return nil, nil
	}
	if a.ID != "" {
		v := a.ID
		id = &v
	}
	if a.Display != "" {
		v := a.Display
		display = &v
	}
	return id, display
}
