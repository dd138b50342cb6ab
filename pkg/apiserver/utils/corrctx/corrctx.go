// Package corrctx carries the current correlation id on a context.Context.
// The listener binds it for the duration of one inbound message; the
// publisher reads it to tag outgoing messages. Because the value lives on a
// derived context there is nothing to clear: it dies with the handler call.
package corrctx

import "context"

type key struct{}

// With returns a context carrying the correlation id.
func With(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, correlationID)
}

// From returns the correlation id bound to ctx, or "".
func From(ctx context.Context) string {
	if v, ok := ctx.Value(key{}).(string); ok {
		return v
	}
	return ""
}
