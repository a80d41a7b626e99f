package tenancy

import "context"

// ctxKey is an unexported type used as the context key for ClientContext.
type ctxKey struct{}

// ClientContext carries the resolved client scope through request context.
type ClientContext struct {
	ClientID string
	User     string
	Groups   []string
}

// WithClient returns a new context with the given ClientContext attached.
func WithClient(ctx context.Context, cc ClientContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, cc)
}

// ClientFromContext retrieves the ClientContext from the context.
// Returns the zero value and false if no client scope is set.
func ClientFromContext(ctx context.Context) (ClientContext, bool) {
	cc, ok := ctx.Value(ctxKey{}).(ClientContext)
	return cc, ok
}

// ClientIDFromContext is a convenience function that returns the client ID
// from the context, or "" if no client scope is set.
func ClientIDFromContext(ctx context.Context) string {
	cc, ok := ClientFromContext(ctx)
	if !ok {
		return ""
	}
	return cc.ClientID
}
