package query

import "context"

type contextKey string

const queryIDKey contextKey = "queryId"

// WithQueryID attaches a caller-assigned query id to ctx, mirroring the
// trace-id-in-context idiom infrastructure/logging uses. The Query
// Coordinator prefers this id over minting its own, letting a streaming
// transport subscribe to the Event Bus before Handle publishes the first
// event for the request.
func WithQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey, id)
}

// GetQueryID retrieves a query id previously attached with WithQueryID, or
// "" if none was set.
func GetQueryID(ctx context.Context) string {
	if id, ok := ctx.Value(queryIDKey).(string); ok {
		return id
	}
	return ""
}
