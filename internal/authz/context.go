package authz

import (
	"context"
	"net/http"
)

type contextKey string

const parentIDKey contextKey = "parentID"

// WithParent stores the authenticated parent id on the request context.
func WithParent(ctx context.Context, parentID string) context.Context {
	return context.WithValue(ctx, parentIDKey, parentID)
}

// ParentIDFromRequest extracts the authenticated parent id.
func ParentIDFromRequest(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(parentIDKey).(string)
	return id, ok && id != ""
}
