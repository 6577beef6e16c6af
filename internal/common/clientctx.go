package common

import (
	"context"
	"net/http"
	"regexp"
	"strings"
)

type ctxKey string

const clientIDKey ctxKey = "client/id"

// DefaultClientID scopes state for callers that do not identify themselves.
const DefaultClientID = "default"

// ClientIDHeader names the request header carrying the client identifier.
const ClientIDHeader = "X-Client-ID"

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// WithClientID stores the client identifier on the provided context.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// ClientID extracts the client identifier from the context, falling back to DefaultClientID.
func ClientID(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok && v != "" {
		return v
	}
	return DefaultClientID
}

// ClientIDMiddleware copies a well-formed X-Client-ID header onto the request context.
func ClientIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ClientIDHeader))
		if id != "" && !clientIDPattern.MatchString(id) {
			JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid client id", nil)
			return
		}
		if id != "" {
			r = r.WithContext(WithClientID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
