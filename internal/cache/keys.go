package cache

import (
	"context"
	"strings"

	"github.com/noah-isme/backend-bizops/internal/common"
)

// Namespace prefixes every key written by the service.
const Namespace = "bizops"

// ClientKey returns a key scoped to the client identifier carried by ctx.
func ClientKey(ctx context.Context, parts ...string) string {
	return ClientKeyFor(common.ClientID(ctx), parts...)
}

// ClientKeyFor returns a key scoped to clientID.
func ClientKeyFor(clientID string, parts ...string) string {
	if clientID == "" {
		clientID = common.DefaultClientID
	}
	return Namespace + ":" + clientID + ":" + strings.Join(parts, ":")
}

// KeySession returns the key holding a checkout session.
func KeySession(ctx context.Context, id string) string {
	return ClientKey(ctx, "checkout", id)
}

// KeyOptions returns the cache key for an option list.
func KeyOptions(ctx context.Context, kind string) string {
	return ClientKey(ctx, "options", kind)
}
