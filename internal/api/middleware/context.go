package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	keyIDKey        contextKey = "api_key_id"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
	prefixSlotKey   contextKey = "key_prefix_slot"
)

// withPrefixSlot lets an outer middleware see the prefix set further in.
func withPrefixSlot(ctx context.Context, slot *string) context.Context {
	return context.WithValue(ctx, prefixSlotKey, slot)
}

func withKey(ctx context.Context, id uuid.UUID, prefix string, scopes []string) context.Context {
	ctx = WithKeyID(ctx, id)
	ctx = WithKeyPrefix(ctx, prefix)
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

// WithKeyID records which API key authenticated the request.
func WithKeyID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyIDKey, id)
}

// WithKeyPrefix marks ctx as authenticated by the key with prefix.
func WithKeyPrefix(ctx context.Context, prefix string) context.Context {
	if slot, ok := ctx.Value(prefixSlotKey).(*string); ok {
		*slot = prefix
	}
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

// WithScopes grants scopes to ctx. Used by tests that skip Authenticate.
func WithScopes(ctx context.Context, scopes ...string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func KeyID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(keyIDKey).(uuid.UUID)
	return id, ok
}

func KeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func Scopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}
