package auth

import (
	"context"
	"strings"
)

// Identity is the caller as seen by the orchestrators. Subject is the stable
// owner id; Email is used for sharing by address.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// IsZero reports whether no subject was resolved.
func (i Identity) IsZero() bool {
	return i.Subject == ""
}

// ResolveIdentity extracts an Identity from token claims. Identity providers
// put profile fields either at the top level or under a namespaced key, so
// each field is looked up in a fixed fallback order.
func ResolveIdentity(claims map[string]any, namespace string) Identity {
	return Identity{
		Subject: firstString(claims, "sub"),
		Email:   firstString(claims, "email", namespace+"email"),
		Name:    firstString(claims, "name", namespace+"name", "nickname", "given_name"),
	}
}

func firstString(claims map[string]any, keys ...string) string {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if v, ok := claims[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && !id.IsZero()
}
