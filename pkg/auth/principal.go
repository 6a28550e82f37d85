package auth

import (
	"context"
	"errors"
)

// ErrNoPrincipal is returned when a request carries no authenticated user.
var ErrNoPrincipal = errors.New("auth: no principal in context")

// Principal is the authenticated caller.
type Principal struct {
	// UserID is the internal account id.
	UserID string
	// ExternalID is the identity provider's subject.
	ExternalID string
	Email      string
	Dev        bool
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal returns the authenticated caller.
func GetPrincipal(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok || p == nil {
		return nil, ErrNoPrincipal
	}
	return p, nil
}
