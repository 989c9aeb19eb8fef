package auth

import (
	"context"

	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/pkg/ctxutil"
)

// ContextResolver resolves the subject the auth middleware stored in the
// request context. Anonymous requests resolve to (nil, nil).
type ContextResolver struct{}

// NewContextResolver creates a ContextResolver.
func NewContextResolver() *ContextResolver {
	return &ContextResolver{}
}

// Resolve returns the identity attached to the context, or nil.
func (*ContextResolver) Resolve(ctx context.Context) (*domain.Identity, error) {
	return ctxutil.IdentityFromCtx(ctx), nil
}
