// Package graphql adapts the instance resolvers to a gqlgen server: error
// presentation and requested-field extraction from the query selection.
package graphql

import (
	"context"
	"errors"
	"log/slog"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/pkg/ctxutil"
)

// NewErrorPresenter returns a gqlgen error presenter that maps domain errors
// to GraphQL error codes. Engine failures are reduced to their opaque
// message; the detail was already logged at the adapter.
func NewErrorPresenter(log *slog.Logger) graphql.ErrorPresenterFunc {
	return func(ctx context.Context, err error) *gqlerror.Error {
		// Get original error (gqlgen wraps errors)
		gqlErr := graphql.DefaultErrorPresenter(ctx, err)

		// Unwrap to domain error
		var origErr error
		if unwrapped := errors.Unwrap(err); unwrapped != nil {
			origErr = unwrapped
		} else {
			origErr = err
		}

		switch {
		case errors.Is(origErr, domain.ErrNotFound):
			gqlErr.Extensions = map[string]interface{}{"code": "NOT_FOUND"}

		case errors.Is(origErr, domain.ErrUserInput):
			gqlErr.Extensions = map[string]interface{}{"code": "BAD_USER_INPUT"}

		case errors.Is(origErr, domain.ErrAuthorization):
			gqlErr.Extensions = map[string]interface{}{"code": "FORBIDDEN"}
			var ae *domain.AuthorizationError
			if errors.As(err, &ae) && len(ae.Fields) > 0 {
				gqlErr.Extensions["fields"] = ae.Fields
			}

		case errors.Is(origErr, domain.ErrLogic):
			gqlErr.Extensions = map[string]interface{}{"code": "LOGIC"}

		case errors.Is(origErr, domain.ErrValidation):
			gqlErr.Extensions = map[string]interface{}{"code": "VALIDATION"}

		case errors.Is(origErr, domain.ErrEngine):
			gqlErr.Message = domain.ErrEngine.Error()
			gqlErr.Extensions = map[string]interface{}{"code": "ENGINE"}

		default:
			// Unexpected error - log it, return generic message to client
			requestID := ctxutil.RequestIDFromCtx(ctx)
			log.ErrorContext(ctx, "unexpected GraphQL error",
				slog.String("error", origErr.Error()),
				slog.String("request_id", requestID),
			)
			gqlErr.Message = "internal error"
			gqlErr.Extensions = map[string]interface{}{"code": "INTERNAL"}
		}

		return gqlErr
	}
}
