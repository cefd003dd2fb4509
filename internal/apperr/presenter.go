package apperr

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/gqlgen/graphql"
	"github.com/go-logr/logr"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/shelfql/internal/log"
)

const internalMessage = "internal server error"

// Presenter turns resolver errors into client facing GraphQL errors.
// Parse, validation and nullability errors pass through unchanged; errors
// that are not *Error are logged and replaced with a generic one.
func Presenter(logger logr.Logger) graphql.ErrorPresenterFunc {
	return func(ctx context.Context, err error) *gqlerror.Error {
		return Present(ctx, logger, err)
	}
}

func Present(ctx context.Context, logger logr.Logger, err error) *gqlerror.Error {
	var gqlErr *gqlerror.Error
	if !errors.As(err, &gqlErr) {
		gqlErr = gqlerror.WrapPath(graphql.GetPath(ctx), err)
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Kind == KindInternal {
			logger.Error(appErr, "internal error", "path", gqlErr.Path.String())
			return internalError(gqlErr)
		}
		extensions := map[string]interface{}{
			"code": appErr.Kind.Code(),
		}
		if appErr.Field != "" {
			extensions["invalidField"] = appErr.Field
			extensions["invalidArgs"] = appErr.Value
		}
		return &gqlerror.Error{
			Message:    appErr.Message,
			Path:       gqlErr.Path,
			Locations:  gqlErr.Locations,
			Extensions: extensions,
		}
	}

	if gqlErr.Err == nil {
		return gqlErr
	}

	logger.Error(gqlErr.Err, "unclassified error", "path", gqlErr.Path.String())
	return internalError(gqlErr)
}

func internalError(gqlErr *gqlerror.Error) *gqlerror.Error {
	return &gqlerror.Error{
		Message:   internalMessage,
		Path:      gqlErr.Path,
		Locations: gqlErr.Locations,
		Extensions: map[string]interface{}{
			"code": KindInternal.Code(),
		},
	}
}

// Recover converts a resolver panic into an internal error.
func Recover(ctx context.Context, p interface{}) error {
	log.FromContext(ctx).Error(fmt.Errorf("%v", p), "panic in resolver")
	return Internal("resolver panicked", fmt.Errorf("panic: %v", p))
}
