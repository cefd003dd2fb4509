package auth

import (
	"context"
	"errors"

	"github.com/vvakame/shelfql/internal/apperr"
	"github.com/vvakame/shelfql/internal/log"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/store"
)

type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
}

// ContextResolver derives the AuthContext of an operation from the bearer
// credential that came with it.
type ContextResolver struct {
	signer *Signer
	users  UserFinder
}

func NewContextResolver(signer *Signer, users UserFinder) *ContextResolver {
	return &ContextResolver{signer: signer, users: users}
}

// Resolve returns an anonymous context for an empty credential and an
// Unauthenticated error for a credential that fails verification. A valid
// token whose user no longer exists resolves to anonymous.
func (r *ContextResolver) Resolve(ctx context.Context, credential string) (AuthContext, error) {
	if credential == "" {
		return AuthContext{}, nil
	}

	claims, err := r.signer.Verify(credential)
	if err != nil {
		log.FromContext(ctx).V(1).Info("token rejected", "reason", err.Error())
		return AuthContext{}, apperr.Unauthenticated("invalid or expired token")
	}

	user, err := r.users.FindUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		log.FromContext(ctx).V(1).Info("token subject is gone", "userID", claims.UserID)
		return AuthContext{}, nil
	} else if err != nil {
		return AuthContext{}, apperr.Internal("lookup token subject", err)
	}

	return AuthContext{User: user}, nil
}
