package auth

import (
	"context"

	"github.com/vvakame/shelfql/internal/model"
)

type authContextKey struct{}
type credentialKey struct{}

// AuthContext is the identity of the caller of one operation. The zero value
// is an anonymous caller.
type AuthContext struct {
	User *model.User
}

func (a AuthContext) Authenticated() bool {
	return a.User != nil
}

func WithAuthContext(ctx context.Context, a AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, a)
}

// FromContext returns the AuthContext of the operation, anonymous if none
// was resolved.
func FromContext(ctx context.Context) AuthContext {
	a, _ := ctx.Value(authContextKey{}).(AuthContext)
	return a
}

// WithCredential stores the raw bearer credential the transport received.
func WithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialKey{}, credential)
}

func CredentialFromContext(ctx context.Context) string {
	credential, _ := ctx.Value(credentialKey{}).(string)
	return credential
}
