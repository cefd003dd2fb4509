package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/99designs/gqlgen/graphql/handler/transport"
	testlogr "github.com/go-logr/logr/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvakame/shelfql/internal/apperr"
	"github.com/vvakame/shelfql/internal/log"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/store"
)

func TestSigner(t *testing.T) {
	signer, err := NewSigner("secret", time.Hour)
	require.NoError(t, err)

	token, err := signer.Sign("mluukkai", "user-1")
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "mluukkai", claims.Username)
	assert.Equal(t, "user-1", claims.UserID)
	require.NotNil(t, claims.ExpiresAt)

	other, err := NewSigner("other secret", time.Hour)
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = signer.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewSigner("", time.Hour)
	assert.Error(t, err)
}

func TestSigner_expired(t *testing.T) {
	signer, err := NewSigner("secret", time.Minute)
	require.NoError(t, err)
	signer.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := signer.Sign("mluukkai", "user-1")
	require.NoError(t, err)

	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_noExpiry(t *testing.T) {
	signer, err := NewSigner("secret", 0)
	require.NoError(t, err)

	token, err := signer.Sign("mluukkai", "user-1")
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestPassword(t *testing.T) {
	hash, salt, err := HashPassword("sekret")
	require.NoError(t, err)

	ok, err := VerifyPassword("sekret", hash, salt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash, salt)
	require.NoError(t, err)
	assert.False(t, ok)

	hash2, salt2, err := HashPassword("sekret")
	require.NoError(t, err)
	assert.NotEqual(t, salt, salt2)
	assert.NotEqual(t, hash, hash2)

	_, err = VerifyPassword("sekret", "%%%", salt)
	assert.Error(t, err)

	assert.True(t, SharedPasswordMatches("secret", "secret"))
	assert.False(t, SharedPasswordMatches("secret", "Secret"))
	assert.False(t, SharedPasswordMatches("", ""))
}

func TestContextResolver(t *testing.T) {
	ctx := log.WithLogger(context.Background(), testlogr.NewTestLogger(t))

	s := store.NewMemory()
	user, err := s.InsertUser(ctx, &model.User{Username: "mluukkai", FavoriteGenre: "refactoring"})
	require.NoError(t, err)

	signer, err := NewSigner("secret", time.Hour)
	require.NoError(t, err)
	resolver := NewContextResolver(signer, s)

	t.Run("no credential is anonymous", func(t *testing.T) {
		a, err := resolver.Resolve(ctx, "")
		require.NoError(t, err)
		assert.False(t, a.Authenticated())
	})

	t.Run("valid token resolves the user", func(t *testing.T) {
		token, err := signer.Sign(user.Username, user.ID)
		require.NoError(t, err)

		a, err := resolver.Resolve(ctx, token)
		require.NoError(t, err)
		require.True(t, a.Authenticated())
		assert.Equal(t, "mluukkai", a.User.Username)
	})

	t.Run("invalid token is unauthenticated", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "garbage")
		require.Error(t, err)
		assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
	})

	t.Run("deleted user is anonymous", func(t *testing.T) {
		token, err := signer.Sign("ghost", "missing-id")
		require.NoError(t, err)

		a, err := resolver.Resolve(ctx, token)
		require.NoError(t, err)
		assert.False(t, a.Authenticated())
	})
}

func TestAuthContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, FromContext(ctx).Authenticated())

	ctx = WithAuthContext(ctx, AuthContext{User: &model.User{Username: "mluukkai"}})
	assert.True(t, FromContext(ctx).Authenticated())
}

func TestParseAuthorization(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"  Bearer   abc  ", "abc"},
		{"Basic dXNlcg==", "Basic dXNlcg=="},
		{"abc", "abc"},
	}
	for _, tt := range tests {
		if got := ParseAuthorization(tt.in); got != tt.want {
			t.Errorf("ParseAuthorization(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	var got string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CredentialFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/query", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "token-value", got)

	req = httptest.NewRequest(http.MethodPost, "/query", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "", got)
}

func TestWebsocketInit(t *testing.T) {
	ctx := WithCredential(context.Background(), "from-header")

	got, _, err := WebsocketInit(ctx, transport.InitPayload{"Authorization": "Bearer from-payload"})
	require.NoError(t, err)
	assert.Equal(t, "from-payload", CredentialFromContext(got))

	got, _, err = WebsocketInit(ctx, transport.InitPayload{})
	require.NoError(t, err)
	assert.Equal(t, "from-header", CredentialFromContext(got))
}
