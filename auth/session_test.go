package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/vox/localstore"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

type fakeAuth struct {
	token      string
	err        error
	registered []string
}

func (f *fakeAuth) Login(context.Context, string, string) (string, error) {
	return f.token, f.err
}

func (f *fakeAuth) Register(_ context.Context, username, _ string) (string, error) {
	f.registered = append(f.registered, username)
	return "1", nil
}

func TestLoginPersistsCredential(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemory()
	s, err := NewSession(ctx, kv, zerolog.Nop())
	require.NoError(t, err)

	token := signed(t, jwt.MapClaims{"user_id": 42, "exp": time.Now().Add(time.Hour).Unix()})
	user, err := s.Login(ctx, &fakeAuth{token: token}, "ada", "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.ID)
	assert.Equal(t, token, s.Token())
	assert.False(t, s.Expired())

	restored, err := NewSession(ctx, kv, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, token, restored.Token())
	u, ok := restored.User()
	assert.True(t, ok)
	assert.Equal(t, "ada", u.Username)
}

func TestLoginFailureKeepsSignedOut(t *testing.T) {
	s, err := NewSession(context.Background(), localstore.NewMemory(), zerolog.Nop())
	require.NoError(t, err)

	_, err = s.Login(context.Background(), &fakeAuth{err: errors.New("bad password")}, "ada", "pw")
	require.Error(t, err)
	assert.Empty(t, s.Token())
}

func TestRegisterThenLogin(t *testing.T) {
	s, err := NewSession(context.Background(), localstore.NewMemory(), zerolog.Nop())
	require.NoError(t, err)
	fa := &fakeAuth{token: "opaque"}

	user, err := s.Register(context.Background(), fa, "bob", "pw")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, fa.registered)
	assert.Equal(t, "bob", user.Username)
	assert.Equal(t, "opaque", s.Token())
	assert.False(t, s.Expired())
}

func TestExpired(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemory()
	require.NoError(t, kv.Set(ctx, TokenKey, []byte(signed(t, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()}))))

	s, err := NewSession(ctx, kv, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, s.Expired())
}

func TestHandleAuthExpiredClearsAndResets(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemory()
	s, err := NewSession(ctx, kv, zerolog.Nop())
	require.NoError(t, err)
	_, err = s.Login(ctx, &fakeAuth{token: "t"}, "ada", "pw")
	require.NoError(t, err)

	resets := 0
	s.OnReset(func() { resets++ })
	s.HandleAuthExpired()

	assert.Equal(t, 1, resets)
	assert.Empty(t, s.Token())
	_, ok, err := kv.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = kv.Get(ctx, UserKey)
	assert.False(t, ok)
}
