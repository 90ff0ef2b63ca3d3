// Package auth keeps the signed-in user's credential.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/localstore"
	"github.com/room4-2/vox/model"
)

// Local storage keys.
const (
	TokenKey = "auth_token"
	UserKey  = "auth_user"
)

// Authenticator is the backend side of sign-in.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password string) (string, error)
}

// Session holds the bearer token and the user it belongs to.
type Session struct {
	mu     sync.RWMutex
	kv     localstore.KV
	token  string
	user   model.User
	resets []func()
	now    func() time.Time
	log    zerolog.Logger
}

// NewSession restores any persisted credential from kv.
func NewSession(ctx context.Context, kv localstore.KV, log zerolog.Logger) (*Session, error) {
	s := &Session{
		kv:  kv,
		now: time.Now,
		log: log.With().Str("component", "auth").Logger(),
	}

	token, ok, err := kv.Get(ctx, TokenKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", TokenKey, err)
	}
	if ok {
		s.token = string(token)
	}
	rawUser, ok, err := kv.Get(ctx, UserKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", UserKey, err)
	}
	if ok {
		if err := sonic.Unmarshal(rawUser, &s.user); err != nil {
			s.log.Warn().Err(err).Msg("Ignoring unreadable stored user")
		}
	}
	return s, nil
}

// Token implements api.TokenSource.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user.
func (s *Session) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.token != ""
}

// Expired reports whether the stored token's exp claim has passed. Tokens
// that are not JWTs, or carry no exp, never expire client-side.
func (s *Session) Expired() bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		return false
	}
	claims, err := parseClaims(token)
	if err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !s.now().Before(exp.Time)
}

// OnReset registers fn to run when the credential is revoked by the backend.
func (s *Session) OnReset(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, fn)
}

// Login signs in and persists the credential.
func (s *Session) Login(ctx context.Context, a Authenticator, username, password string) (model.User, error) {
	token, err := a.Login(ctx, username, password)
	if err != nil {
		return model.User{}, err
	}

	user := model.User{Username: username}
	if claims, err := parseClaims(token); err == nil {
		user.ID = userIDClaim(claims)
	}
	if err := s.store(ctx, token, user); err != nil {
		return model.User{}, err
	}
	s.log.Info().Str("user", username).Msg("Signed in")
	return user, nil
}

// Register creates the account, then signs in with it.
func (s *Session) Register(ctx context.Context, a Authenticator, username, password string) (model.User, error) {
	if _, err := a.Register(ctx, username, password); err != nil {
		return model.User{}, err
	}
	return s.Login(ctx, a, username, password)
}

// Logout forgets the credential locally.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.user = model.User{}
	s.mu.Unlock()

	return errors.Join(
		s.kv.Remove(ctx, TokenKey),
		s.kv.Remove(ctx, UserKey),
	)
}

// HandleAuthExpired clears the credential and resets every registered
// component.
func (s *Session) HandleAuthExpired() {
	if err := s.Logout(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("Failed to clear expired credential")
	}
	s.mu.RLock()
	resets := append([]func(){}, s.resets...)
	s.mu.RUnlock()

	s.log.Warn().Msg("Credential expired, resetting client")
	for _, fn := range resets {
		fn()
	}
}

func (s *Session) store(ctx context.Context, token string, user model.User) error {
	rawUser, err := sonic.Marshal(user)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, TokenKey, []byte(token)); err != nil {
		return fmt.Errorf("persist %s: %w", TokenKey, err)
	}
	if err := s.kv.Set(ctx, UserKey, rawUser); err != nil {
		return fmt.Errorf("persist %s: %w", UserKey, err)
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
	return nil
}

// The backend signs tokens; the client only reads them.
func parseClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func userIDClaim(claims jwt.MapClaims) int64 {
	switch v := claims["user_id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
