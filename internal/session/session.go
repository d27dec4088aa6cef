// Package session is the surface the rest of the application uses for
// authentication state. It wires the token store, the legacy migrator and the
// refresh coordinator together and adapts them to oauth2.TokenSource.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/kamui-project/kamui-auth/internal/refresh"
	"github.com/kamui-project/kamui-auth/internal/tokens"
)

// ErrSignedOut is returned by the TokenSource when there is no session
var ErrSignedOut = errors.New("not signed in")

// CodeExchanger redeems an authorization code
type CodeExchanger interface {
	Exchange(ctx context.Context, code, verifier, redirectURI string) (*oauth2.Token, error)
}

// Session is the authentication facade. All methods are safe for concurrent use.
type Session struct {
	store     *tokens.Store
	migrator  *tokens.Migrator
	coord     *refresh.Coordinator
	exchanger CodeExchanger
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a Session. exchanger may be nil when sign-in happens elsewhere
// and tokens arrive through SetTokens.
func New(store *tokens.Store, migrator *tokens.Migrator, coord *refresh.Coordinator, exchanger CodeExchanger, logger zerolog.Logger) *Session {
	return &Session{
		store:     store,
		migrator:  migrator,
		coord:     coord,
		exchanger: exchanger,
		now:       time.Now,
		logger:    logger.With().Str("component", "session").Logger(),
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Session) SetClock(now func() time.Time) {
	s.now = now
}

// Bootstrap migrates legacy tokens, loads the persisted session and reports
// whether the user is signed in. Storage failures count as signed out.
func (s *Session) Bootstrap(ctx context.Context) bool {
	if s.migrator != nil {
		s.migrator.Migrate(ctx)
	}

	ts, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load tokens, starting signed out")
		return false
	}
	if ts == nil {
		return false
	}

	s.logger.Debug().Time("expires_at", ts.ExpiresAt).Msg("session restored")
	return true
}

// CurrentAccessToken returns the in-memory access token without refreshing
func (s *Session) CurrentAccessToken() (string, bool) {
	ts := s.store.Current()
	if ts == nil {
		return "", false
	}
	return ts.AccessToken, true
}

// SignedIn reports whether a session exists
func (s *Session) SignedIn() bool {
	return s.store.Current() != nil
}

// Tokens returns a copy of the current TokenSet, or nil
func (s *Session) Tokens() *tokens.TokenSet {
	return s.store.Current()
}

// State classifies the current session
func (s *Session) State() refresh.State {
	return s.coord.State(s.store.Current())
}

// EnsureFresh renews the access token if it is close to expiry
func (s *Session) EnsureFresh(ctx context.Context) refresh.Outcome {
	return s.coord.EnsureFresh(ctx, s.store.Current())
}

// SetTokens installs tokens obtained by a sign-in
func (s *Session) SetTokens(ctx context.Context, ts *tokens.TokenSet) error {
	if err := s.coord.Replace(ctx, ts); err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}
	return nil
}

// ExchangeCode redeems an authorization code and installs the resulting
// tokens. The verifier is kept because the refresh grant requires it.
func (s *Session) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*tokens.TokenSet, error) {
	if s.exchanger == nil {
		return nil, errors.New("no code exchanger configured")
	}

	tok, err := s.exchanger.Exchange(ctx, code, verifier, redirectURI)
	if err != nil {
		return nil, err
	}

	ts := tokens.FromOAuth2(tok, verifier, s.now())
	if err := s.SetTokens(ctx, ts); err != nil {
		return nil, err
	}
	return ts.Clone(), nil
}

// Logout ends the session. It never fails.
func (s *Session) Logout(ctx context.Context) {
	s.coord.ForceLogout(ctx)
}

// ResetRefreshAttempts re-enables refreshing after the attempt budget is spent
func (s *Session) ResetRefreshAttempts() {
	s.coord.ResetAttempts()
}

// RefreshStats returns the coordinator counters
func (s *Session) RefreshStats() refresh.Stats {
	return s.coord.Stats()
}
