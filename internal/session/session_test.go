package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamui-project/kamui-auth/internal/auth"
	"github.com/kamui-project/kamui-auth/internal/refresh"
	"github.com/kamui-project/kamui-auth/internal/securestore"
	"github.com/kamui-project/kamui-auth/internal/testutil"
	"github.com/kamui-project/kamui-auth/internal/tokens"
)

// tokenServer is a fake /oauth/token endpoint. Each refresh rotates the pair.
type tokenServer struct {
	*httptest.Server
	refreshes atomic.Int32
	exchanges atomic.Int32
	// reject makes refresh answer invalid_grant
	reject    atomic.Bool
	unhealthy atomic.Bool
	expiresIn int
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{expiresIn: 3600}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.Close)
	return ts
}

func (s *tokenServer) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	var n int32
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		n = s.exchanges.Add(1)
	case "refresh_token":
		n = s.refreshes.Add(1)
		if s.reject.Load() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		if s.unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"temporarily_unavailable"}`))
			return
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	suffix := strconv.Itoa(int(n))
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  "access-" + r.PostForm.Get("grant_type") + "-" + suffix,
		"refresh_token": "refresh-" + suffix,
		"token_type":    "Bearer",
		"expires_in":    s.expiresIn,
	})
}

type fixture struct {
	clock   *testutil.Clock
	mem     *securestore.Memory
	store   *tokens.Store
	coord   *refresh.Coordinator
	server  *tokenServer
	session *Session
}

func newFixture(t *testing.T, cfg refresh.Config) *fixture {
	t.Helper()
	if cfg.ClientID == "" {
		cfg.ClientID = "client-1"
	}
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	mem := securestore.NewMemory()
	logger := zerolog.Nop()

	store := tokens.NewStore(mem, logger, nil)
	migrator := tokens.NewMigrator(mem, store, logger, nil)
	migrator.SetClock(clock.Now)

	server := newTokenServer(t)
	client := auth.NewTokenClient(server.URL, auth.ClientCredentials{ClientID: cfg.ClientID}, "http://localhost:9876/callback", server.Client())

	coord := refresh.NewCoordinator(cfg, store, client, logger, nil)
	coord.SetClock(clock.Now)

	s := New(store, migrator, coord, client, logger)
	s.SetClock(clock.Now)

	return &fixture{clock: clock, mem: mem, store: store, coord: coord, server: server, session: s}
}

func (f *fixture) signIn(t *testing.T, expiresIn time.Duration) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.session.SetTokens(context.Background(), &tokens.TokenSet{
		AccessToken:  "access-initial",
		RefreshToken: "refresh-initial",
		IssuedAt:     now.Add(-time.Hour),
		ExpiresAt:    now.Add(expiresIn),
		CodeVerifier: "verifier-1",
	}))
}

func TestBootstrap_SignedOut(t *testing.T) {
	f := newFixture(t, refresh.Config{})

	assert.False(t, f.session.Bootstrap(context.Background()))
	_, ok := f.session.CurrentAccessToken()
	assert.False(t, ok)
	assert.Equal(t, refresh.Invalid, f.session.State())
}

func TestBootstrap_MigratesLegacyTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, refresh.Config{})
	expires := f.clock.Now().Add(time.Hour).Unix()
	require.NoError(t, f.mem.Set(ctx, tokens.LegacyKeys.AccessToken, "legacy-access"))
	require.NoError(t, f.mem.Set(ctx, tokens.LegacyKeys.RefreshToken, "legacy-refresh"))
	require.NoError(t, f.mem.Set(ctx, tokens.LegacyKeys.ExpiresAt, strconv.FormatInt(expires, 10)))

	assert.True(t, f.session.Bootstrap(ctx))
	token, ok := f.session.CurrentAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "legacy-access", token)
	assert.False(t, f.mem.Has(tokens.LegacyKeys.AccessToken))
}

func TestBootstrap_RestoresPersistedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, refresh.Config{})
	f.signIn(t, time.Hour)

	restarted := New(tokens.NewStore(f.mem, zerolog.Nop(), nil), nil, f.coord, nil, zerolog.Nop())
	assert.True(t, restarted.Bootstrap(ctx))
	token, ok := restarted.CurrentAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "access-initial", token)
}

func TestBootstrap_StorageFailureIsSignedOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, refresh.Config{})
	f.signIn(t, time.Hour)
	f.mem.FailOn = func(op, key string) error {
		if op == "get" {
			return errors.New("keychain locked")
		}
		return nil
	}

	assert.False(t, f.session.Bootstrap(ctx))
	assert.False(t, f.session.SignedIn())
}

func TestEnsureFresh_RefreshesThroughTokenEndpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, refresh.Config{})
	f.signIn(t, 200*time.Second)

	out := f.session.EnsureFresh(ctx)
	require.Equal(t, refresh.Refreshed, out.Kind, out.Reason())
	assert.Equal(t, int32(1), f.server.refreshes.Load())

	token, ok := f.session.CurrentAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "access-refresh_token-1", token)
	assert.Equal(t, "verifier-1", f.session.Tokens().CodeVerifier)
	assert.Equal(t, refresh.Valid, f.session.State())
}

func TestEnsureFresh_ConcurrentCallersShareOneExchange(t *testing.T) {
	const callers = 20
	ctx := context.Background()
	f := newFixture(t, refresh.Config{})
	f.signIn(t, 200*time.Second)

	var wg sync.WaitGroup
	outcomes := make([]refresh.Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = f.session.EnsureFresh(ctx)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.server.refreshes.Load())
	for _, out := range outcomes {
		// callers arriving after the exchange are stopped by the cooldown
		require.Contains(t, []refresh.Kind{refresh.Refreshed, refresh.Unchanged}, out.Kind)
		assert.Equal(t, "access-refresh_token-1", out.Tokens.AccessToken)
	}
}

func TestEnsureFresh_InvalidGrantSignsOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, refresh.Config{})
	f.signIn(t, 200*time.Second)
	f.server.reject.Store(true)

	out := f.session.EnsureFresh(ctx)
	assert.Equal(t, refresh.LoggedOut, out.Kind)
	assert.ErrorIs(t, out.Err, refresh.ErrInvalidGrant)

	token, ok := f.session.CurrentAccessToken()
	assert.False(t, ok)
	assert.Empty(t, token)
	assert.Equal(t, 0, f.mem.Len(), "all persisted keys are cleared")
	assert.False(t, New(tokens.NewStore(f.mem, zerolog.Nop(), nil), nil, f.coord, nil, zerolog.Nop()).Bootstrap(ctx))
}

func TestEnsureFresh_ServerOutageKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, refresh.Config{})
	f.signIn(t, 200*time.Second)
	f.server.unhealthy.Store(true)

	for i := 0; i < refresh.DefaultMaxAttempts; i++ {
		out := f.session.EnsureFresh(ctx)
		assert.Equal(t, refresh.Deferred, out.Kind)
	}
	out := f.session.EnsureFresh(ctx)
	assert.ErrorIs(t, out.Err, refresh.ErrAttemptBudgetExceeded)
	assert.Equal(t, int32(refresh.DefaultMaxAttempts), f.server.refreshes.Load())

	token, ok := f.session.CurrentAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "access-initial", token)

	f.server.unhealthy.Store(false)
	f.session.ResetRefreshAttempts()
	assert.Equal(t, refresh.Refreshed, f.session.EnsureFresh(ctx).Kind)
}

func TestExchangeCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, refresh.Config{})

	ts, err := f.session.ExchangeCode(ctx, "code", "pkce-verifier", "http://localhost:9876/callback")
	require.NoError(t, err)
	assert.Equal(t, "access-authorization_code-1", ts.AccessToken)
	assert.Equal(t, "pkce-verifier", ts.CodeVerifier)
	assert.True(t, ts.IssuedAt.Equal(f.clock.Now()))

	assert.True(t, f.session.SignedIn())
	loaded, err := tokens.NewStore(f.mem, zerolog.Nop(), nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pkce-verifier", loaded.CodeVerifier)
}

func TestExchangeCode_WithoutExchanger(t *testing.T) {
	f := newFixture(t, refresh.Config{})
	s := New(f.store, nil, f.coord, nil, zerolog.Nop())

	_, err := s.ExchangeCode(context.Background(), "code", "v", "")
	assert.Error(t, err)
}

func TestSetTokens_RejectsIncomplete(t *testing.T) {
	f := newFixture(t, refresh.Config{})
	err := f.session.SetTokens(context.Background(), &tokens.TokenSet{AccessToken: "a"})
	assert.ErrorIs(t, err, tokens.ErrIncompleteTokenSet)
	assert.False(t, f.session.SignedIn())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, refresh.Config{})
	f.signIn(t, time.Hour)

	f.session.Logout(ctx)
	f.session.Logout(ctx)

	assert.False(t, f.session.SignedIn())
	assert.Equal(t, 0, f.mem.Len())
	assert.Equal(t, refresh.LoggedOut, f.session.EnsureFresh(ctx).Kind)
}
