package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kamui-project/kamui-auth/internal/instrumentation"
	"github.com/kamui-project/kamui-auth/internal/tokens"
)

const (
	DefaultLeadTime           = 5 * time.Minute
	DefaultMinRefreshInterval = 5 * time.Second
	DefaultMaxAttempts        = 3
	DefaultRequestTimeout     = 30 * time.Second

	// DefaultExpiresIn is assumed when the server omits expires_in
	DefaultExpiresIn = time.Hour
)

// Grant is the refresh_token grant sent to the token endpoint
type Grant struct {
	RefreshToken string
	CodeVerifier string
}

// TokenResponse is a successful token endpoint response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Endpoint performs the refresh exchange against the token endpoint.
// Non-2xx responses are reported as *oauth2.RetrieveError.
type Endpoint interface {
	Refresh(ctx context.Context, grant Grant) (*TokenResponse, error)
}

// TokenStore persists refreshed tokens and clears them on logout
type TokenStore interface {
	Current() *tokens.TokenSet
	Save(ctx context.Context, ts *tokens.TokenSet) error
	Clear(ctx context.Context) error
}

// Config tunes the refresh gates
type Config struct {
	// ClientID is required by the token endpoint; empty is a fatal misconfiguration
	ClientID string

	LeadTime           time.Duration
	MinRefreshInterval time.Duration
	MaxAttempts        int
	RequestTimeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.LeadTime <= 0 {
		c.LeadTime = DefaultLeadTime
	}
	if c.MinRefreshInterval <= 0 {
		c.MinRefreshInterval = DefaultMinRefreshInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// call is one in-flight exchange shared by every caller that joins it
type call struct {
	id      string
	done    chan struct{}
	outcome Outcome
}

// Coordinator is the single owner of the refresh attempt state. Create one
// per process and share it; all decisions go through its mutex.
type Coordinator struct {
	cfg      Config
	store    TokenStore
	endpoint Endpoint
	now      func() time.Time
	logger   zerolog.Logger
	metrics  *instrumentation.Metrics
	tracer   trace.Tracer

	// commitMu orders every write that changes which session is stored:
	// refresh results, sign-in and logout
	commitMu sync.Mutex

	mu          sync.Mutex
	lastSuccess time.Time
	attempts    int
	inflight    *call
	joined      uint64
	exchanges   uint64
	// generation changes on every reset; an exchange that finishes under an
	// older generation is discarded
	generation uint64
}

// NewCoordinator creates a Coordinator
func NewCoordinator(cfg Config, store TokenStore, endpoint Endpoint, logger zerolog.Logger, inst *instrumentation.Instrumentation) *Coordinator {
	cfg.applyDefaults()
	if inst == nil {
		inst = instrumentation.Noop()
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		endpoint: endpoint,
		now:      time.Now,
		logger:   logger.With().Str("component", "refresh_coordinator").Logger(),
		metrics:  inst.Metrics(),
		tracer:   inst.Tracer("refresh"),
	}
}

// SetClock overrides the time source. Used by tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Config returns the effective configuration
func (c *Coordinator) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetClientID updates the client id after a client registration
func (c *Coordinator) SetClientID(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.ClientID = clientID
}

// Attempts returns the number of consecutive failed exchanges
func (c *Coordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Stats is a snapshot of the refresh attempt state
type Stats struct {
	Attempts    int
	LastSuccess time.Time
	InFlight    bool
	Exchanges   uint64
	Joined      uint64
}

// Stats returns a snapshot of the attempt state and counters
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Attempts:    c.attempts,
		LastSuccess: c.lastSuccess,
		InFlight:    c.inflight != nil,
		Exchanges:   c.exchanges,
		Joined:      c.joined,
	}
}

// State classifies ts relative to now and any in-flight exchange
func (c *Coordinator) State(ts *tokens.TokenSet) State {
	c.mu.Lock()
	inflight := c.inflight != nil
	c.mu.Unlock()

	switch {
	case ts == nil:
		return Invalid
	case inflight:
		return Refreshing
	case ts.ExpiresWithin(c.now(), c.cfg.LeadTime):
		return ExpiringSoon
	default:
		return Valid
	}
}

// EnsureFresh returns current unchanged, renews it, or reports why it cannot.
// Callers arriving while an exchange is in flight wait for that exchange and
// get its outcome. A caller whose ctx ends while waiting gets Deferred; the
// exchange itself is never cancelled by callers.
func (c *Coordinator) EnsureFresh(ctx context.Context, current *tokens.TokenSet) Outcome {
	if current == nil {
		return loggedOut(nil)
	}

	c.mu.Lock()

	if inflight := c.inflight; inflight != nil {
		c.joined++
		c.mu.Unlock()
		c.metrics.RecordJoined(ctx)
		return c.wait(ctx, inflight)
	}

	if c.cfg.ClientID == "" {
		c.mu.Unlock()
		c.logger.Error().Msg("client id is not configured, ending session")
		c.endSession(ctx, "configuration", nil)
		return loggedOut(ErrConfiguration)
	}

	now := c.now()
	expiring := current.ExpiresWithin(now, c.cfg.LeadTime)

	if now.Sub(c.lastSuccess) < c.cfg.MinRefreshInterval {
		c.mu.Unlock()
		// the caller may hold the set the last refresh replaced
		if latest := c.store.Current(); latest != nil {
			return unchanged(latest)
		}
		return unchanged(current)
	}
	// a just-issued token outside the lead time is covered here too
	if !expiring {
		c.mu.Unlock()
		return unchanged(current)
	}
	if c.attempts >= c.cfg.MaxAttempts {
		attempts := c.attempts
		c.mu.Unlock()
		c.logger.Warn().Int("attempts", attempts).Msg("refresh attempt budget exhausted")
		return deferred(ErrAttemptBudgetExceeded)
	}

	inflight := &call{id: uuid.NewString(), done: make(chan struct{})}
	c.inflight = inflight
	c.exchanges++
	generation := c.generation
	c.mu.Unlock()

	c.run(ctx, inflight, generation, current)
	return inflight.outcome
}

func (c *Coordinator) wait(ctx context.Context, inflight *call) Outcome {
	select {
	case <-inflight.done:
		return inflight.outcome
	case <-ctx.Done():
		return deferred(ctx.Err())
	}
}

// run performs the exchange and resolves inflight. The in-flight handle is
// cleared last so later callers start a new decision cycle.
func (c *Coordinator) run(ctx context.Context, inflight *call, generation uint64, current *tokens.TokenSet) {
	defer func() {
		r := recover()
		if r != nil {
			inflight.outcome = deferred(fmt.Errorf("refresh aborted: %v", r))
		}

		c.mu.Lock()
		if c.inflight == inflight {
			c.inflight = nil
		}
		c.mu.Unlock()
		close(inflight.done)

		if r != nil {
			panic(r)
		}
	}()

	exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
	defer cancel()

	exchangeCtx, span := c.tracer.Start(exchangeCtx, "refresh.exchange",
		trace.WithAttributes(attribute.String(instrumentation.AttrCallID, inflight.id)))
	defer span.End()

	started := c.now()
	resp, err := c.endpoint.Refresh(exchangeCtx, Grant{
		RefreshToken: current.RefreshToken,
		CodeVerifier: current.CodeVerifier,
	})
	finished := c.now()

	// persistence must not inherit the exchange deadline
	outcome := c.resolve(context.WithoutCancel(exchangeCtx), generation, current, resp, err, finished)

	c.metrics.RecordRefresh(ctx, outcome.Kind.String(), float64(finished.Sub(started).Milliseconds()))
	span.SetAttributes(
		attribute.String(instrumentation.AttrOutcome, outcome.Kind.String()),
		attribute.Int(instrumentation.AttrAttempts, c.Attempts()),
	)
	if outcome.Err != nil {
		instrumentation.RecordError(span, outcome.Err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	inflight.outcome = outcome
}

func (c *Coordinator) resolve(ctx context.Context, generation uint64, current *tokens.TokenSet, resp *TokenResponse, err error, now time.Time) Outcome {
	if err != nil {
		err = Classify(err)
		if errors.Is(err, ErrInvalidGrant) {
			if !c.endSession(ctx, "invalid_grant", &generation) {
				return deferred(ErrSessionChanged)
			}
			c.logger.Warn().Err(err).Msg("refresh token rejected, session ended")
			return loggedOut(err)
		}
		return c.fail(generation, err)
	}

	if resp == nil || resp.AccessToken == "" || resp.RefreshToken == "" {
		return c.fail(generation, fmt.Errorf("%w: access_token and refresh_token are required", ErrMalformedResponse))
	}

	expiresIn := time.Duration(resp.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	next := &tokens.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     now,
		ExpiresAt:    now.Add(expiresIn),
		CodeVerifier: current.CodeVerifier,
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		c.logger.Info().Msg("session changed during refresh, discarding result")
		return deferred(ErrSessionChanged)
	}
	c.attempts = 0
	c.lastSuccess = now
	c.mu.Unlock()

	if err := c.store.Save(ctx, next); err != nil {
		// the store already holds next in memory; the write is retried on the next save
		c.logger.Error().Err(err).Msg("failed to persist refreshed tokens")
	}

	c.logger.Debug().Time("expires_at", next.ExpiresAt).Msg("tokens refreshed")
	return refreshed(next.Clone())
}

func (c *Coordinator) fail(generation uint64, err error) Outcome {
	c.mu.Lock()
	if c.generation == generation {
		c.attempts++
	}
	attempts := c.attempts
	c.mu.Unlock()

	c.logger.Warn().Err(err).Int("attempts", attempts).Msg("token refresh failed, will retry")
	return deferred(err)
}

// Replace installs ts as the session (after sign-in) and resets the attempt
// state. An exchange still in flight for the previous session is discarded
// and callers holding ts no longer join it.
func (c *Coordinator) Replace(ctx context.Context, ts *tokens.TokenSet) error {
	if err := ts.Validate(); err != nil {
		return err
	}

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.resetLocked()
	return c.store.Save(ctx, ts)
}

// ForceLogout clears the stored tokens and resets the attempt state.
// It is idempotent and never fails; storage errors are only logged.
func (c *Coordinator) ForceLogout(ctx context.Context) {
	c.endSession(ctx, "logout", nil)
}

// endSession clears the session. With a non-nil generation it only acts if
// no reset happened since that generation was observed, and reports whether
// it did.
func (c *Coordinator) endSession(ctx context.Context, reason string, generation *uint64) (ended bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Msg("token store panicked during logout")
		}
	}()

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if generation != nil {
		c.mu.Lock()
		stale := c.generation != *generation
		c.mu.Unlock()
		if stale {
			return false
		}
	}

	c.resetLocked()
	ended = true
	c.metrics.RecordForcedLogout(ctx, reason)

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear tokens during logout")
	}
	return ended
}

// Reset zeroes the attempt counter and the last-refresh time and invalidates
// any in-flight exchange.
func (c *Coordinator) Reset() {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	c.resetLocked()
}

// resetLocked requires commitMu. The in-flight exchange, if any, is detached:
// it finishes under the old generation and its result is discarded.
func (c *Coordinator) resetLocked() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	c.lastSuccess = time.Time{}
	c.inflight = nil
	c.generation++
}

// ResetAttempts zeroes only the attempt counter. This is the manual retry
// path after the attempt budget is exhausted.
func (c *Coordinator) ResetAttempts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
}
