package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/kamui-project/kamui-auth/internal/instrumentation"
	"github.com/kamui-project/kamui-auth/internal/securestore"
)

const (
	defaultSaveRetries = 2
	defaultSaveBackoff = 50 * time.Millisecond
)

// Store owns the canonical TokenSet. The in-memory value is updated before
// the secure store is written, so readers never see a value older than the
// last mutation even while persistence is pending.
type Store struct {
	secure  securestore.Store
	keys    Keys
	logger  zerolog.Logger
	metrics *instrumentation.Metrics

	// persistMu orders Save/Clear/Load against each other on the secure store
	persistMu sync.Mutex

	mu      sync.RWMutex
	current *TokenSet

	backoff func() retry.Backoff
}

// NewStore creates a Store over the current key schema
func NewStore(secure securestore.Store, logger zerolog.Logger, inst *instrumentation.Instrumentation) *Store {
	if inst == nil {
		inst = instrumentation.Noop()
	}
	return &Store{
		secure:  secure,
		keys:    CurrentKeys,
		logger:  logger.With().Str("component", "token_store").Logger(),
		metrics: inst.Metrics(),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(defaultSaveRetries, retry.NewExponential(defaultSaveBackoff))
		},
	}
}

// SetSaveBackoff overrides the retry policy for Save. Used by tests.
func (s *Store) SetSaveBackoff(fn func() retry.Backoff) {
	s.backoff = fn
}

// Current returns a copy of the in-memory TokenSet, or nil when signed out
func (s *Store) Current() *TokenSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

func (s *Store) setCurrent(ts *TokenSet) {
	s.mu.Lock()
	s.current = ts.Clone()
	s.mu.Unlock()
}

// Load reads the persisted TokenSet and makes it current.
// A missing or malformed set yields nil with no error. A secure store failure
// yields nil and the *securestore.StorageError; callers treat both as signed out.
func (s *Store) Load(ctx context.Context) (*TokenSet, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	ts, err := s.read(ctx)
	if err != nil {
		s.metrics.RecordStorageError(ctx, "get")
		s.logger.Warn().Err(err).Msg("failed to read tokens, treating as signed out")
		s.setCurrent(nil)
		return nil, err
	}

	s.setCurrent(ts)
	return ts.Clone(), nil
}

func (s *Store) read(ctx context.Context) (*TokenSet, error) {
	values := make(map[string]string, 5)
	for _, key := range s.keys.All() {
		v, err := s.secure.Get(ctx, key)
		if err != nil {
			if securestore.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		values[key] = v
	}

	access, refresh := values[s.keys.AccessToken], values[s.keys.RefreshToken]
	expiresRaw, createdRaw := values[s.keys.ExpiresAt], values[s.keys.CreatedAt]
	if access == "" || refresh == "" || expiresRaw == "" || createdRaw == "" {
		if len(values) > 0 {
			s.logger.Warn().Int("keys_present", len(values)).Msg("partial token set in storage, ignoring")
		}
		return nil, nil
	}

	expiresAt, err := parseUnix(expiresRaw)
	if err != nil {
		s.logger.Warn().Str("field", s.keys.ExpiresAt).Msg("malformed timestamp, ignoring stored tokens")
		return nil, nil
	}
	issuedAt, err := parseUnix(createdRaw)
	if err != nil {
		s.logger.Warn().Str("field", s.keys.CreatedAt).Msg("malformed timestamp, ignoring stored tokens")
		return nil, nil
	}

	ts := &TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     issuedAt,
		ExpiresAt:    expiresAt,
		CodeVerifier: values[s.keys.CodeVerifier],
	}
	if err := ts.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("stored tokens failed validation, ignoring")
		return nil, nil
	}
	return ts, nil
}

// Save makes ts current and persists every field. A failed write retries the
// whole save; the in-memory value stays updated even if all retries fail.
func (s *Store) Save(ctx context.Context, ts *TokenSet) error {
	if err := ts.Validate(); err != nil {
		return err
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.setCurrent(ts)

	fields := []struct{ key, value string }{
		{s.keys.AccessToken, ts.AccessToken},
		{s.keys.RefreshToken, ts.RefreshToken},
		{s.keys.ExpiresAt, formatUnix(ts.ExpiresAt)},
		{s.keys.CreatedAt, formatUnix(ts.IssuedAt)},
	}

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		for _, f := range fields {
			if err := s.secure.Set(ctx, f.key, f.value); err != nil {
				s.metrics.RecordStorageError(ctx, "set")
				s.logger.Debug().Err(err).Str("key", f.key).Msg("token write failed, retrying save")
				return retry.RetryableError(err)
			}
		}

		var err error
		if ts.CodeVerifier != "" {
			err = s.secure.Set(ctx, s.keys.CodeVerifier, ts.CodeVerifier)
		} else {
			err = s.secure.Delete(ctx, s.keys.CodeVerifier)
		}
		if err != nil {
			s.metrics.RecordStorageError(ctx, "set")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist tokens")
		return fmt.Errorf("failed to persist tokens: %w", err)
	}

	return nil
}

// Clear drops the in-memory TokenSet and deletes every persisted key.
// It is safe to call when nothing is stored.
func (s *Store) Clear(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.setCurrent(nil)
	return deleteKeys(ctx, s.secure, s.keys, s.metrics)
}

func deleteKeys(ctx context.Context, secure securestore.Store, keys Keys, metrics *instrumentation.Metrics) error {
	var errs error
	for _, key := range keys.All() {
		if err := secure.Delete(ctx, key); err != nil {
			metrics.RecordStorageError(ctx, "delete")
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
