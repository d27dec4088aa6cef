package tokens

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kamui-project/kamui-auth/internal/instrumentation"
	"github.com/kamui-project/kamui-auth/internal/securestore"
)

// DefaultGraceWindow is how long past expiry a legacy token is still migrated.
// Such a token is refreshed on first use instead of forcing a new sign-in.
const DefaultGraceWindow = 5 * time.Minute

// Migration results reported to metrics
const (
	MigrationSkipped   = "skipped"
	MigrationNone      = "none"
	MigrationDiscarded = "discarded"
	MigrationMigrated  = "migrated"
	MigrationFailed    = "failed"
)

// Migrator moves tokens written under LegacyKeys into the current schema.
// It is one-directional and idempotent: once the legacy keys are gone, or a
// current-schema set exists, it does nothing.
type Migrator struct {
	secure  securestore.Store
	store   *Store
	keys    Keys
	grace   time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *instrumentation.Metrics
}

// NewMigrator creates a Migrator writing into store
func NewMigrator(secure securestore.Store, store *Store, logger zerolog.Logger, inst *instrumentation.Instrumentation) *Migrator {
	if inst == nil {
		inst = instrumentation.Noop()
	}
	return &Migrator{
		secure:  secure,
		store:   store,
		keys:    LegacyKeys,
		grace:   DefaultGraceWindow,
		now:     time.Now,
		logger:  logger.With().Str("component", "legacy_migrator").Logger(),
		metrics: inst.Metrics(),
	}
}

// SetClock overrides the time source. Used by tests.
func (m *Migrator) SetClock(now func() time.Time) {
	m.now = now
}

// Migrate converts legacy tokens, returning the migrated set or nil.
// It never fails: any problem degrades to "no prior session".
func (m *Migrator) Migrate(ctx context.Context) *TokenSet {
	result, ts := m.migrate(ctx)
	m.metrics.RecordMigration(ctx, result)
	if result != MigrationNone && result != MigrationSkipped {
		m.logger.Info().Str("result", result).Msg("legacy token migration finished")
	}
	return ts
}

func (m *Migrator) migrate(ctx context.Context) (string, *TokenSet) {
	existing, err := m.store.Load(ctx)
	if err != nil {
		// current schema unreadable; leave legacy data for the next start
		return MigrationFailed, nil
	}
	if existing != nil {
		return MigrationSkipped, nil
	}

	legacy, present, err := m.readLegacy(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to read legacy tokens")
		return MigrationFailed, nil
	}
	if legacy == nil {
		if present {
			m.clearLegacy(ctx)
			return MigrationDiscarded, nil
		}
		return MigrationNone, nil
	}

	now := m.now()
	if !legacy.ExpiresAt.After(now.Add(-m.grace)) {
		m.logger.Info().Time("expired_at", legacy.ExpiresAt).Msg("legacy token past grace window, discarding")
		m.clearLegacy(ctx)
		return MigrationDiscarded, nil
	}

	if !legacy.IssuedAt.Before(legacy.ExpiresAt) {
		legacy.IssuedAt = legacy.ExpiresAt.Add(-time.Second)
	}

	if err := m.store.Save(ctx, legacy); err != nil {
		// keep legacy keys so the next start retries
		m.logger.Warn().Err(err).Msg("failed to persist migrated tokens")
		_ = m.store.Clear(ctx)
		return MigrationFailed, nil
	}

	m.clearLegacy(ctx)
	return MigrationMigrated, legacy.Clone()
}

// readLegacy strictly decodes the legacy record. It returns (nil, true, nil)
// when legacy keys exist but do not form a usable record.
func (m *Migrator) readLegacy(ctx context.Context) (*TokenSet, bool, error) {
	values := make(map[string]string, 5)
	for _, key := range m.keys.All() {
		v, err := m.secure.Get(ctx, key)
		if err != nil {
			if securestore.IsNotFound(err) {
				continue
			}
			return nil, false, err
		}
		values[key] = v
	}
	if len(values) == 0 {
		return nil, false, nil
	}

	access, refresh, expiresRaw := values[m.keys.AccessToken], values[m.keys.RefreshToken], values[m.keys.ExpiresAt]
	if access == "" || refresh == "" || expiresRaw == "" {
		return nil, true, nil
	}

	expiresAt, err := parseUnix(expiresRaw)
	if err != nil {
		return nil, true, nil
	}

	issuedAt := m.now()
	if raw, ok := values[m.keys.CreatedAt]; ok {
		if t, err := parseUnix(raw); err == nil {
			issuedAt = t
		}
	}

	return &TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     issuedAt,
		ExpiresAt:    expiresAt,
		CodeVerifier: values[m.keys.CodeVerifier],
	}, true, nil
}

func (m *Migrator) clearLegacy(ctx context.Context) {
	if err := deleteKeys(ctx, m.secure, m.keys, m.metrics); err != nil {
		m.logger.Warn().Err(err).Msg("failed to delete legacy token keys")
	}
}
