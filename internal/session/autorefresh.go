package session

import (
	"context"
	"errors"
	"time"

	"github.com/kamui-project/kamui-auth/internal/refresh"
)

// AutoRefresh keeps the session fresh until ctx ends or the session does.
// It sleeps until the access token enters the lead time, refreshes, and
// repeats. After a Deferred or cooled-down attempt it waits the minimum
// refresh interval before trying again. It returns nil on logout or when ctx
// ends, and ErrAttemptBudgetExceeded once the budget is spent.
func (s *Session) AutoRefresh(ctx context.Context) error {
	cfg := s.coord.Config()

	for {
		ts := s.store.Current()
		if ts == nil {
			return nil
		}

		if wait := ts.ExpiresAt.Sub(s.now()) - cfg.LeadTime; wait > 0 {
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		out := s.EnsureFresh(ctx)
		switch out.Kind {
		case refresh.LoggedOut:
			s.logger.Info().Msg("session ended, stopping auto refresh")
			return nil
		case refresh.Refreshed:
			continue
		case refresh.Deferred:
			if errors.Is(out.Err, refresh.ErrAttemptBudgetExceeded) {
				s.logger.Warn().Msg("refresh attempt budget exhausted, stopping auto refresh")
				return out.Err
			}
			s.logger.Debug().Str("reason", out.Reason()).Msg("refresh deferred")
		}

		if !sleep(ctx, cfg.MinRefreshInterval) {
			return nil
		}
	}
}

// sleep waits for d and reports false if ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
