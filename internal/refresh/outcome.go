// Package refresh decides when the access token must be renewed and performs
// the renewal. Concurrent callers are deduplicated into one token endpoint
// exchange and all receive the same Outcome.
package refresh

import (
	"github.com/kamui-project/kamui-auth/internal/tokens"
)

// Kind is the result class of EnsureFresh
type Kind int

const (
	// Unchanged means the current tokens are good enough
	Unchanged Kind = iota
	// Refreshed means a new TokenSet was obtained and persisted
	Refreshed
	// LoggedOut means there is no session, or it was ended
	LoggedOut
	// Deferred means the refresh failed transiently; retry later
	Deferred
)

func (k Kind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Refreshed:
		return "refreshed"
	case LoggedOut:
		return "logged_out"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Outcome is the result of EnsureFresh. Tokens is set for Unchanged and
// Refreshed; Err is set for Deferred and for LoggedOut caused by a failure.
type Outcome struct {
	Kind   Kind
	Tokens *tokens.TokenSet
	Err    error
}

// Reason describes why the outcome was Deferred or LoggedOut
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func unchanged(ts *tokens.TokenSet) Outcome {
	return Outcome{Kind: Unchanged, Tokens: ts}
}

func refreshed(ts *tokens.TokenSet) Outcome {
	return Outcome{Kind: Refreshed, Tokens: ts}
}

func loggedOut(err error) Outcome {
	return Outcome{Kind: LoggedOut, Err: err}
}

func deferred(err error) Outcome {
	return Outcome{Kind: Deferred, Err: err}
}

// State is the lifecycle state of the current TokenSet
type State int

const (
	// Invalid means no usable tokens
	Invalid State = iota
	// Valid means the access token is far from expiry
	Valid
	// ExpiringSoon means the access token is inside the lead time
	ExpiringSoon
	// Refreshing means a token endpoint exchange is in flight
	Refreshing
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case ExpiringSoon:
		return "expiring_soon"
	case Refreshing:
		return "refreshing"
	default:
		return "invalid"
	}
}
