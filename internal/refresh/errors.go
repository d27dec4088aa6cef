package refresh

import (
	"context"
	"errors"
	"net"
	"net/http"

	"golang.org/x/oauth2"
)

var (
	// ErrConfiguration means the client id needed by the token endpoint is missing
	ErrConfiguration = errors.New("missing client configuration")

	// ErrInvalidGrant means the server permanently rejected the refresh token
	ErrInvalidGrant = errors.New("refresh token rejected")

	// ErrNetwork wraps transport failures reaching the token endpoint
	ErrNetwork = errors.New("token endpoint unreachable")

	// ErrTimeout means the token endpoint did not answer in time
	ErrTimeout = errors.New("token endpoint timed out")

	// ErrServer wraps non-2xx responses other than invalid_grant
	ErrServer = errors.New("token endpoint error")

	// ErrMalformedResponse means a 2xx response lacked required fields
	ErrMalformedResponse = errors.New("malformed token response")

	// ErrSessionChanged means a sign-in or logout happened while the exchange
	// was in flight, so its result was dropped
	ErrSessionChanged = errors.New("session changed during refresh")

	// ErrAttemptBudgetExceeded is local policy: too many consecutive failures
	ErrAttemptBudgetExceeded = errors.New("max attempts exceeded")
)

// invalidGrantCode is the RFC 6749 error code for a dead refresh token
const invalidGrantCode = "invalid_grant"

// Classify maps an endpoint error onto the refresh error taxonomy.
// The returned error wraps both the sentinel and the original error.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{ErrConfiguration, ErrInvalidGrant, ErrNetwork, ErrTimeout, ErrServer, ErrMalformedResponse} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		if rerr.ErrorCode == invalidGrantCode && !isServerStatus(rerr.Response) {
			return &classifiedError{kind: ErrInvalidGrant, err: err}
		}
		return &classifiedError{kind: ErrServer, err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &classifiedError{kind: ErrTimeout, err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &classifiedError{kind: ErrTimeout, err: err}
	}

	return &classifiedError{kind: ErrNetwork, err: err}
}

// isServerStatus reports a 5xx response. invalid_grant only ends the session
// when the server answered with a client error.
func isServerStatus(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= http.StatusInternalServerError
}

// IsTerminal reports whether err ends the session
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidGrant) || errors.Is(err, ErrConfiguration)
}

type classifiedError struct {
	kind error
	err  error
}

func (e *classifiedError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.kind, e.err}
}
