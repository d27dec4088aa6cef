package session

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/kamui-project/kamui-auth/internal/refresh"
)

type tokenSource struct {
	ctx     context.Context
	session *Session
}

// TokenSource returns an oauth2.TokenSource that runs EnsureFresh before
// handing out the access token. A Deferred refresh falls back to the current
// token and leaves the server to reject it if it has really expired.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, session: s}
}

// HTTPClient returns a client that authorizes every request with the session
func (s *Session) HTTPClient(ctx context.Context, base *http.Client) *http.Client {
	var transport http.RoundTripper
	var c http.Client
	if base != nil {
		c = *base
		transport = base.Transport
	}
	c.Transport = &oauth2.Transport{Source: s.TokenSource(ctx), Base: transport}
	return &c
}

func (t *tokenSource) Token() (*oauth2.Token, error) {
	out := t.session.EnsureFresh(t.ctx)

	switch out.Kind {
	case refresh.Unchanged, refresh.Refreshed:
		return out.Tokens.OAuth2(), nil
	case refresh.LoggedOut:
		if out.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSignedOut, out.Err)
		}
		return nil, ErrSignedOut
	}

	current := t.session.Tokens()
	if current == nil {
		return nil, ErrSignedOut
	}
	t.session.logger.Debug().Str("reason", out.Reason()).Msg("refresh deferred, using current token")
	return current.OAuth2(), nil
}
