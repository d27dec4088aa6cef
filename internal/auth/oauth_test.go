package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callbackBrowser simulates the user approving the sign-in: it follows the
// authorize URL straight to the redirect URI with the given code
func callbackBrowser(t *testing.T, code string, mutate func(url.Values)) (func(string) error, chan url.Values) {
	t.Helper()
	seen := make(chan url.Values, 1)
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		seen <- q

		cb := url.Values{}
		cb.Set("code", code)
		cb.Set("state", q.Get("state"))
		if mutate != nil {
			mutate(cb)
		}
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?" + cb.Encode())
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}, seen
}

func newTestFlow(apiURL string) *OAuthFlow {
	flow := NewOAuthFlow(apiURL)
	flow.SetCallbackPort(0)
	flow.SetOutput(io.Discard)
	flow.SetTimeout(5 * time.Second)
	return flow
}

func TestOAuthFlow_LoginWithPKCE(t *testing.T) {
	flow := newTestFlow("https://auth.example.com")
	flow.SetClientCredentials("cid", "")
	open, seen := callbackBrowser(t, "auth-code", nil)
	flow.SetURLOpener(open)

	result, err := flow.Login(context.Background())
	require.NoError(t, err)

	q := <-seen
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEqual(t, result.Verifier, q.Get("code_challenge"), "only the challenge leaves the process")
	assert.Len(t, q.Get("state"), 36)

	assert.Equal(t, "auth-code", result.Code)
	assert.NotEmpty(t, result.Verifier)
	assert.Equal(t, q.Get("redirect_uri"), result.RedirectURI)

	redirect, err := url.Parse(result.RedirectURI)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", redirect.Hostname(), "the redirect host must match the IPv4 listener")
	assert.Equal(t, "/callback", redirect.Path)
}

func TestOAuthFlow_LoginStateMismatch(t *testing.T) {
	flow := newTestFlow("https://auth.example.com")
	flow.SetClientCredentials("cid", "")
	open, _ := callbackBrowser(t, "code", func(v url.Values) { v.Set("state", "forged") })
	flow.SetURLOpener(open)

	_, err := flow.Login(context.Background())
	assert.ErrorIs(t, err, ErrStateMismatch)
}

func TestOAuthFlow_LoginDenied(t *testing.T) {
	flow := newTestFlow("https://auth.example.com")
	flow.SetClientCredentials("cid", "")
	open, _ := callbackBrowser(t, "", func(v url.Values) {
		v.Del("code")
		v.Set("error", "access_denied")
	})
	flow.SetURLOpener(open)

	_, err := flow.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_denied")
}

func TestOAuthFlow_LoginContextCancelled(t *testing.T) {
	flow := newTestFlow("https://auth.example.com")
	flow.SetClientCredentials("cid", "")
	flow.SetURLOpener(func(string) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := flow.Login(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOAuthFlow_LoginRegistersClient(t *testing.T) {
	var registered map[string]interface{}
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
		writeJSON(w, http.StatusCreated, RegistrationResponse{ClientID: "registered-id"})
	})

	flow := newTestFlow(srv.URL)
	open, seen := callbackBrowser(t, "code", nil)
	flow.SetURLOpener(open)

	result, err := flow.Login(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "registered-id", (<-seen).Get("client_id"))
	require.NotNil(t, flow.GetClientCredentials())
	assert.Equal(t, "registered-id", flow.GetClientCredentials().ClientID)
	assert.Equal(t, []interface{}{result.RedirectURI}, registered["redirect_uris"])
}

func TestOAuthFlow_RegisterClientFailure(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	flow := newTestFlow(srv.URL)
	_, err := flow.RegisterClient(context.Background(), "http://localhost:9876/callback")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Nil(t, flow.GetClientCredentials())
}
