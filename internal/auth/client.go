package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/kamui-project/kamui-auth/internal/refresh"
)

const (
	// DefaultScope is requested on authorization and registration
	DefaultScope = "full"

	// maxResponseBytes bounds token endpoint response bodies
	maxResponseBytes = 1 << 20
)

// ClientCredentials contains OAuth client credentials
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// errorResponse is the RFC 6749 section 5.2 error body
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
}

// TokenClient talks to the Kamui token endpoint
type TokenClient struct {
	apiURL      string
	mu          sync.RWMutex
	creds       ClientCredentials
	redirectURI string
	httpClient  *http.Client
}

// NewTokenClient creates a TokenClient. A nil httpClient uses one without a
// client-level timeout; deadlines come from the request context, so the
// refresh request timeout is the only bound on an exchange.
func NewTokenClient(apiURL string, creds ClientCredentials, redirectURI string, httpClient *http.Client) *TokenClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &TokenClient{
		apiURL:      strings.TrimRight(apiURL, "/"),
		creds:       creds,
		redirectURI: redirectURI,
		httpClient:  httpClient,
	}
}

// TokenURL returns the token endpoint URL
func (c *TokenClient) TokenURL() string {
	return c.apiURL + "/oauth/token"
}

// AuthURL returns the authorization endpoint URL
func (c *TokenClient) AuthURL() string {
	return c.apiURL + "/oauth/authorize"
}

// ClientID returns the configured client id
func (c *TokenClient) ClientID() string {
	return c.credentials().ClientID
}

// SetClientCredentials replaces the credentials after a client registration
func (c *TokenClient) SetClientCredentials(creds ClientCredentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// SetRedirectURI replaces the redirect URI sent on refresh after a sign-in
func (c *TokenClient) SetRedirectURI(redirectURI string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redirectURI = redirectURI
}

func (c *TokenClient) credentials() ClientCredentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *TokenClient) currentRedirectURI() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.redirectURI
}

// OAuth2Config returns the oauth2 configuration for the authorization-code
// flow with the given redirect URI
func (c *TokenClient) OAuth2Config(redirectURI string) *oauth2.Config {
	if redirectURI == "" {
		redirectURI = c.currentRedirectURI()
	}
	creds := c.credentials()
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL(),
			TokenURL:  c.TokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      []string{DefaultScope},
	}
}

// Refresh performs the refresh_token grant. The deployment requires the PKCE
// verifier and redirect URI on refresh, which oauth2.Config cannot send, so
// the form is posted directly.
func (c *TokenClient) Refresh(ctx context.Context, grant refresh.Grant) (*refresh.TokenResponse, error) {
	creds := c.credentials()

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", creds.ClientID)
	data.Set("refresh_token", grant.RefreshToken)
	if redirectURI := c.currentRedirectURI(); redirectURI != "" {
		data.Set("redirect_uri", redirectURI)
	}
	if grant.CodeVerifier != "" {
		data.Set("code_verifier", grant.CodeVerifier)
	}
	if creds.ClientSecret != "" {
		data.Set("client_secret", creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retrieveError(resp, body)
	}

	var tokenResp refresh.TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrMalformedResponse, err)
	}
	return &tokenResp, nil
}

// Exchange trades an authorization code and its PKCE verifier for tokens
func (c *TokenClient) Exchange(ctx context.Context, code, verifier, redirectURI string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.OAuth2Config(redirectURI).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return tok, nil
}

func retrieveError(resp *http.Response, body []byte) *oauth2.RetrieveError {
	rerr := &oauth2.RetrieveError{Response: resp, Body: body}
	var e errorResponse
	if json.Unmarshal(body, &e) == nil {
		rerr.ErrorCode = e.Error
		rerr.ErrorDescription = e.ErrorDescription
		rerr.ErrorURI = e.ErrorURI
	}
	return rerr
}
