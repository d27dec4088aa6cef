// Package auth talks to the Kamui authorization server: the browser-based
// sign-in with PKCE, dynamic client registration, and the token endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"
)

const (
	// DefaultCallbackPort is the default port for the local OAuth callback server
	DefaultCallbackPort = 9876

	// callbackHost is both the listener address and the redirect URI host.
	// "localhost" may resolve to ::1 first and miss the IPv4 listener.
	callbackHost = "127.0.0.1"

	// DefaultClientName is the default name for dynamic client registration
	DefaultClientName = "Kamui CLI"

	// DefaultLoginTimeout bounds the wait for the browser callback
	DefaultLoginTimeout = 5 * time.Minute
)

// ErrStateMismatch means the callback did not carry the state we sent
var ErrStateMismatch = errors.New("state mismatch")

// LoginResult is what the browser sign-in yields: an authorization code and
// the verifier needed to redeem it
type LoginResult struct {
	Code        string
	Verifier    string
	RedirectURI string
}

// RegistrationResponse represents the response from dynamic client registration
type RegistrationResponse struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// OAuthFlow handles the browser part of the OAuth authentication flow
type OAuthFlow struct {
	apiURL       string
	clientID     string
	clientSecret string
	callbackPort int
	timeout      time.Duration
	httpClient   *http.Client
	out          io.Writer
	openURL      func(string) error
}

// NewOAuthFlow creates a new OAuth flow handler
func NewOAuthFlow(apiURL string) *OAuthFlow {
	return &OAuthFlow{
		apiURL:       strings.TrimRight(apiURL, "/"),
		callbackPort: DefaultCallbackPort,
		timeout:      DefaultLoginTimeout,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		out:          os.Stdout,
		openURL:      browser.OpenURL,
	}
}

// SetClientCredentials sets the OAuth client credentials
func (o *OAuthFlow) SetClientCredentials(clientID, clientSecret string) {
	o.clientID = clientID
	o.clientSecret = clientSecret
}

// SetCallbackPort sets the first port tried for the callback server.
// Zero picks any free port.
func (o *OAuthFlow) SetCallbackPort(port int) {
	o.callbackPort = port
}

// SetOutput redirects user-facing messages
func (o *OAuthFlow) SetOutput(w io.Writer) {
	o.out = w
}

// SetURLOpener replaces the browser launcher
func (o *OAuthFlow) SetURLOpener(open func(string) error) {
	o.openURL = open
}

// SetTimeout bounds the wait for the browser callback
func (o *OAuthFlow) SetTimeout(d time.Duration) {
	o.timeout = d
}

// GetClientCredentials returns the current client credentials
func (o *OAuthFlow) GetClientCredentials() *ClientCredentials {
	if o.clientID == "" {
		return nil
	}
	return &ClientCredentials{
		ClientID:     o.clientID,
		ClientSecret: o.clientSecret,
	}
}

// RegisterClient performs OAuth Dynamic Client Registration (RFC 7591)
// This should be called before Login if no client credentials are stored
func (o *OAuthFlow) RegisterClient(ctx context.Context, redirectURI string) (*ClientCredentials, error) {
	reqBody := map[string]interface{}{
		"client_name":                DefaultClientName,
		"redirect_uris":              []string{redirectURI},
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_method": "none",
		"scope":                      DefaultScope,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiURL+"/oauth/register", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client registration failed with status %d", resp.StatusCode)
	}

	var regResp RegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&regResp); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if regResp.ClientID == "" {
		return nil, errors.New("registration response has no client_id")
	}

	return &ClientCredentials{
		ClientID:     regResp.ClientID,
		ClientSecret: regResp.ClientSecret,
	}, nil
}

// Login performs the browser part of the sign-in.
// It starts a local server, opens the browser at the authorize URL with a
// PKCE challenge, and waits for the callback with the authorization code.
// Redeeming the code is left to the caller.
func (o *OAuthFlow) Login(ctx context.Context) (*LoginResult, error) {
	listener, err := o.listen()
	if err != nil {
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	redirectURI := fmt.Sprintf("http://%s:%d/callback", callbackHost, port)

	// If no client credentials, register first
	if o.clientID == "" {
		fmt.Fprintln(o.out, "Registering CLI with Kamui Platform...")
		creds, err := o.RegisterClient(ctx, redirectURI)
		if err != nil {
			listener.Close()
			return nil, fmt.Errorf("failed to register client: %w", err)
		}
		o.clientID = creds.ClientID
		o.clientSecret = creds.ClientSecret
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server := o.startCallbackServer(listener, state, codeChan, errChan)
	defer server.Shutdown(context.Background())

	authURL := o.buildAuthURL(redirectURI, state, verifier)

	fmt.Fprintln(o.out, "Opening browser for authentication...")
	fmt.Fprintf(o.out, "If the browser doesn't open, please visit:\n%s\n\n", authURL)

	if err := o.openURL(authURL); err != nil {
		fmt.Fprintf(o.out, "Failed to open browser automatically: %v\n", err)
	}

	fmt.Fprintln(o.out, "Waiting for authentication...")

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case code := <-codeChan:
		return &LoginResult{Code: code, Verifier: verifier, RedirectURI: redirectURI}, nil
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("authentication timed out")
	}
}

// listen binds the callback listener, trying ten ports from callbackPort
func (o *OAuthFlow) listen() (net.Listener, error) {
	if o.callbackPort == 0 {
		return net.Listen("tcp", net.JoinHostPort(callbackHost, "0"))
	}
	var lastErr error
	for port := o.callbackPort; port < o.callbackPort+10; port++ {
		listener, err := net.Listen("tcp", net.JoinHostPort(callbackHost, strconv.Itoa(port)))
		if err == nil {
			return listener, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no available port found: %w", lastErr)
}

// startCallbackServer starts the local OAuth callback server
func (o *OAuthFlow) startCallbackServer(listener net.Listener, expectedState string, codeChan chan<- string, errChan chan<- error) *http.Server {
	mux := http.NewServeMux()

	report := func(err error) {
		select {
		case errChan <- err:
		default:
		}
	}

	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if query.Get("state") != expectedState {
			report(ErrStateMismatch)
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}

		if errMsg := query.Get("error"); errMsg != "" {
			report(fmt.Errorf("OAuth error: %s - %s", errMsg, query.Get("error_description")))
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, resultHTML("Authentication failed. You can close this window."))
			return
		}

		code := query.Get("code")
		if code == "" {
			report(errors.New("no authorization code received"))
			http.Error(w, "No code received", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, resultHTML("Authentication successful! You can close this window."))

		select {
		case codeChan <- code:
		default:
		}
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go server.Serve(listener)

	return server
}

// buildAuthURL builds the OAuth authorization URL with an S256 challenge
func (o *OAuthFlow) buildAuthURL(redirectURI, state, verifier string) string {
	cfg := &oauth2.Config{
		ClientID: o.clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  o.apiURL + "/oauth/authorize",
			TokenURL: o.apiURL + "/oauth/token",
		},
		RedirectURL: redirectURI,
		Scopes:      []string{DefaultScope},
	}
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// resultHTML returns the HTML page shown after the callback
func resultHTML(message string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>Kamui CLI</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background-color: #f5f5f5;
        }
        .container {
            text-align: center;
            padding: 40px;
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        h1 { color: #333; margin-bottom: 10px; }
        p { color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Kamui CLI</h1>
        <p>%s</p>
    </div>
</body>
</html>`, message)
}
