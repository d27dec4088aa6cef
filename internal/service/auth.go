package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kamui-project/kamui-auth/internal/api"
	"github.com/kamui-project/kamui-auth/internal/auth"
	"github.com/kamui-project/kamui-auth/internal/config"
	"github.com/kamui-project/kamui-auth/internal/refresh"
	iface "github.com/kamui-project/kamui-auth/internal/service/interface"
	"github.com/kamui-project/kamui-auth/internal/session"
)

// ErrNotLoggedIn is returned by commands that need a session
var ErrNotLoggedIn = errors.New("not logged in. Please run 'kamui-auth login' first")

// AuthOptions wires an authService
type AuthOptions struct {
	ConfigManager *config.Manager
	Config        *config.Config
	Session       *session.Session

	// NewFlow builds the browser sign-in. Nil uses auth.NewOAuthFlow.
	NewFlow func(apiURL string) *auth.OAuthFlow

	// OnClientChanged is told about a new registration or redirect URI so the
	// token endpoint client and the coordinator use them for later refreshes
	OnClientChanged func(creds auth.ClientCredentials, redirectURI string)

	// HTTPClient is the base client for API calls. Nil uses the default.
	HTTPClient *http.Client
}

// authService implements iface.AuthService
type authService struct {
	configManager   *config.Manager
	cfg             *config.Config
	session         *session.Session
	newFlow         func(apiURL string) *auth.OAuthFlow
	onClientChanged func(creds auth.ClientCredentials, redirectURI string)
	httpClient      *http.Client
}

// NewAuthService creates a new authentication service
func NewAuthService(opts AuthOptions) iface.AuthService {
	s := &authService{
		configManager:   opts.ConfigManager,
		cfg:             opts.Config,
		session:         opts.Session,
		newFlow:         opts.NewFlow,
		onClientChanged: opts.OnClientChanged,
		httpClient:      opts.HTTPClient,
	}
	if s.newFlow == nil {
		s.newFlow = auth.NewOAuthFlow
	}
	return s
}

// Login performs the browser sign-in and stores the session
func (s *authService) Login(ctx context.Context) error {
	if s.IsLoggedIn() {
		return fmt.Errorf("already logged in. Use 'kamui-auth logout' first to log out")
	}

	oauthFlow := s.newFlow(s.cfg.APIURL)
	if s.cfg.ClientID != "" {
		oauthFlow.SetClientCredentials(s.cfg.ClientID, s.cfg.ClientSecret)
	}

	result, err := oauthFlow.Login(ctx)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	// Save client credentials if newly registered
	creds := oauthFlow.GetClientCredentials()
	if creds != nil && s.cfg.ClientID == "" {
		if err := s.configManager.SaveClientCredentials(creds.ClientID, creds.ClientSecret); err != nil {
			return fmt.Errorf("failed to save client credentials: %w", err)
		}
		s.cfg.ClientID = creds.ClientID
		s.cfg.ClientSecret = creds.ClientSecret
	}

	// The refresh grant must repeat the redirect URI of this sign-in
	if result.RedirectURI != s.cfg.RedirectURI {
		if err := s.configManager.SaveRedirectURI(result.RedirectURI); err != nil {
			return fmt.Errorf("failed to save redirect URI: %w", err)
		}
		s.cfg.RedirectURI = result.RedirectURI
	}

	if s.onClientChanged != nil {
		s.onClientChanged(auth.ClientCredentials{
			ClientID:     s.cfg.ClientID,
			ClientSecret: s.cfg.ClientSecret,
		}, s.cfg.RedirectURI)
	}

	if _, err := s.session.ExchangeCode(ctx, result.Code, result.Verifier, result.RedirectURI); err != nil {
		return fmt.Errorf("failed to redeem authorization code: %w", err)
	}
	return nil
}

// Logout clears the stored session
func (s *authService) Logout(ctx context.Context) error {
	if !s.IsLoggedIn() {
		return fmt.Errorf("not logged in")
	}
	s.session.Logout(ctx)
	return nil
}

// IsLoggedIn reports whether a session exists
// Note: This only checks if tokens exist, not if they're valid
func (s *authService) IsLoggedIn() bool {
	return s.session.SignedIn()
}

// Status describes the current session without refreshing it
func (s *authService) Status(ctx context.Context) (*iface.Status, error) {
	status := &iface.Status{
		State:     s.session.State().String(),
		Attempts:  s.session.RefreshStats().Attempts,
		APIURL:    s.cfg.APIURL,
		ClientID:  s.cfg.ClientID,
		StorePath: s.cfg.StorePath,
	}

	if ts := s.session.Tokens(); ts != nil {
		status.SignedIn = true
		status.ExpiresAt = ts.ExpiresAt
		status.IssuedAt = ts.IssuedAt
		status.HasVerifier = ts.CodeVerifier != ""
	}
	return status, nil
}

// EnsureAuthenticated checks login status and refreshes token if needed
func (s *authService) EnsureAuthenticated(ctx context.Context) error {
	if !s.IsLoggedIn() {
		return ErrNotLoggedIn
	}

	out := s.session.EnsureFresh(ctx)
	switch out.Kind {
	case refresh.LoggedOut:
		return fmt.Errorf("session expired (%s). Please run 'kamui-auth login' again", out.Reason())
	case refresh.Deferred:
		if errors.Is(out.Err, refresh.ErrAttemptBudgetExceeded) {
			return fmt.Errorf("token refresh keeps failing. Run 'kamui-auth refresh --reset' to try again: %w", out.Err)
		}
	}
	return nil
}

// GetAccessToken returns the current access token, refreshing if needed.
// A deferred refresh still hands out the current token.
func (s *authService) GetAccessToken(ctx context.Context) (string, error) {
	if err := s.EnsureAuthenticated(ctx); err != nil {
		return "", err
	}

	token, ok := s.session.CurrentAccessToken()
	if !ok {
		return "", ErrNotLoggedIn
	}
	return token, nil
}

// Refresh runs one refresh decision
func (s *authService) Refresh(ctx context.Context, reset bool) (*iface.RefreshResult, error) {
	if !s.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	if reset {
		s.session.ResetRefreshAttempts()
	}

	out := s.session.EnsureFresh(ctx)
	result := &iface.RefreshResult{
		Outcome: out.Kind.String(),
		Reason:  out.Reason(),
	}
	if out.Tokens != nil {
		result.ExpiresAt = out.Tokens.ExpiresAt
	} else if ts := s.session.Tokens(); ts != nil {
		result.ExpiresAt = ts.ExpiresAt
	}
	return result, nil
}

// Watch keeps the session fresh until ctx ends or the session does
func (s *authService) Watch(ctx context.Context) error {
	if !s.IsLoggedIn() {
		return ErrNotLoggedIn
	}
	return s.session.AutoRefresh(ctx)
}

// WhoAmI fetches the account the session belongs to
func (s *authService) WhoAmI(ctx context.Context) (*api.User, error) {
	if err := s.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	client := api.NewClient(s.cfg.APIURL, s.session.HTTPClient(ctx, s.httpClient))
	user, err := client.GetCurrentUser(ctx)
	if err != nil {
		if errors.Is(err, session.ErrSignedOut) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("failed to fetch current user: %w", err)
	}
	return user, nil
}
