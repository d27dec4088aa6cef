// Package iface defines service interfaces for the Kamui auth CLI.
// These interfaces enable dependency injection and mocking for tests.
package iface

import (
	"context"
	"time"

	"github.com/kamui-project/kamui-auth/internal/api"
)

// AuthService defines the interface for authentication operations
type AuthService interface {
	// Login performs the browser sign-in and stores the session
	Login(ctx context.Context) error

	// Logout clears the stored session
	Logout(ctx context.Context) error

	// IsLoggedIn reports whether a session exists. Expired sessions count.
	IsLoggedIn() bool

	// Status describes the current session without refreshing it
	Status(ctx context.Context) (*Status, error)

	// GetAccessToken returns the current access token, refreshing if needed
	GetAccessToken(ctx context.Context) (string, error)

	// EnsureAuthenticated checks login status and refreshes token if needed
	EnsureAuthenticated(ctx context.Context) error

	// Refresh runs one refresh decision. reset clears the attempt budget first.
	Refresh(ctx context.Context, reset bool) (*RefreshResult, error)

	// Watch keeps the session fresh until ctx ends or the session does
	Watch(ctx context.Context) error

	// WhoAmI fetches the account the session belongs to
	WhoAmI(ctx context.Context) (*api.User, error)
}

// Status is a snapshot of the session
type Status struct {
	SignedIn    bool      `json:"signed_in"`
	State       string    `json:"state"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	IssuedAt    time.Time `json:"issued_at,omitempty"`
	HasVerifier bool      `json:"has_code_verifier"`
	Attempts    int       `json:"refresh_attempts"`
	APIURL      string    `json:"api_url"`
	ClientID    string    `json:"client_id,omitempty"`
	StorePath   string    `json:"store_path"`
}

// RefreshResult reports what a refresh decision did
type RefreshResult struct {
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
