// Package tokens owns the access/refresh token pair: its in-memory value, its
// persisted mirror in the secure store, and the one-time migration from the
// retired key schema.
package tokens

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrIncompleteTokenSet is returned when a TokenSet is missing a required field
// or its expiry does not follow its issue time
var ErrIncompleteTokenSet = errors.New("incomplete token set")

// TokenSet is the authorization credential of the signed-in user
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time

	// CodeVerifier is the PKCE verifier from sign-in. The token endpoint
	// requires it on every refresh, so it survives rotation.
	CodeVerifier string
}

// Validate checks that every required field is present
func (ts *TokenSet) Validate() error {
	if ts == nil || ts.AccessToken == "" || ts.RefreshToken == "" ||
		ts.IssuedAt.IsZero() || ts.ExpiresAt.IsZero() {
		return ErrIncompleteTokenSet
	}
	if !ts.ExpiresAt.After(ts.IssuedAt) {
		return ErrIncompleteTokenSet
	}
	return nil
}

// ExpiresWithin reports whether the access token expires before now+d
func (ts *TokenSet) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !ts.ExpiresAt.After(now.Add(d))
}

// Clone returns a copy, or nil for nil
func (ts *TokenSet) Clone() *TokenSet {
	if ts == nil {
		return nil
	}
	c := *ts
	return &c
}

// OAuth2 converts the set into an oauth2.Token for HTTP transports
func (ts *TokenSet) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  ts.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: ts.RefreshToken,
		Expiry:       ts.ExpiresAt,
	}
}

// FromOAuth2 builds a TokenSet from a token endpoint response issued at now.
// A token without an expiry is given a one hour lifetime.
func FromOAuth2(tok *oauth2.Token, codeVerifier string, now time.Time) *TokenSet {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(time.Hour)
	}
	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
		CodeVerifier: codeVerifier,
	}
}
