package tokens

import (
	"strconv"
	"time"
)

// Keys names the secure store entries of one key schema
type Keys struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    string
	CreatedAt    string
	CodeVerifier string
}

// All returns every key of the schema
func (k Keys) All() []string {
	return []string{k.AccessToken, k.RefreshToken, k.ExpiresAt, k.CreatedAt, k.CodeVerifier}
}

// CurrentKeys is the key schema written by this version
var CurrentKeys = Keys{
	AccessToken:  "access_token",
	RefreshToken: "refresh_token",
	ExpiresAt:    "expires_at",
	CreatedAt:    "created_at",
	CodeVerifier: "code_verifier",
}

// LegacyKeys is the retired key schema read once by the Migrator
var LegacyKeys = Keys{
	AccessToken:  "userToken",
	RefreshToken: "userRefreshToken",
	ExpiresAt:    "userTokenExpiresAt",
	CreatedAt:    "userTokenCreatedAt",
	CodeVerifier: "pkceCodeVerifier",
}

// Timestamps are stored as decimal Unix seconds in both schemas.

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func parseUnix(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0), nil
}
