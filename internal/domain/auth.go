package domain

import "time"

// ============================================================
// Auth — API clients and token exchange
// ============================================================

// APIClient is a registered caller of the service. Secrets are stored as
// bcrypt hashes and never serialized outward.
type APIClient struct {
	ClientID   string    `json:"client_id"`
	SecretHash string    `json:"-"`
	Name       string    `json:"name"`
	UserID     string    `json:"user_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// TokenRequest is the body for POST /v1/auth/token.
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse is the body for 200 from POST /v1/auth/token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
