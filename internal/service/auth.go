// Package service provides the business logic layer (use cases).
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/pj-ledger-sync-go/internal/domain"
	"github.com/boddenberg/pj-ledger-sync-go/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

// AuthService implements the client-credentials token flow for API callers.
type AuthService struct {
	clients   port.ClientStore
	jwtSecret []byte
	accessTTL time.Duration
	logger    *zap.Logger
}

// NewAuthService creates an auth service.
func NewAuthService(clients port.ClientStore, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		clients:   clients,
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
		logger:    logger,
	}
}

// JWTClaims carries the custom claims in access tokens.
type JWTClaims struct {
	Sub      string `json:"sub"`
	ClientID string `json:"client_id"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// IssueToken exchanges a client id + secret for a short-lived access token.
// Unknown clients and wrong secrets both answer ErrUnauthorized.
func (s *AuthService) IssueToken(ctx context.Context, req *domain.TokenRequest) (*domain.TokenResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.IssueToken")
	defer span.End()

	if req.ClientID == "" {
		return nil, &domain.ErrValidation{Field: "client_id", Message: "required"}
	}
	if req.ClientSecret == "" {
		return nil, &domain.ErrValidation{Field: "client_secret", Message: "required"}
	}

	client, err := s.clients.GetAPIClient(ctx, req.ClientID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			s.logger.Warn("token request for unknown client", zap.String("client_id", req.ClientID))
			return nil, &domain.ErrUnauthorized{Message: "invalid client credentials"}
		}
		return nil, err
	}
	if !client.Active {
		return nil, &domain.ErrUnauthorized{Message: "invalid client credentials"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(req.ClientSecret)); err != nil {
		s.logger.Warn("token request with wrong secret", zap.String("client_id", req.ClientID))
		return nil, &domain.ErrUnauthorized{Message: "invalid client credentials"}
	}

	token, err := s.signAccessToken(client.UserID, client.ClientID)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("access token issued",
		zap.String("client_id", client.ClientID),
		zap.String("user_id", client.UserID),
	)

	return &domain.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.accessTTL.Seconds()),
	}, nil
}

// ValidateAccessToken parses and verifies a bearer token. Used by middleware.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}
	if claims.Type != "access" {
		return nil, &domain.ErrUnauthorized{Message: "invalid token type"}
	}
	if claims.Sub == "" {
		return nil, &domain.ErrUnauthorized{Message: "token missing subject"}
	}

	return claims, nil
}

func (s *AuthService) signAccessToken(userID, clientID string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Sub:      userID,
		ClientID: clientID,
		Type:     "access",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			Issuer:    "ledgersync-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
