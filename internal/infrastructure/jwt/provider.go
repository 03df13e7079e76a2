package jwtinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/agrichain-api/internal/config"
	"github.com/agrichain-api/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Issuer and audience are pinned: tokens minted elsewhere, or minted here
// but replayed against another service, fail verification.
const (
	Issuer   = "agrichain-api"
	Audience = "agrichain-clients"
)

// Claims holds the session token payload fields.
type Claims struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	AuthMethod string `json:"auth_method"`
	jwt.RegisteredClaims
}

// Provider signs and verifies HS256 session tokens. The signing method is
// fixed at construction; tokens presenting any other algorithm are rejected
// before signature verification (no alg-confusion downgrade).
type Provider struct {
	secret []byte
	expiry time.Duration
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is empty: %w", domain.ErrMisconfigured)
	}
	return &Provider{secret: []byte(cfg.JWTSecret), expiry: cfg.SessionTTL}, nil
}

func (p *Provider) Sign(sessionID, userID, role, authMethod string) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID:  sessionID,
		UserID:     userID,
		Role:       role,
		AuthMethod: authMethod,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(p.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// SignWithExpiry mints a token whose exp claim matches the given session
// expiry instead of the default TTL. Used on refresh, where the session row
// already carries the extended deadline.
func (p *Provider) SignWithExpiry(sessionID, userID, role, authMethod string, expiresAt time.Time) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID:  sessionID,
		UserID:     userID,
		Role:       role,
		AuthMethod: authMethod,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// Verify checks the signature and registered claims, translating library
// errors into the domain taxonomy so callers never branch on jwt internals.
func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("token expired: %w", domain.ErrExpired)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("malformed token: %w", domain.ErrInvalidFormat)
		default:
			return nil, fmt.Errorf("invalid token: %w", domain.ErrUnauthorized)
		}
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims: %w", domain.ErrUnauthorized)
	}
	return claims, nil
}
