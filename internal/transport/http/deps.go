package http

import (
	"context"
	"fmt"

	"github.com/agrichain-api/internal/application/audit"
	"github.com/agrichain-api/internal/application/guard"
	"github.com/agrichain-api/internal/application/social"
	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/infrastructure/dynamo"
	"github.com/agrichain-api/internal/infrastructure/google"
	jwtinfra "github.com/agrichain-api/internal/infrastructure/jwt"
	s3infra "github.com/agrichain-api/internal/infrastructure/s3"
	"github.com/agrichain-api/internal/infrastructure/smtp"
	"github.com/agrichain-api/internal/infrastructure/sns"
)

// Deps holds all infrastructure dependencies for the router. The router
// wires services from these; main only builds infrastructure.
type Deps struct {
	UserRepo      *dynamo.UserRepo
	SessionRepo   *dynamo.SessionRepo
	MagicLinkRepo *dynamo.MagicLinkRepo
	OTPRepo       *dynamo.OTPRepo

	// ArchiveStore is the audit compliance bucket; nil disables server-side
	// archival (exports still stream).
	ArchiveStore *s3infra.ArchiveStore

	Mailer smtp.Mailer

	// SMSSender is nil when SNS is not configured; SMS OTP requests then
	// report a misconfiguration error instead of panicking.
	SMSSender sns.SMSSender

	JWTProvider *jwtinfra.Provider

	// GoogleVerifier is nil when GOOGLE_CLIENT_ID is unset; Google sign-in
	// then reports a misconfiguration error instead of silently passing.
	GoogleVerifier social.TokenVerifier

	Guard *guard.Guard
	Trail *audit.Trail
}

// disabledVerifier stands in when social auth is not configured. It fails
// with the distinct misconfiguration sentinel so callers can tell "not set
// up" apart from "bad token".
type disabledVerifier struct{}

func (disabledVerifier) Verify(ctx context.Context, token string) (*google.Profile, error) {
	return nil, fmt.Errorf("google sign-in not configured: %w", domain.ErrMisconfigured)
}
