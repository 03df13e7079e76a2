package google

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"

	"github.com/agrichain-api/internal/domain"
)

// Profile holds the normalized identity extracted from a verified ID token.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	VerifiedEmail bool   `json:"verified_email"`
	Provider      string `json:"provider"`
}

// Verifier verifies Google ID tokens against a specific client ID.
type Verifier struct {
	clientID string
}

// NewVerifier builds a verifier. Returns ErrMisconfigured when no client ID
// is configured so callers report a distinct error instead of silently
// disabling social auth.
func NewVerifier(clientID string) (*Verifier, error) {
	if clientID == "" {
		return nil, fmt.Errorf("google client id not configured: %w", domain.ErrMisconfigured)
	}
	return &Verifier{clientID: clientID}, nil
}

// Verify validates the ID token's signature, issuer, audience and expiry,
// and returns the normalized profile.
func (v *Verifier) Verify(ctx context.Context, token string) (*Profile, error) {
	p, err := idtoken.Validate(ctx, token, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("invalid google token: %w", domain.ErrUnauthorized)
	}
	email, _ := p.Claims["email"].(string)
	emailVerified, _ := p.Claims["email_verified"].(bool)
	name, _ := p.Claims["name"].(string)
	picture, _ := p.Claims["picture"].(string)
	return &Profile{
		ID:            p.Subject,
		Email:         email,
		Name:          name,
		Picture:       picture,
		VerifiedEmail: emailVerified,
		Provider:      domain.MethodGoogle,
	}, nil
}
