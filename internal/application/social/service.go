package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/infrastructure/google"
)

// Users is the user persistence collaborator.
type Users interface {
	FindByID(ctx context.Context, userID string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
}

// TokenVerifier validates a provider ID token and returns the normalized
// profile.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*google.Profile, error)
}

// Outcome is the result of a social authentication attempt. Exactly one of
// User or RequiresRegistration is meaningful: an unknown verified identity is
// not an error, it is a registration hand-off carrying the profile.
type Outcome struct {
	User                 *domain.User    `json:"user,omitempty"`
	Profile              *google.Profile `json:"profile,omitempty"`
	RequiresRegistration bool            `json:"requires_registration"`
}

type Service interface {
	VerifyToken(ctx context.Context, idToken string) (*google.Profile, error)
	Authenticate(ctx context.Context, idToken string) (*Outcome, error)
	Link(ctx context.Context, userID, idToken string) (*domain.User, error)
	Unlink(ctx context.Context, userID, method string) (*domain.User, error)
}

type service struct {
	users    Users
	verifier TokenVerifier
}

func NewService(users Users, verifier TokenVerifier) Service {
	return &service{users: users, verifier: verifier}
}

// VerifyToken validates the ID token and requires a provider-verified email,
// since email is the join key between provider identity and local accounts.
func (s *service) VerifyToken(ctx context.Context, idToken string) (*google.Profile, error) {
	profile, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, err
	}
	if !profile.VerifiedEmail {
		return nil, fmt.Errorf("provider email not verified: %w", domain.ErrUnauthorized)
	}
	return profile, nil
}

// Authenticate resolves a verified provider identity to a local account.
// A known linked account authenticates; an existing account with the same
// email is auto-linked on first use; an unknown identity hands off to
// registration with the profile attached.
func (s *service) Authenticate(ctx context.Context, idToken string) (*Outcome, error) {
	profile, err := s.VerifyToken(ctx, idToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, profile.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &Outcome{Profile: profile, RequiresRegistration: true}, nil
		}
		return nil, err
	}

	if user.GoogleSub != "" && user.GoogleSub != profile.ID {
		return nil, fmt.Errorf("account is linked to a different google identity: %w", domain.ErrConflict)
	}

	if !user.HasAuthMethod(domain.MethodGoogle) {
		if err := s.linkProfile(ctx, user, profile); err != nil {
			return nil, err
		}
		slog.Info("auto-linked google identity", "user_id", user.UserID)
	}
	return &Outcome{User: user, Profile: profile}, nil
}

// Link attaches the provider identity to an existing account. The token's
// email must match the account's email; linking someone else's identity is a
// conflict, not a merge.
func (s *service) Link(ctx context.Context, userID, idToken string) (*domain.User, error) {
	profile, err := s.VerifyToken(ctx, idToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Email != profile.Email {
		return nil, fmt.Errorf("token email does not match account email: %w", domain.ErrForbidden)
	}
	if user.GoogleSub != "" && user.GoogleSub != profile.ID {
		return nil, fmt.Errorf("account is linked to a different google identity: %w", domain.ErrConflict)
	}
	if user.HasAuthMethod(domain.MethodGoogle) {
		return user, nil
	}
	if err := s.linkProfile(ctx, user, profile); err != nil {
		return nil, err
	}
	return user, nil
}

// Unlink detaches an auth method. An account must always keep at least one
// way to sign in.
func (s *service) Unlink(ctx context.Context, userID, method string) (*domain.User, error) {
	switch method {
	case domain.MethodMagicLink, domain.MethodOTP, domain.MethodGoogle:
	default:
		return nil, fmt.Errorf("unknown auth method %q: %w", method, domain.ErrBadRequest)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasAuthMethod(method) {
		return nil, fmt.Errorf("method %s is not linked: %w", method, domain.ErrBadRequest)
	}
	if len(user.AuthMethods) <= 1 {
		return nil, fmt.Errorf("cannot unlink the last auth method: %w", domain.ErrForbidden)
	}

	kept := make([]string, 0, len(user.AuthMethods)-1)
	for _, m := range user.AuthMethods {
		if m != method {
			kept = append(kept, m)
		}
	}
	updates := map[string]interface{}{"auth_methods": kept}
	if method == domain.MethodGoogle {
		updates["google_sub"] = ""
	}
	if err := s.users.Update(ctx, user.UserID, updates); err != nil {
		return nil, err
	}
	user.AuthMethods = kept
	if method == domain.MethodGoogle {
		user.GoogleSub = ""
	}
	return user, nil
}

func (s *service) linkProfile(ctx context.Context, user *domain.User, profile *google.Profile) error {
	methods := append(append([]string{}, user.AuthMethods...), domain.MethodGoogle)
	updates := map[string]interface{}{
		"google_sub":   profile.ID,
		"auth_methods": methods,
	}
	if user.Picture == "" && profile.Picture != "" {
		updates["picture"] = profile.Picture
	}
	if err := s.users.Update(ctx, user.UserID, updates); err != nil {
		return err
	}
	user.GoogleSub = profile.ID
	user.AuthMethods = methods
	if user.Picture == "" {
		user.Picture = profile.Picture
	}
	return nil
}
