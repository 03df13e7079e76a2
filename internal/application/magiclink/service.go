package magiclink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/pkg/id"
)

const tokenLength = 48

// Store is the magic-link persistence collaborator.
type Store interface {
	Put(ctx context.Context, m *domain.MagicLink) error
	FindByToken(ctx context.Context, token string) (*domain.MagicLink, error)
	FindUnusedByEmail(ctx context.Context, email, purpose string) ([]domain.MagicLink, error)
	MarkUsed(ctx context.Context, magicLinkID string) error
	Delete(ctx context.Context, magicLinkID string) error
}

// Mailer delivers the link.
type Mailer interface {
	SendEmail(to, subject, body string, isHTML bool) error
}

// TokenGuard is the slice of the security guard this service needs.
type TokenGuard interface {
	GenerateSecureToken(length int, includeTimestamp bool) (string, error)
	ValidateTokenFormat(token string, expectedLength int) bool
}

// ValidationResult reports the outcome of a token validation. Valid is true
// at most once per token; every failure mode carries a user-safe message.
type ValidationResult struct {
	Valid       bool   `json:"valid"`
	Email       string `json:"email,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	MagicLinkID string `json:"magic_link_id,omitempty"`
	Message     string `json:"message,omitempty"`
}

type Service interface {
	Generate(ctx context.Context, email, purpose, recipientName string) (*domain.MagicLink, error)
	Validate(ctx context.Context, token string) (*ValidationResult, error)
	Revoke(ctx context.Context, token string) (bool, error)
}

// ServiceDeps collects the collaborators and tunables for NewService.
type ServiceDeps struct {
	Store         Store
	Mailer        Mailer
	Guard         TokenGuard
	FrontendURL   string
	LinkTTL       time.Duration // login and registration links
	InvitationTTL time.Duration
}

type service struct {
	store         Store
	mailer        Mailer
	guard         TokenGuard
	frontendURL   string
	linkTTL       time.Duration
	invitationTTL time.Duration
	now           func() time.Time
}

func NewService(deps ServiceDeps) Service {
	if deps.LinkTTL <= 0 {
		deps.LinkTTL = time.Hour
	}
	if deps.InvitationTTL <= 0 {
		deps.InvitationTTL = 7 * 24 * time.Hour
	}
	return &service{
		store:         deps.Store,
		mailer:        deps.Mailer,
		guard:         deps.Guard,
		frontendURL:   deps.FrontendURL,
		linkTTL:       deps.LinkTTL,
		invitationTTL: deps.InvitationTTL,
		now:           time.Now,
	}
}

// Generate issues a fresh link for the email and purpose. Outstanding unused
// login/registration links for the same email are superseded so only the
// newest one validates. A failed email send surfaces as an error; the caller
// must not report success for a link the user never received.
func (s *service) Generate(ctx context.Context, email, purpose, recipientName string) (*domain.MagicLink, error) {
	switch purpose {
	case domain.PurposeLogin, domain.PurposeRegistration, domain.PurposeInvitation:
	default:
		return nil, fmt.Errorf("unknown magic link purpose %q: %w", purpose, domain.ErrBadRequest)
	}

	token, err := s.guard.GenerateSecureToken(tokenLength, true)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	ttl := s.linkTTL
	if purpose == domain.PurposeInvitation {
		ttl = s.invitationTTL
	}

	if purpose != domain.PurposeInvitation {
		stale, err := s.store.FindUnusedByEmail(ctx, email, purpose)
		if err != nil {
			return nil, err
		}
		for _, old := range stale {
			if err := s.store.MarkUsed(ctx, old.MagicLinkID); err != nil && !errors.Is(err, domain.ErrAlreadyUsed) {
				slog.Warn("failed to supersede magic link", "magic_link_id", old.MagicLinkID, "err", err)
			}
		}
	}

	now := s.now()
	link := &domain.MagicLink{
		MagicLinkID: id.New(),
		Email:       email,
		Token:       token,
		Purpose:     purpose,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := s.store.Put(ctx, link); err != nil {
		return nil, err
	}

	if err := s.mailer.SendEmail(email, subjectFor(purpose), s.emailBody(token, purpose, recipientName), true); err != nil {
		return nil, fmt.Errorf("send magic link email: %w", err)
	}
	return link, nil
}

// Validate checks the token and marks the link used regardless of outcome
// class: success, already-used detection, and expiry detection all burn the
// token so it is single-shot even under concurrent submission.
func (s *service) Validate(ctx context.Context, token string) (*ValidationResult, error) {
	if !s.guard.ValidateTokenFormat(token, tokenLength) {
		return &ValidationResult{Valid: false, Message: "Invalid link format"}, nil
	}

	link, err := s.store.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &ValidationResult{Valid: false, Message: "Invalid or unknown link"}, nil
		}
		return nil, err
	}

	if link.Used {
		return &ValidationResult{Valid: false, Message: "This link has already been used"}, nil
	}

	if !link.ExpiresAt.After(s.now()) {
		if err := s.store.MarkUsed(ctx, link.MagicLinkID); err != nil && !errors.Is(err, domain.ErrAlreadyUsed) {
			slog.Warn("failed to burn expired magic link", "magic_link_id", link.MagicLinkID, "err", err)
		}
		return &ValidationResult{Valid: false, Message: "This link has expired"}, nil
	}

	// First writer wins: losing the mark-used race means someone else just
	// consumed this link, so we fail closed.
	if err := s.store.MarkUsed(ctx, link.MagicLinkID); err != nil {
		if errors.Is(err, domain.ErrAlreadyUsed) {
			return &ValidationResult{Valid: false, Message: "This link has already been used"}, nil
		}
		return nil, err
	}

	return &ValidationResult{
		Valid:       true,
		Email:       link.Email,
		Purpose:     link.Purpose,
		MagicLinkID: link.MagicLinkID,
	}, nil
}

// Revoke burns a link without validating purpose or expiry. Revoking an
// unknown or already-used token reports false without error.
func (s *service) Revoke(ctx context.Context, token string) (bool, error) {
	link, err := s.store.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.store.MarkUsed(ctx, link.MagicLinkID); err != nil {
		if errors.Is(err, domain.ErrAlreadyUsed) {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

func subjectFor(purpose string) string {
	switch purpose {
	case domain.PurposeRegistration:
		return "Finish setting up your AgriChain account"
	case domain.PurposeInvitation:
		return "You have been invited to AgriChain"
	default:
		return "Your AgriChain sign-in link"
	}
}

func (s *service) emailBody(token, purpose, recipientName string) string {
	greeting := "Hello"
	if recipientName != "" {
		greeting = "Hello " + recipientName
	}
	url := fmt.Sprintf("%s/auth/magic?token=%s", s.frontendURL, token)
	return fmt.Sprintf(
		`<p>%s,</p><p>Use the link below to continue. It can be used once and expires automatically.</p><p><a href="%s">Continue to AgriChain</a></p><p>If you did not request this, you can ignore this email.</p>`,
		greeting, url)
}
