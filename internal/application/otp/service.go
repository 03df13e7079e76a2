package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/pkg/id"
	"github.com/agrichain-api/internal/pkg/validate"
)

const codeLength = 6

// Store is the one-time-code persistence collaborator. The identifier is the
// primary key, so Put replaces any outstanding code for the same email/phone.
type Store interface {
	Put(ctx context.Context, o *domain.OTPRecord) error
	FindByIdentifier(ctx context.Context, identifier string) (*domain.OTPRecord, error)
	IncrementAttempts(ctx context.Context, identifier string) (int, error)
	MarkVerified(ctx context.Context, identifier string) error
	Delete(ctx context.Context, identifier string) error
}

type Mailer interface {
	SendEmail(to, subject, body string, isHTML bool) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// Gate is the slice of the security guard that fronts code issuance and
// validation.
type Gate interface {
	IsLockedOut(identifier string) bool
	CheckRateLimit(identifier, ip, userAgent string) bool
	RecordFailedAttempt(identifier, ip, userAgent string)
	RecordSuccessfulAttempt(identifier string)
}

// ValidationResult reports the outcome of one code check.
type ValidationResult struct {
	Valid             bool   `json:"valid"`
	Purpose           string `json:"purpose,omitempty"`
	RemainingAttempts int    `json:"remaining_attempts"`
	Message           string `json:"message,omitempty"`
}

type Service interface {
	Generate(ctx context.Context, identifier, channel, purpose, ip, userAgent string) (*domain.OTPRecord, error)
	Validate(ctx context.Context, identifier, code, ip, userAgent string) (*ValidationResult, error)
	Resend(ctx context.Context, identifier, ip, userAgent string) (*domain.OTPRecord, error)
}

type ServiceDeps struct {
	Store       Store
	Mailer      Mailer
	SMS         SMSSender
	Gate        Gate
	Expiry      time.Duration
	MaxAttempts int
}

type service struct {
	store       Store
	mailer      Mailer
	sms         SMSSender
	gate        Gate
	expiry      time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewService(deps ServiceDeps) Service {
	if deps.Expiry <= 0 {
		deps.Expiry = 10 * time.Minute
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 3
	}
	return &service{
		store:       deps.Store,
		mailer:      deps.Mailer,
		sms:         deps.SMS,
		gate:        deps.Gate,
		expiry:      deps.Expiry,
		maxAttempts: deps.MaxAttempts,
		now:         time.Now,
	}
}

// Generate issues a fresh 6-digit code for the identifier, replacing any
// outstanding one, and delivers it over the channel. Issuance is gated by the
// lockout and rate-limit registries, in that order, so a locked-out caller
// sees the lockout rather than burning rate-limit budget.
func (s *service) Generate(ctx context.Context, identifier, channel, purpose, ip, userAgent string) (*domain.OTPRecord, error) {
	switch channel {
	case domain.ChannelEmail:
		if !validate.Email(identifier) {
			return nil, fmt.Errorf("identifier is not a valid email: %w", domain.ErrInvalidFormat)
		}
	case domain.ChannelSMS:
		if !validate.Phone(identifier) {
			return nil, fmt.Errorf("identifier is not a valid E.164 phone number: %w", domain.ErrInvalidFormat)
		}
		if s.sms == nil {
			return nil, fmt.Errorf("sms delivery not configured: %w", domain.ErrMisconfigured)
		}
	default:
		return nil, fmt.Errorf("unknown otp channel %q: %w", channel, domain.ErrBadRequest)
	}

	if s.gate.IsLockedOut(identifier) {
		return nil, domain.ErrLockedOut
	}
	if !s.gate.CheckRateLimit(identifier, ip, userAgent) {
		return nil, domain.ErrRateLimited
	}

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate otp code: %w", err)
	}

	now := s.now()
	record := &domain.OTPRecord{
		OTPID:      id.New(),
		Identifier: identifier,
		Channel:    channel,
		Code:       code,
		Purpose:    purpose,
		ExpiresAt:  now.Add(s.expiry),
		CreatedAt:  now,
	}
	if err := s.store.Put(ctx, record); err != nil {
		return nil, err
	}

	if err := s.deliver(ctx, record); err != nil {
		return nil, fmt.Errorf("deliver otp: %w", err)
	}
	return record, nil
}

// Validate checks a submitted code. Every real comparison burns an attempt
// first, via an atomic counter, so concurrent submissions cannot share one.
// Obviously malformed codes are rejected before touching the counter.
func (s *service) Validate(ctx context.Context, identifier, code, ip, userAgent string) (*ValidationResult, error) {
	if !isDigits(code) || len(code) != codeLength {
		return &ValidationResult{Valid: false, Message: "Code must be 6 digits"}, nil
	}

	if s.gate.IsLockedOut(identifier) {
		return nil, domain.ErrLockedOut
	}

	record, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &ValidationResult{Valid: false, Message: "No active code; request a new one"}, nil
		}
		return nil, err
	}

	if record.Verified {
		return &ValidationResult{Valid: false, Message: "This code has already been used"}, nil
	}

	if !record.ExpiresAt.After(s.now()) {
		if err := s.store.Delete(ctx, identifier); err != nil {
			slog.Warn("failed to delete expired otp", "identifier", identifier, "err", err)
		}
		return &ValidationResult{Valid: false, Message: "This code has expired; request a new one"}, nil
	}

	attempts, err := s.store.IncrementAttempts(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Raced with expiry cleanup or a replacement code.
			return &ValidationResult{Valid: false, Message: "No active code; request a new one"}, nil
		}
		return nil, err
	}
	if attempts > s.maxAttempts {
		if err := s.store.Delete(ctx, identifier); err != nil {
			slog.Warn("failed to delete exhausted otp", "identifier", identifier, "err", err)
		}
		s.gate.RecordFailedAttempt(identifier, ip, userAgent)
		return nil, domain.ErrAttemptsExhausted
	}

	if record.Code != code {
		s.gate.RecordFailedAttempt(identifier, ip, userAgent)
		remaining := s.maxAttempts - attempts
		if remaining <= 0 {
			if err := s.store.Delete(ctx, identifier); err != nil {
				slog.Warn("failed to delete exhausted otp", "identifier", identifier, "err", err)
			}
			return nil, domain.ErrAttemptsExhausted
		}
		return &ValidationResult{
			Valid:             false,
			RemainingAttempts: remaining,
			Message:           fmt.Sprintf("Incorrect code; %d attempts remaining", remaining),
		}, nil
	}

	if err := s.store.MarkVerified(ctx, identifier); err != nil {
		if errors.Is(err, domain.ErrAlreadyUsed) {
			return &ValidationResult{Valid: false, Message: "This code has already been used"}, nil
		}
		return nil, err
	}
	s.gate.RecordSuccessfulAttempt(identifier)
	return &ValidationResult{Valid: true, Purpose: record.Purpose, RemainingAttempts: s.maxAttempts - attempts}, nil
}

// Resend re-delivers the outstanding code without changing its expiry or
// attempt count. With no outstanding code it reports ErrNotFound so the
// caller can fall back to Generate.
func (s *service) Resend(ctx context.Context, identifier, ip, userAgent string) (*domain.OTPRecord, error) {
	if s.gate.IsLockedOut(identifier) {
		return nil, domain.ErrLockedOut
	}
	if !s.gate.CheckRateLimit(identifier, ip, userAgent) {
		return nil, domain.ErrRateLimited
	}

	record, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if record.Verified || !record.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("no resendable code for identifier: %w", domain.ErrNotFound)
	}
	if err := s.deliver(ctx, record); err != nil {
		return nil, fmt.Errorf("deliver otp: %w", err)
	}
	return record, nil
}

func (s *service) deliver(ctx context.Context, record *domain.OTPRecord) error {
	minutes := int(s.expiry.Minutes())
	switch record.Channel {
	case domain.ChannelSMS:
		// A stored SMS record can outlive the sender configuration (service
		// restarted without SNS), so Resend needs the guard too.
		if s.sms == nil {
			return fmt.Errorf("sms delivery not configured: %w", domain.ErrMisconfigured)
		}
		return s.sms.SendSMS(ctx, record.Identifier,
			fmt.Sprintf("Your AgriChain verification code is %s. It expires in %d minutes.", record.Code, minutes))
	default:
		body := fmt.Sprintf(
			`<p>Your AgriChain verification code is:</p><p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p><p>It expires in %d minutes. If you did not request it, ignore this email.</p>`,
			record.Code, minutes)
		return s.mailer.SendEmail(record.Identifier, "Your AgriChain verification code", body, true)
	}
}

func generateCode() (string, error) {
	// 6 independent digits rather than a mod of one big number, so the
	// distribution is uniform including leading zeros.
	code := make([]byte, codeLength)
	for i := range code {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + d.Int64())
	}
	return string(code), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
