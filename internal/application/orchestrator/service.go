package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/agrichain-api/internal/application/magiclink"
	"github.com/agrichain-api/internal/application/otp"
	"github.com/agrichain-api/internal/application/social"
	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/pkg/validate"
)

// MagicLinks is the magic-link authenticator collaborator.
type MagicLinks interface {
	Generate(ctx context.Context, email, purpose, recipientName string) (*domain.MagicLink, error)
	Validate(ctx context.Context, token string) (*magiclink.ValidationResult, error)
}

// OTPs is the one-time-code authenticator collaborator.
type OTPs interface {
	Generate(ctx context.Context, identifier, channel, purpose, ip, userAgent string) (*domain.OTPRecord, error)
	Validate(ctx context.Context, identifier, code, ip, userAgent string) (*otp.ValidationResult, error)
	Resend(ctx context.Context, identifier, ip, userAgent string) (*domain.OTPRecord, error)
}

// Socials is the social authenticator collaborator.
type Socials interface {
	Authenticate(ctx context.Context, idToken string) (*social.Outcome, error)
}

// Sessions mints sessions for authenticated users.
type Sessions interface {
	Create(ctx context.Context, user *domain.User, authMethod, ip, userAgent string) (*domain.Session, string, error)
}

// Users is the user-lookup collaborator.
type Users interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByPhone(ctx context.Context, phone string) (*domain.User, error)
}

// Gate is the slice of the security guard fronting login flows.
type Gate interface {
	IsLockedOut(identifier string) bool
	CheckRateLimit(identifier, ip, userAgent string) bool
	RecordFailedAttempt(identifier, ip, userAgent string)
	RecordSuccessfulAttempt(identifier string)
}

// Auditor appends security events.
type Auditor interface {
	Log(entry domain.AuditLogEntry)
}

// Result is the uniform outcome of every authentication flow. Internal
// failures never leak here: callers see Success, an optional session, and a
// user-safe message.
type Result struct {
	Success              bool         `json:"success"`
	User                 *domain.User `json:"user,omitempty"`
	SessionToken         string       `json:"session_token,omitempty"`
	RequiresRegistration bool         `json:"requires_registration,omitempty"`
	Email                string       `json:"email,omitempty"`
	Message              string       `json:"message"`
}

// User-facing messages. Inactive and not-found are deliberately distinct;
// store failures all collapse into msgGeneric.
const (
	msgGeneric        = "Authentication failed; please try again"
	msgInactive       = "This account has been deactivated; contact support"
	msgNoAccount      = "No account found for this identifier"
	msgLockedOut      = "Too many failed attempts; try again later"
	msgRateLimited    = "Too many requests; slow down"
	msgLinkSent       = "Sign-in link sent; check your inbox"
	msgCodeSent       = "Verification code sent"
	msgSignedIn       = "Signed in"
	msgSocialDisabled = "Social sign-in is not available"
	msgSMSDisabled    = "SMS sign-in is not available"
)

type Service interface {
	RequestMagicLink(ctx context.Context, email, purpose, recipientName, ip, userAgent string) *Result
	LoginWithMagicLink(ctx context.Context, token, ip, userAgent string) *Result
	RequestOTP(ctx context.Context, identifier, channel, purpose, ip, userAgent string) *Result
	ResendOTP(ctx context.Context, identifier, ip, userAgent string) *Result
	LoginWithOTP(ctx context.Context, identifier, code, ip, userAgent string) *Result
	LoginWithGoogle(ctx context.Context, idToken, ip, userAgent string) *Result
}

type ServiceDeps struct {
	MagicLinks MagicLinks
	OTPs       OTPs
	Social     Socials
	Sessions   Sessions
	Users      Users
	Gate       Gate
	Audit      Auditor
}

type service struct {
	magicLinks MagicLinks
	otps       OTPs
	social     Socials
	sessions   Sessions
	users      Users
	gate       Gate
	audit      Auditor
}

func NewService(deps ServiceDeps) Service {
	return &service{
		magicLinks: deps.MagicLinks,
		otps:       deps.OTPs,
		social:     deps.Social,
		sessions:   deps.Sessions,
		users:      deps.Users,
		gate:       deps.Gate,
		audit:      deps.Audit,
	}
}

// RequestMagicLink gates the request, resolves the account for login links,
// and dispatches the email. Registration links skip the account lookup.
func (s *service) RequestMagicLink(ctx context.Context, email, purpose, recipientName, ip, userAgent string) *Result {
	if s.gate.IsLockedOut(email) {
		return &Result{Message: msgLockedOut}
	}
	if !s.gate.CheckRateLimit(email, ip, userAgent) {
		return &Result{Message: msgRateLimited}
	}

	if purpose == domain.PurposeLogin {
		user, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &Result{RequiresRegistration: true, Email: email, Message: msgNoAccount}
			}
			slog.Error("magic link account lookup failed", "err", err)
			return &Result{Message: msgGeneric}
		}
		if !user.Active {
			return &Result{Message: msgInactive}
		}
		if recipientName == "" {
			recipientName = user.FirstName
		}
	}

	if _, err := s.magicLinks.Generate(ctx, email, purpose, recipientName); err != nil {
		if errors.Is(err, domain.ErrBadRequest) {
			return &Result{Message: "Unsupported link purpose"}
		}
		slog.Error("magic link generation failed", "err", err)
		return &Result{Message: msgGeneric}
	}
	return &Result{Success: true, Message: msgLinkSent}
}

// LoginWithMagicLink consumes a link token and mints a session. A valid link
// for an email with no account becomes a registration hand-off.
func (s *service) LoginWithMagicLink(ctx context.Context, token, ip, userAgent string) *Result {
	res, err := s.magicLinks.Validate(ctx, token)
	if err != nil {
		slog.Error("magic link validation failed", "err", err)
		return &Result{Message: msgGeneric}
	}
	if !res.Valid {
		s.audit.Log(domain.AuditLogEntry{
			Action:    domain.EventLoginFailure,
			IPAddress: ip,
			UserAgent: userAgent,
			Severity:  domain.SeverityMedium,
			Details:   map[string]string{"method": domain.MethodMagicLink, "reason": res.Message},
		})
		return &Result{Message: res.Message}
	}

	if res.Purpose == domain.PurposeRegistration || res.Purpose == domain.PurposeInvitation {
		return &Result{RequiresRegistration: true, Email: res.Email, Message: "Complete your registration"}
	}

	user, err := s.lookupByEmail(ctx, res.Email)
	if err != nil {
		return &Result{Message: msgGeneric}
	}
	return s.finishLogin(ctx, user, res.Email, domain.MethodMagicLink, ip, userAgent)
}

// RequestOTP issues a code; the authenticator enforces lockout, rate limit
// and identifier shape itself.
func (s *service) RequestOTP(ctx context.Context, identifier, channel, purpose, ip, userAgent string) *Result {
	if _, err := s.otps.Generate(ctx, identifier, channel, purpose, ip, userAgent); err != nil {
		return s.otpErrorResult(err, "otp generation failed")
	}
	return &Result{Success: true, Message: msgCodeSent}
}

// ResendOTP re-delivers the outstanding code.
func (s *service) ResendOTP(ctx context.Context, identifier, ip, userAgent string) *Result {
	if _, err := s.otps.Resend(ctx, identifier, ip, userAgent); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &Result{Message: "No active code; request a new one"}
		}
		return s.otpErrorResult(err, "otp resend failed")
	}
	return &Result{Success: true, Message: msgCodeSent}
}

// LoginWithOTP verifies a code and mints a session.
func (s *service) LoginWithOTP(ctx context.Context, identifier, code, ip, userAgent string) *Result {
	res, err := s.otps.Validate(ctx, identifier, code, ip, userAgent)
	if err != nil {
		if errors.Is(err, domain.ErrAttemptsExhausted) {
			return &Result{Message: "Too many attempts; request a new code"}
		}
		return s.otpErrorResult(err, "otp validation failed")
	}
	if !res.Valid {
		s.audit.Log(domain.AuditLogEntry{
			Action:     domain.EventLoginFailure,
			Identifier: identifier,
			IPAddress:  ip,
			UserAgent:  userAgent,
			Severity:   domain.SeverityMedium,
			Details:    map[string]string{"method": domain.MethodOTP, "reason": res.Message},
		})
		return &Result{Message: res.Message}
	}

	var (
		user      *domain.User
		lookupErr error
	)
	if validate.Email(identifier) {
		user, lookupErr = s.lookupByEmail(ctx, identifier)
	} else {
		user, lookupErr = s.lookupByPhone(ctx, identifier)
	}
	if lookupErr != nil {
		return &Result{Message: msgGeneric}
	}
	return s.finishLogin(ctx, user, identifier, domain.MethodOTP, ip, userAgent)
}

// LoginWithGoogle exchanges a verified ID token for a session, or hands off
// unknown identities to registration.
func (s *service) LoginWithGoogle(ctx context.Context, idToken, ip, userAgent string) *Result {
	outcome, err := s.social.Authenticate(ctx, idToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMisconfigured):
			return &Result{Message: msgSocialDisabled}
		case errors.Is(err, domain.ErrUnauthorized):
			s.audit.Log(domain.AuditLogEntry{
				Action:    domain.EventLoginFailure,
				IPAddress: ip,
				UserAgent: userAgent,
				Severity:  domain.SeverityMedium,
				Details:   map[string]string{"method": domain.MethodGoogle, "reason": "invalid token"},
			})
			return &Result{Message: "Invalid Google token"}
		case errors.Is(err, domain.ErrConflict):
			return &Result{Message: "This email is linked to a different Google account"}
		default:
			slog.Error("google authentication failed", "err", err)
			return &Result{Message: msgGeneric}
		}
	}
	if outcome.RequiresRegistration {
		return &Result{RequiresRegistration: true, Email: outcome.Profile.Email, Message: "Complete your registration"}
	}
	return s.finishLogin(ctx, outcome.User, outcome.User.Email, domain.MethodGoogle, ip, userAgent)
}

// finishLogin turns a resolved account into a session, normalizing the
// not-found and inactive branches into their distinct messages.
func (s *service) finishLogin(ctx context.Context, user *domain.User, identifier, method, ip, userAgent string) *Result {
	if user == nil {
		return &Result{RequiresRegistration: true, Email: identifierEmail(identifier), Message: msgNoAccount}
	}

	_, token, err := s.sessions.Create(ctx, user, method, ip, userAgent)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			return &Result{Message: msgInactive}
		}
		slog.Error("session creation failed", "user_id", user.UserID, "err", err)
		return &Result{Message: msgGeneric}
	}

	s.gate.RecordSuccessfulAttempt(identifier)
	s.audit.Log(domain.AuditLogEntry{
		Action:     domain.EventLoginSuccess,
		Identifier: identifier,
		UserID:     user.UserID,
		Role:       user.Role,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Success:    true,
		Details:    map[string]string{"method": method},
	})
	return &Result{Success: true, User: user, SessionToken: token, Message: msgSignedIn}
}

func (s *service) otpErrorResult(err error, logMsg string) *Result {
	switch {
	case errors.Is(err, domain.ErrLockedOut):
		return &Result{Message: msgLockedOut}
	case errors.Is(err, domain.ErrRateLimited):
		return &Result{Message: msgRateLimited}
	case errors.Is(err, domain.ErrInvalidFormat):
		return &Result{Message: "Invalid email or phone number"}
	case errors.Is(err, domain.ErrBadRequest):
		return &Result{Message: "Unsupported delivery channel"}
	case errors.Is(err, domain.ErrMisconfigured):
		return &Result{Message: msgSMSDisabled}
	default:
		slog.Error(logMsg, "err", err)
		return &Result{Message: msgGeneric}
	}
}

// lookupByEmail returns (nil, nil) for an unknown email; any other store
// failure is logged and surfaced for the caller to translate.
func (s *service) lookupByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		slog.Error("user lookup by email failed", "err", err)
		return nil, err
	}
	return user, nil
}

func (s *service) lookupByPhone(ctx context.Context, phone string) (*domain.User, error) {
	user, err := s.users.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		slog.Error("user lookup by phone failed", "err", err)
		return nil, err
	}
	return user, nil
}

// identifierEmail returns the identifier when it looks like an email, so the
// registration hand-off can prefill it; phone identifiers are not carried.
func identifierEmail(identifier string) string {
	if validate.Email(identifier) {
		return identifier
	}
	return ""
}
