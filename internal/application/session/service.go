package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/agrichain-api/internal/application/audit"
	"github.com/agrichain-api/internal/domain"
	jwtinfra "github.com/agrichain-api/internal/infrastructure/jwt"
	"github.com/agrichain-api/internal/pkg/fingerprint"
	"github.com/agrichain-api/internal/pkg/id"
)

// Users is the slice of user persistence the session manager needs.
type Users interface {
	FindByID(ctx context.Context, userID string) (*domain.User, error)
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
}

// Sessions is the session persistence collaborator.
type Sessions interface {
	Put(ctx context.Context, s *domain.Session) error
	FindByID(ctx context.Context, sessionID string) (*domain.Session, error)
	FindByUser(ctx context.Context, userID string) ([]domain.Session, error)
	Update(ctx context.Context, sessionID string, updates map[string]interface{}) error
	Delete(ctx context.Context, sessionID string) error
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

// TokenProvider signs and verifies session tokens.
type TokenProvider interface {
	Sign(sessionID, userID, role, authMethod string) (string, error)
	SignWithExpiry(sessionID, userID, role, authMethod string, expiresAt time.Time) (string, error)
	Verify(token string) (*jwtinfra.Claims, error)
}

// HijackDetector compares a request's origin against the session's recorded
// origin.
type HijackDetector interface {
	DetectSessionHijacking(sessionID, currentIP, currentUA, originalIP, originalUA string) bool
}

// Auditor is the slice of the audit trail used here: appends plus the query
// surface behind suspicious-activity checks.
type Auditor interface {
	Log(entry domain.AuditLogEntry)
	Query(f audit.Filter) audit.QueryResult
}

// Validation is the outcome of a successful token validation. NeedsRefresh
// signals the client should call Refresh before the session lapses.
type Validation struct {
	Session      *domain.Session  `json:"session"`
	Claims       *jwtinfra.Claims `json:"-"`
	NeedsRefresh bool             `json:"needs_refresh"`
}

// ActivityReport summarizes recent per-user security signals.
type ActivityReport struct {
	Suspicious        bool     `json:"suspicious"`
	Reasons           []string `json:"reasons,omitempty"`
	RecommendedAction string   `json:"recommended_action"`
}

// Recommended actions, in escalating order.
const (
	ActionNone           = "none"
	ActionMonitor        = "monitor"
	ActionVerifyIdentity = "verify_identity"
	ActionSuspend        = "suspend"
)

type Manager interface {
	Create(ctx context.Context, user *domain.User, authMethod, ip, userAgent string) (*domain.Session, string, error)
	Validate(ctx context.Context, token, ip, userAgent string) (*Validation, error)
	Refresh(ctx context.Context, token, ip, userAgent string) (*domain.Session, string, error)
	Revoke(ctx context.Context, sessionID, revokedBy, ip string) error
	RevokeAllForUser(ctx context.Context, userID, revokedBy string) (int, error)
	CheckSuspiciousActivity(ctx context.Context, userID string) *ActivityReport
}

// Thresholds for CheckSuspiciousActivity, all over the trailing hour.
const (
	suspiciousFailureCount  = 5
	suspiciousDistinctIPs   = 3
	suspiciousSessionBursts = 10
)

type ManagerDeps struct {
	Users        Users
	Sessions     Sessions
	Tokens       TokenProvider
	Hijack       HijackDetector
	Audit        Auditor
	TTL          time.Duration // session lifetime
	RefreshAfter time.Duration // remaining lifetime below which NeedsRefresh is set
	DeviceSecret string        // key for the stored device fingerprint
}

type manager struct {
	users        Users
	sessions     Sessions
	tokens       TokenProvider
	hijack       HijackDetector
	audit        Auditor
	ttl          time.Duration
	refreshAfter time.Duration
	deviceSecret string
	now          func() time.Time
}

func NewManager(deps ManagerDeps) Manager {
	if deps.TTL <= 0 {
		deps.TTL = 24 * time.Hour
	}
	if deps.RefreshAfter <= 0 {
		deps.RefreshAfter = 2 * time.Hour
	}
	return &manager{
		users:        deps.Users,
		sessions:     deps.Sessions,
		tokens:       deps.Tokens,
		hijack:       deps.Hijack,
		audit:        deps.Audit,
		ttl:          deps.TTL,
		refreshAfter: deps.RefreshAfter,
		deviceSecret: deps.DeviceSecret,
		now:          time.Now,
	}
}

// Create opens a session for an authenticated user and mints its token.
// Inactive accounts cannot hold sessions regardless of how they
// authenticated.
func (m *manager) Create(ctx context.Context, user *domain.User, authMethod, ip, userAgent string) (*domain.Session, string, error) {
	if !user.Active {
		m.audit.Log(domain.AuditLogEntry{
			Action:     domain.EventLoginFailure,
			Identifier: user.Email,
			UserID:     user.UserID,
			IPAddress:  ip,
			UserAgent:  userAgent,
			Severity:   domain.SeverityMedium,
			Details:    map[string]string{"reason": "account inactive"},
		})
		return nil, "", fmt.Errorf("account is inactive: %w", domain.ErrForbidden)
	}

	now := m.now()
	sess := &domain.Session{
		SessionID:         id.New(),
		UserID:            user.UserID,
		AuthMethod:        authMethod,
		IPAddress:         ip,
		UserAgent:         userAgent,
		DeviceFingerprint: fingerprint.Device(m.deviceSecret, ip, userAgent),
		ExpiresAt:         now.Add(m.ttl),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.sessions.Put(ctx, sess); err != nil {
		return nil, "", err
	}

	token, err := m.tokens.Sign(sess.SessionID, user.UserID, user.Role, authMethod)
	if err != nil {
		if derr := m.sessions.Delete(ctx, sess.SessionID); derr != nil {
			slog.Warn("failed to delete session after signing error", "session_id", sess.SessionID, "err", derr)
		}
		return nil, "", err
	}

	if err := m.users.Update(ctx, user.UserID, map[string]interface{}{
		"last_login_at": now.UTC().Format(time.RFC3339),
	}); err != nil {
		slog.Warn("failed to record last login", "user_id", user.UserID, "err", err)
	}

	sess.User = user
	m.audit.Log(domain.AuditLogEntry{
		Action:    domain.EventSessionCreated,
		UserID:    user.UserID,
		Role:      user.Role,
		IPAddress: ip,
		UserAgent: userAgent,
		Success:   true,
		Details:   map[string]string{"session_id": sess.SessionID, "auth_method": authMethod},
	})
	return sess, token, nil
}

// Validate checks a token end to end: signature and registered claims first,
// then the stored session, the account, and finally origin drift. A session
// found expired, orphaned or hijacked is deleted on the spot.
func (m *manager) Validate(ctx context.Context, token, ip, userAgent string) (*Validation, error) {
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	sess, err := m.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("session revoked or unknown: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}

	now := m.now()
	if sess.Expired(now) {
		if err := m.sessions.Delete(ctx, sess.SessionID); err != nil {
			slog.Warn("failed to delete expired session", "session_id", sess.SessionID, "err", err)
		}
		return nil, fmt.Errorf("session expired: %w", domain.ErrExpired)
	}

	user, err := m.users.FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.deleteAndAudit(ctx, sess, ip, userAgent, "user no longer exists")
			return nil, fmt.Errorf("session user missing: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if !user.Active {
		m.deleteAndAudit(ctx, sess, ip, userAgent, "account inactive")
		return nil, fmt.Errorf("account is inactive: %w", domain.ErrForbidden)
	}

	if m.hijack.DetectSessionHijacking(sess.SessionID, ip, userAgent, sess.IPAddress, sess.UserAgent) {
		m.deleteAndAudit(ctx, sess, ip, userAgent, "hijack detected")
		return nil, fmt.Errorf("session origin mismatch: %w", domain.ErrHijackDetected)
	}

	sess.User = user
	return &Validation{
		Session:      sess,
		Claims:       claims,
		NeedsRefresh: sess.ExpiresAt.Sub(now) < m.refreshAfter,
	}, nil
}

// Refresh extends a valid session by a full TTL, records the caller's
// current origin on the session row, and mints a token carrying the new
// deadline. Previously issued tokens stay signature-valid until their own
// exp; revocation is what Validate's store lookup is for.
func (m *manager) Refresh(ctx context.Context, token, ip, userAgent string) (*domain.Session, string, error) {
	v, err := m.Validate(ctx, token, ip, userAgent)
	if err != nil {
		return nil, "", err
	}

	newExpiry := m.now().Add(m.ttl)
	updates := map[string]interface{}{
		"expires_at": newExpiry.UTC().Format(time.RFC3339),
	}
	if ip != "" {
		updates["ip_address"] = ip
	}
	if userAgent != "" {
		updates["user_agent"] = userAgent
	}
	if ip != "" || userAgent != "" {
		updates["device_fingerprint"] = fingerprint.Device(m.deviceSecret, ip, userAgent)
	}
	if err := m.sessions.Update(ctx, v.Session.SessionID, updates); err != nil {
		return nil, "", err
	}
	v.Session.ExpiresAt = newExpiry

	fresh, err := m.tokens.SignWithExpiry(
		v.Session.SessionID, v.Session.UserID, v.Session.User.Role, v.Session.AuthMethod, newExpiry)
	if err != nil {
		return nil, "", err
	}
	return v.Session, fresh, nil
}

// Revoke deletes a session by id. Revoking an unknown session is an error so
// admin tooling notices typos.
func (m *manager) Revoke(ctx context.Context, sessionID, revokedBy, ip string) error {
	sess, err := m.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	m.audit.Log(domain.AuditLogEntry{
		Action:    domain.EventSessionRevoked,
		UserID:    sess.UserID,
		IPAddress: ip,
		Success:   true,
		Details:   map[string]string{"session_id": sessionID, "revoked_by": revokedBy},
	})
	return nil
}

// RevokeAllForUser deletes every session the user holds and returns how many
// were removed.
func (m *manager) RevokeAllForUser(ctx context.Context, userID, revokedBy string) (int, error) {
	count, err := m.sessions.DeleteByUser(ctx, userID)
	if count > 0 {
		m.audit.Log(domain.AuditLogEntry{
			Action:   domain.EventSessionRevoked,
			UserID:   userID,
			Success:  err == nil,
			Severity: domain.SeverityMedium,
			Details: map[string]string{
				"revoked_by": revokedBy,
				"count":      strconv.Itoa(count),
			},
		})
	}
	return count, err
}

// CheckSuspiciousActivity scores the user's trailing hour of audit activity:
// repeated login failures, session creation from many addresses, and session
// creation bursts. The recommended action escalates with the number of
// signals present.
func (m *manager) CheckSuspiciousActivity(ctx context.Context, userID string) *ActivityReport {
	since := m.now().Add(-time.Hour)

	failures := m.audit.Query(audit.Filter{
		UserID: userID,
		Action: domain.EventLoginFailure,
		From:   since,
		Limit:  suspiciousFailureCount,
	})

	// The distinct-address count must see every creation in the window, so
	// size the page from the match count instead of a fixed cap.
	creations := m.audit.Query(audit.Filter{
		UserID: userID,
		Action: domain.EventSessionCreated,
		From:   since,
		Limit:  1,
	})
	if creations.Total > len(creations.Entries) {
		creations = m.audit.Query(audit.Filter{
			UserID: userID,
			Action: domain.EventSessionCreated,
			From:   since,
			Limit:  creations.Total,
		})
	}
	ips := make(map[string]struct{})
	for _, e := range creations.Entries {
		if e.IPAddress != "" {
			ips[e.IPAddress] = struct{}{}
		}
	}

	var reasons []string
	if failures.Total >= suspiciousFailureCount {
		reasons = append(reasons, fmt.Sprintf("%d failed logins in the last hour", failures.Total))
	}
	if len(ips) >= suspiciousDistinctIPs {
		reasons = append(reasons, fmt.Sprintf("sessions created from %d distinct addresses in the last hour", len(ips)))
	}
	if creations.Total >= suspiciousSessionBursts {
		reasons = append(reasons, fmt.Sprintf("%d sessions created in the last hour", creations.Total))
	}

	report := &ActivityReport{Suspicious: len(reasons) > 0, Reasons: reasons}
	switch len(reasons) {
	case 0:
		report.RecommendedAction = ActionNone
	case 1:
		report.RecommendedAction = ActionMonitor
	case 2:
		report.RecommendedAction = ActionVerifyIdentity
	default:
		report.RecommendedAction = ActionSuspend
	}
	return report
}

func (m *manager) deleteAndAudit(ctx context.Context, sess *domain.Session, ip, userAgent, reason string) {
	if err := m.sessions.Delete(ctx, sess.SessionID); err != nil {
		slog.Warn("failed to delete invalidated session", "session_id", sess.SessionID, "err", err)
	}
	m.audit.Log(domain.AuditLogEntry{
		Action:    domain.EventSessionRevoked,
		UserID:    sess.UserID,
		IPAddress: ip,
		UserAgent: userAgent,
		Severity:  domain.SeverityMedium,
		Details:   map[string]string{"session_id": sess.SessionID, "reason": reason},
	})
}
