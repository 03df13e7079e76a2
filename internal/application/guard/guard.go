package guard

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agrichain-api/internal/domain"
)

// AuditLog is the slice of the audit trail the guard needs: fire-and-forget
// appends of security events.
type AuditLog interface {
	Log(entry domain.AuditLogEntry)
}

// Config holds the guard's thresholds. Zero values fall back to defaults.
type Config struct {
	MaxFailedAttempts    int
	LockoutDuration      time.Duration
	RateLimitWindow      time.Duration
	MaxRequestsPerWindow int
}

const (
	defaultMaxFailedAttempts    = 5
	defaultLockoutDuration      = 15 * time.Minute
	defaultRateLimitWindow      = 15 * time.Minute
	defaultMaxRequestsPerWindow = 10

	// Format-level staleness bounds for timestamped tokens.
	tokenMaxAge        = 24 * time.Hour
	tokenMaxClockAhead = time.Minute
	defaultTokenLength = 32
)

type bruteForceAttempt struct {
	attempts     int
	firstAttempt time.Time
	lastAttempt  time.Time
	lockedUntil  time.Time // zero until the threshold is crossed
}

type rateWindow struct {
	count       int
	windowStart time.Time
}

// Guard tracks brute-force attempts, lockouts, fixed-window rate limits and
// the suspicious-IP registry. All registries are process-wide mutable state
// shared across concurrent requests, so every method takes the mutex; no
// caller may rely on request ordering instead.
type Guard struct {
	cfg   Config
	audit AuditLog

	mu            sync.Mutex
	attempts      map[string]*bruteForceAttempt
	windows       map[string]*rateWindow
	suspiciousIPs map[string]struct{}

	now func() time.Time
}

func New(cfg Config, audit AuditLog) *Guard {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = defaultMaxFailedAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaultLockoutDuration
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = defaultRateLimitWindow
	}
	if cfg.MaxRequestsPerWindow <= 0 {
		cfg.MaxRequestsPerWindow = defaultMaxRequestsPerWindow
	}
	return &Guard{
		cfg:           cfg,
		audit:         audit,
		attempts:      make(map[string]*bruteForceAttempt),
		windows:       make(map[string]*rateWindow),
		suspiciousIPs: make(map[string]struct{}),
		now:           time.Now,
	}
}

// IsLockedOut reports whether the identifier is currently locked out.
// Expired lockouts are cleared lazily, which also resets the failure count.
func (g *Guard) IsLockedOut(identifier string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.attempts[identifier]
	if !ok || a.lockedUntil.IsZero() {
		return false
	}
	if g.now().Before(a.lockedUntil) {
		return true
	}
	delete(g.attempts, identifier)
	return false
}

// RecordFailedAttempt increments the failure counter for identifier. At the
// halfway mark it emits BRUTE_FORCE_DETECTED; at the full threshold it locks
// the identifier out, emits ACCOUNT_LOCKOUT and marks the IP suspicious.
func (g *Guard) RecordFailedAttempt(identifier, ip, userAgent string) {
	g.mu.Lock()
	now := g.now()
	a, ok := g.attempts[identifier]
	if !ok {
		a = &bruteForceAttempt{firstAttempt: now}
		g.attempts[identifier] = a
	}
	a.attempts++
	a.lastAttempt = now

	var event *domain.AuditLogEntry
	switch {
	case a.attempts >= g.cfg.MaxFailedAttempts:
		a.lockedUntil = now.Add(g.cfg.LockoutDuration)
		g.suspiciousIPs[ip] = struct{}{}
		event = &domain.AuditLogEntry{
			Action:     domain.EventAccountLockout,
			Identifier: identifier,
			IPAddress:  ip,
			UserAgent:  userAgent,
			Severity:   domain.SeverityCritical,
			Details: map[string]string{
				"attempts":     strconv.Itoa(a.attempts),
				"locked_until": a.lockedUntil.UTC().Format(time.RFC3339),
			},
		}
	case a.attempts == (g.cfg.MaxFailedAttempts+1)/2:
		event = &domain.AuditLogEntry{
			Action:     domain.EventBruteForceDetected,
			Identifier: identifier,
			IPAddress:  ip,
			UserAgent:  userAgent,
			Severity:   domain.SeverityHigh,
			Details:    map[string]string{"attempts": strconv.Itoa(a.attempts)},
		}
	}
	g.mu.Unlock()

	if event != nil {
		g.audit.Log(*event)
	}
}

// RecordSuccessfulAttempt clears the identifier's failure record entirely.
// A success resets the counter to zero, it does not decrement.
func (g *Guard) RecordSuccessfulAttempt(identifier string) {
	g.mu.Lock()
	delete(g.attempts, identifier)
	g.mu.Unlock()
}

// CheckRateLimit applies a fixed window per identifier: the first request of
// a new or elapsed window resets the count to 1 and is allowed; requests
// beyond MaxRequestsPerWindow are denied and audited.
func (g *Guard) CheckRateLimit(identifier, ip, userAgent string) bool {
	g.mu.Lock()
	now := g.now()
	w, ok := g.windows[identifier]
	if !ok || now.Sub(w.windowStart) >= g.cfg.RateLimitWindow {
		g.windows[identifier] = &rateWindow{count: 1, windowStart: now}
		g.mu.Unlock()
		return true
	}
	w.count++
	allowed := w.count <= g.cfg.MaxRequestsPerWindow
	g.mu.Unlock()

	if !allowed {
		g.audit.Log(domain.AuditLogEntry{
			Action:     domain.EventRateLimitExceeded,
			Identifier: identifier,
			IPAddress:  ip,
			UserAgent:  userAgent,
			Severity:   domain.SeverityMedium,
		})
	}
	return allowed
}

// MarkIPAsSuspicious adds ip to the suspicious registry.
func (g *Guard) MarkIPAsSuspicious(ip string) {
	g.mu.Lock()
	g.suspiciousIPs[ip] = struct{}{}
	g.mu.Unlock()
}

// ClearSuspiciousIP removes ip from the suspicious registry.
func (g *Guard) ClearSuspiciousIP(ip string) {
	g.mu.Lock()
	delete(g.suspiciousIPs, ip)
	g.mu.Unlock()
}

// IsSuspiciousIP reports whether ip is in the suspicious registry.
func (g *Guard) IsSuspiciousIP(ip string) bool {
	g.mu.Lock()
	_, ok := g.suspiciousIPs[ip]
	g.mu.Unlock()
	return ok
}

// Cleanup purges expired lockouts and elapsed rate windows. It runs on a
// periodic timer outside request handling and only removes entries the
// request path would independently treat as expired.
func (g *Guard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for id, a := range g.attempts {
		if !a.lockedUntil.IsZero() && !now.Before(a.lockedUntil) {
			delete(g.attempts, id)
		}
	}
	for id, w := range g.windows {
		if now.Sub(w.windowStart) >= g.cfg.RateLimitWindow {
			delete(g.windows, id)
		}
	}
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateSecureToken returns a cryptographically random token of the given
// length. When includeTimestamp is set, a base36 epoch-millisecond marker is
// prefixed (joined by '.') and the whole payload is URL-safe base64 encoded,
// which lets ValidateTokenFormat reject stale tokens without a store lookup.
func (g *Guard) GenerateSecureToken(length int, includeTimestamp bool) (string, error) {
	if length <= 0 {
		length = defaultTokenLength
	}
	b := make([]byte, length)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[idx.Int64()]
	}
	if !includeTimestamp {
		return string(b), nil
	}
	marker := strconv.FormatInt(g.now().UnixMilli(), 36)
	payload := marker + "." + string(b)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)), nil
}

// ValidateTokenFormat performs format-level checks on a token: it rejects
// path-traversal-looking substrings, enforces the random-payload length when
// expectedLength > 0, and for timestamped tokens rejects embedded timestamps
// older than 24h or more than a minute in the future.
func (g *Guard) ValidateTokenFormat(token string, expectedLength int) bool {
	if token == "" {
		return false
	}
	if strings.Contains(token, "..") || strings.Contains(token, "//") || strings.Contains(token, `\`) {
		return false
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil && strings.Contains(string(decoded), ".") {
		marker, payload, _ := strings.Cut(string(decoded), ".")
		if expectedLength > 0 && len(payload) != expectedLength {
			return false
		}
		ms, err := strconv.ParseInt(marker, 36, 64)
		if err != nil {
			return false
		}
		issued := time.UnixMilli(ms)
		now := g.now()
		if now.Sub(issued) > tokenMaxAge || issued.Sub(now) > tokenMaxClockAhead {
			return false
		}
		return isAlphanumeric(payload)
	}

	// Plain token: alphanumeric payload of the expected length.
	if expectedLength > 0 && len(token) != expectedLength {
		return false
	}
	return isAlphanumeric(token)
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != ""
}
