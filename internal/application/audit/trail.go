package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/pkg/id"
)

// Config holds the trail's buffer size and alert thresholds.
// Zero values fall back to defaults.
type Config struct {
	MaxEntries             int
	FailedLoginThreshold   int // failed logins per identifier per hour
	IPActivityThreshold    int // requests per IP per hour
	AccessPatternThreshold int // data-access events per user per minute
}

const (
	defaultMaxEntries             = 10000
	defaultFailedLoginThreshold   = 10
	defaultIPActivityThreshold    = 50
	defaultAccessPatternThreshold = 100
)

// Trail is the in-memory audit log: a size-capped, append-only buffer of
// immutable entries plus the security alerts derived from them. Appends and
// pattern detection run under one mutex, so alert creation for the same
// (type, user, ip) key is serialized and merge never races.
type Trail struct {
	cfg Config

	mu      sync.Mutex
	entries []domain.AuditLogEntry
	alerts  []*domain.SecurityAlert

	now func() time.Time
}

func New(cfg Config) *Trail {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.FailedLoginThreshold <= 0 {
		cfg.FailedLoginThreshold = defaultFailedLoginThreshold
	}
	if cfg.IPActivityThreshold <= 0 {
		cfg.IPActivityThreshold = defaultIPActivityThreshold
	}
	if cfg.AccessPatternThreshold <= 0 {
		cfg.AccessPatternThreshold = defaultAccessPatternThreshold
	}
	return &Trail{cfg: cfg, now: time.Now}
}

// Log appends an entry, assigning id and timestamp, then runs pattern
// detection. When the buffer is full the oldest entry is dropped.
func (t *Trail) Log(entry domain.AuditLogEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry.EntryID = id.New()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now()
	}
	if entry.Severity == "" {
		entry.Severity = domain.SeverityLow
	}
	if len(t.entries) >= t.cfg.MaxEntries {
		copy(t.entries, t.entries[1:])
		t.entries = t.entries[:len(t.entries)-1]
	}
	t.entries = append(t.entries, entry)

	t.checkPatterns(entry)
}

// checkPatterns runs threshold detection against the trailing buffer.
// Caller must hold t.mu.
func (t *Trail) checkPatterns(latest domain.AuditLogEntry) {
	now := t.now()

	if latest.Action == domain.EventLoginFailure && latest.Identifier != "" {
		var related []string
		for _, e := range t.entries {
			if e.Action == domain.EventLoginFailure && e.Identifier == latest.Identifier &&
				now.Sub(e.Timestamp) <= time.Hour {
				related = append(related, e.EntryID)
			}
		}
		if len(related) >= t.cfg.FailedLoginThreshold {
			t.raiseAlert(domain.AlertMultipleFailedLogins, domain.SeverityHigh, latest.UserID, latest.IPAddress,
				fmt.Sprintf("%d failed logins for %s within the last hour", len(related), latest.Identifier), related)
		}
	}

	if latest.IPAddress != "" {
		var related []string
		for _, e := range t.entries {
			if e.IPAddress == latest.IPAddress && now.Sub(e.Timestamp) <= time.Hour {
				related = append(related, e.EntryID)
			}
		}
		if len(related) >= t.cfg.IPActivityThreshold {
			t.raiseAlert(domain.AlertSuspiciousIPActivity, domain.SeverityMedium, "", latest.IPAddress,
				fmt.Sprintf("%d requests from %s within the last hour", len(related), latest.IPAddress), related)
		}
	}

	if latest.Action == domain.EventDataAccess && latest.UserID != "" {
		var related []string
		for _, e := range t.entries {
			if e.Action == domain.EventDataAccess && e.UserID == latest.UserID &&
				now.Sub(e.Timestamp) <= time.Minute {
				related = append(related, e.EntryID)
			}
		}
		if len(related) >= t.cfg.AccessPatternThreshold {
			t.raiseAlert(domain.AlertUnusualAccessPattern, domain.SeverityHigh, latest.UserID, latest.IPAddress,
				fmt.Sprintf("%d data-access events for user %s within the last minute", len(related), latest.UserID), related)
		}
	}
}

// raiseAlert creates a new alert or merges into an unresolved one with the
// same (type, user, ip) key. Caller must hold t.mu.
func (t *Trail) raiseAlert(alertType, severity, userID, ip, description string, related []string) {
	now := t.now()
	for _, a := range t.alerts {
		if a.Resolved || a.Type != alertType || a.UserID != userID || a.IPAddress != ip {
			continue
		}
		a.RelatedEntryIDs = mergeIDs(a.RelatedEntryIDs, related)
		a.Description = description
		a.UpdatedAt = now
		return
	}
	t.alerts = append(t.alerts, &domain.SecurityAlert{
		AlertID:         id.New(),
		Type:            alertType,
		Severity:        severity,
		UserID:          userID,
		IPAddress:       ip,
		Description:     description,
		RelatedEntryIDs: related,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

func mergeIDs(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e] = struct{}{}
	}
	for _, in := range incoming {
		if _, ok := seen[in]; !ok {
			existing = append(existing, in)
			seen[in] = struct{}{}
		}
	}
	return existing
}

// Alerts returns a snapshot of alerts, optionally including resolved ones.
func (t *Trail) Alerts(includeResolved bool) []domain.SecurityAlert {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.SecurityAlert, 0, len(t.alerts))
	for _, a := range t.alerts {
		if !includeResolved && a.Resolved {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// ResolveAlert marks an alert resolved. The transition is terminal and
// idempotent; resolving an already-resolved alert is a no-op success.
func (t *Trail) ResolveAlert(alertID, resolvedBy string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.alerts {
		if a.AlertID != alertID {
			continue
		}
		if a.Resolved {
			return nil
		}
		now := t.now()
		a.Resolved = true
		a.ResolvedBy = resolvedBy
		a.ResolvedAt = &now
		a.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
}
