package domain

import "time"

// Severity levels for audit entries and security alerts.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Security event types recorded by the guard and the session manager.
const (
	EventLoginSuccess       = "LOGIN_SUCCESS"
	EventLoginFailure       = "LOGIN_FAILURE"
	EventBruteForceDetected = "BRUTE_FORCE_DETECTED"
	EventAccountLockout     = "ACCOUNT_LOCKOUT"
	EventRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	EventSessionCreated     = "SESSION_CREATED"
	EventSessionRevoked     = "SESSION_REVOKED"
	EventSessionHijack      = "SESSION_HIJACK_DETECTED"
	EventDataAccess         = "DATA_ACCESS"
)

// Security alert types derived from audit patterns.
const (
	AlertMultipleFailedLogins = "MULTIPLE_FAILED_LOGINS"
	AlertSuspiciousIPActivity = "SUSPICIOUS_IP_ACTIVITY"
	AlertUnusualAccessPattern = "UNUSUAL_ACCESS_PATTERN"
)

// AuditLogEntry is an append-only record of a security-relevant action.
// Entries are never mutated after creation.
type AuditLogEntry struct {
	EntryID    string            `json:"id"`
	Action     string            `json:"action"`
	Identifier string            `json:"identifier,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Role       string            `json:"role,omitempty"`
	Resource   string            `json:"resource,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Severity   string            `json:"severity"`
	Success    bool              `json:"success"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// SecurityAlert is a derived, deduplicated signal raised when audit patterns
// cross a threshold. While unresolved, repeated detections for the same
// (type, user, ip) merge into RelatedEntryIDs instead of creating duplicates.
type SecurityAlert struct {
	AlertID         string     `json:"id"`
	Type            string     `json:"type"`
	Severity        string     `json:"severity"`
	UserID          string     `json:"user_id,omitempty"`
	IPAddress       string     `json:"ip_address,omitempty"`
	Description     string     `json:"description"`
	Resolved        bool       `json:"resolved"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	RelatedEntryIDs []string   `json:"related_entry_ids"`
	CreatedAt       time.Time  `json:"created"`
	UpdatedAt       time.Time  `json:"updated"`
}
