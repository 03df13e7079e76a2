package domain

import "time"

type Session struct {
	SessionID  string `json:"id" dynamodbav:"session_id"`
	UserID     string `json:"user_id" dynamodbav:"user_id"`
	AuthMethod string `json:"auth_method" dynamodbav:"auth_method"`
	IPAddress  string `json:"ip_address" dynamodbav:"ip_address"`
	UserAgent  string `json:"user_agent" dynamodbav:"user_agent"`
	// DeviceFingerprint is a keyed digest of the origin (ip + user agent),
	// kept for forensics and never exposed to clients.
	DeviceFingerprint string    `json:"-" dynamodbav:"device_fingerprint,omitempty"`
	ExpiresAt         time.Time `json:"expires_at" dynamodbav:"expires_at"`
	CreatedAt         time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt         time.Time `json:"updated" dynamodbav:"updated_at"`
	User              *User     `json:"user,omitempty" dynamodbav:"-"`
}

// Expired reports whether the session's lifetime has elapsed at t.
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.After(t)
}
