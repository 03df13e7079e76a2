package domain

import "time"

// Magic-link purposes. Purpose determines the link's lifetime and which
// flow the caller branches into after validation.
const (
	PurposeLogin        = "login"
	PurposeRegistration = "registration"
	PurposeInvitation   = "invitation"
)

// MagicLink is a single-use, time-boxed login token delivered by email.
// Used flips to true exactly once: on successful validation, on expiry
// detection, or on explicit revocation. A used link never validates again.
type MagicLink struct {
	MagicLinkID string    `json:"id" dynamodbav:"magic_link_id"`
	Email       string    `json:"email" dynamodbav:"email"`
	Token       string    `json:"-" dynamodbav:"token"`
	Purpose     string    `json:"purpose" dynamodbav:"purpose"`
	ExpiresAt   time.Time `json:"expires_at" dynamodbav:"expires_at"`
	Used        bool      `json:"used" dynamodbav:"used"`
	CreatedAt   time.Time `json:"created" dynamodbav:"created_at"`
}
