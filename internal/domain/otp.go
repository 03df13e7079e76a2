package domain

import "time"

// OTP delivery channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// OTPRecord holds a pending one-time code. The store keys records by
// Identifier (email address or E.164 phone number), so writing a new record
// replaces any prior unverified one: at most one live code per identifier.
type OTPRecord struct {
	OTPID      string    `json:"id" dynamodbav:"otp_id"`
	Identifier string    `json:"identifier" dynamodbav:"identifier"`
	Channel    string    `json:"channel" dynamodbav:"channel"`
	Code       string    `json:"-" dynamodbav:"code"`
	Purpose    string    `json:"purpose" dynamodbav:"purpose"`
	ExpiresAt  time.Time `json:"expires_at" dynamodbav:"expires_at"`
	Verified   bool      `json:"verified" dynamodbav:"verified"`
	Attempts   int       `json:"attempts" dynamodbav:"attempts"`
	CreatedAt  time.Time `json:"created" dynamodbav:"created_at"`
}
