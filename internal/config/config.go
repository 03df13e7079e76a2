package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// insecureJWTFallback is only acceptable for local development. Load warns
// loudly when it is in effect; production deployments must set JWT_SECRET.
const insecureJWTFallback = "insecure-dev-secret-do-not-use-in-production"

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3AuditBucket  string

	JWTSecret    string
	SessionTTL   time.Duration
	RefreshAfter time.Duration // remaining lifetime below which a refresh is suggested

	GoogleClientID     string
	GoogleClientSecret string
	FrontendURL        string
	DeviceSecret       string

	MaxFailedAttempts    int
	LockoutDuration      time.Duration
	RateLimitWindow      time.Duration
	MaxRequestsPerWindow int

	OTPExpiry      time.Duration
	OTPMaxAttempts int

	MagicLinkTTL      time.Duration
	InvitationLinkTTL time.Duration

	AuditMaxEntries int

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users      string
	Sessions   string
	MagicLinks string
	OTPs       string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		slog.Warn("JWT_SECRET not set, using insecure development fallback")
		jwtSecret = insecureJWTFallback
	}
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:      getEnv("DYNAMO_TABLE_USERS", "users"),
			Sessions:   getEnv("DYNAMO_TABLE_SESSIONS", "sessions"),
			MagicLinks: getEnv("DYNAMO_TABLE_MAGIC_LINKS", "magic_links"),
			OTPs:       getEnv("DYNAMO_TABLE_OTPS", "otps"),
		},
		S3AuditBucket: getEnv("S3_AUDIT_BUCKET", "agrichain-audit-archive"),

		JWTSecret:    jwtSecret,
		SessionTTL:   getEnvDuration("SESSION_TTL_HOURS", 24) * time.Hour,
		RefreshAfter: getEnvDuration("SESSION_REFRESH_THRESHOLD_HOURS", 2) * time.Hour,

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),
		DeviceSecret:       getEnv("DEVICE_SECRET", ""),

		MaxFailedAttempts:    getEnvInt("MAX_FAILED_ATTEMPTS", 5),
		LockoutDuration:      getEnvDuration("LOCKOUT_DURATION_MINUTES", 15) * time.Minute,
		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW_MINUTES", 15) * time.Minute,
		MaxRequestsPerWindow: getEnvInt("MAX_REQUESTS_PER_WINDOW", 10),

		OTPExpiry:      getEnvDuration("OTP_EXPIRY_MINUTES", 10) * time.Minute,
		OTPMaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 3),

		MagicLinkTTL:      getEnvDuration("MAGIC_LINK_TTL_HOURS", 1) * time.Hour,
		InvitationLinkTTL: getEnvDuration("INVITATION_LINK_TTL_HOURS", 7*24) * time.Hour,

		AuditMaxEntries: getEnvInt("AUDIT_MAX_ENTRIES", 10000),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@agrichain.example"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SNSRegion:    getEnv("SNS_REGION", "us-east-1"),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

// SocialAuthEnabled reports whether Google sign-in is configured.
func (c *Config) SocialAuthEnabled() bool {
	return c.GoogleClientID != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback))
}
