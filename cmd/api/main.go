package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agrichain-api/internal/application/audit"
	"github.com/agrichain-api/internal/application/guard"
	"github.com/agrichain-api/internal/config"
	"github.com/agrichain-api/internal/infrastructure/dynamo"
	"github.com/agrichain-api/internal/infrastructure/google"
	jwtinfra "github.com/agrichain-api/internal/infrastructure/jwt"
	s3infra "github.com/agrichain-api/internal/infrastructure/s3"
	"github.com/agrichain-api/internal/infrastructure/smtp"
	"github.com/agrichain-api/internal/infrastructure/sns"
	transporthttp "github.com/agrichain-api/internal/transport/http"
)

const guardCleanupInterval = 5 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg := config.Load()

	var handler slog.Handler
	if cfg.AppEnv == "production" {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		slog.Error("jwt provider unavailable", "error", err)
		os.Exit(1)
	}

	// Audit archive bucket. Optional: exports still stream without it.
	var archiveStore *s3infra.ArchiveStore
	if cfg.S3AuditBucket != "" {
		archiveStore = s3infra.NewArchiveStore(s3infra.NewClient(cfg), cfg.S3AuditBucket)
	} else {
		slog.Warn("S3_AUDIT_BUCKET not set, audit archival disabled")
	}

	mailer := smtp.NewMailer(cfg)

	// SNS SMS sender. Optional: SMS OTP delivery fails without it.
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(cfg); err == nil {
		smsSender = sender
	} else {
		slog.Warn("sns sender unavailable", "error", err)
	}

	// Google ID-token verifier. Optional: Google sign-in reports
	// misconfiguration when absent.
	var googleVerifier *google.Verifier
	if cfg.SocialAuthEnabled() {
		if v, err := google.NewVerifier(cfg.GoogleClientID); err == nil {
			googleVerifier = v
		} else {
			slog.Warn("google verifier unavailable", "error", err)
		}
	} else {
		slog.Warn("GOOGLE_CLIENT_ID not set, social auth disabled")
	}

	trail := audit.New(audit.Config{MaxEntries: cfg.AuditMaxEntries})
	secGuard := guard.New(guard.Config{
		MaxFailedAttempts:    cfg.MaxFailedAttempts,
		LockoutDuration:      cfg.LockoutDuration,
		RateLimitWindow:      cfg.RateLimitWindow,
		MaxRequestsPerWindow: cfg.MaxRequestsPerWindow,
	}, trail)

	deps := &transporthttp.Deps{
		UserRepo:      dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		SessionRepo:   dynamo.NewSessionRepo(dynamoClient, cfg.DynamoTables.Sessions),
		MagicLinkRepo: dynamo.NewMagicLinkRepo(dynamoClient, cfg.DynamoTables.MagicLinks),
		OTPRepo:       dynamo.NewOTPRepo(dynamoClient, cfg.DynamoTables.OTPs),
		ArchiveStore:  archiveStore,
		Mailer:        mailer,
		SMSSender:     smsSender,
		JWTProvider:   jwtProvider,
		Guard:         secGuard,
		Trail:         trail,
	}
	if googleVerifier != nil {
		deps.GoogleVerifier = googleVerifier
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Sweep expired lockout and rate-limit state.
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(guardCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				secGuard.Cleanup()
			case <-cleanupDone:
				return
			}
		}
	}()

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	close(cleanupDone)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
