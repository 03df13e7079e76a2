package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/agrichain-api/internal/application/audit"
	"github.com/agrichain-api/internal/application/magiclink"
	"github.com/agrichain-api/internal/application/orchestrator"
	"github.com/agrichain-api/internal/application/otp"
	"github.com/agrichain-api/internal/application/session"
	"github.com/agrichain-api/internal/application/social"
	"github.com/agrichain-api/internal/config"
	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/transport/http/handler"
	appmiddleware "github.com/agrichain-api/internal/transport/http/middleware"
)

// NewRouter wires services from infrastructure deps and builds the
// application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authMw := appmiddleware.Auth(deps.JWTProvider)

	// 5 requests/second, burst of 10. This is the transport-edge limiter in
	// front of the credential endpoints; the guard's per-identifier window
	// sits behind.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	magicLinkSvc := magiclink.NewService(magiclink.ServiceDeps{
		Store:         deps.MagicLinkRepo,
		Mailer:        deps.Mailer,
		Guard:         deps.Guard,
		FrontendURL:   cfg.FrontendURL,
		LinkTTL:       cfg.MagicLinkTTL,
		InvitationTTL: cfg.InvitationLinkTTL,
	})
	otpSvc := otp.NewService(otp.ServiceDeps{
		Store:       deps.OTPRepo,
		Mailer:      deps.Mailer,
		SMS:         deps.SMSSender,
		Gate:        deps.Guard,
		Expiry:      cfg.OTPExpiry,
		MaxAttempts: cfg.OTPMaxAttempts,
	})
	verifier := deps.GoogleVerifier
	if verifier == nil {
		verifier = disabledVerifier{}
	}
	socialSvc := social.NewService(deps.UserRepo, verifier)
	sessionMgr := session.NewManager(session.ManagerDeps{
		Users:        deps.UserRepo,
		Sessions:     deps.SessionRepo,
		Tokens:       deps.JWTProvider,
		Hijack:       deps.Guard,
		Audit:        deps.Trail,
		TTL:          cfg.SessionTTL,
		RefreshAfter: cfg.RefreshAfter,
		DeviceSecret: cfg.DeviceSecret,
	})
	orch := orchestrator.NewService(orchestrator.ServiceDeps{
		MagicLinks: magicLinkSvc,
		OTPs:       otpSvc,
		Social:     socialSvc,
		Sessions:   sessionMgr,
		Users:      deps.UserRepo,
		Gate:       deps.Guard,
		Audit:      deps.Trail,
	})

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(orch)
	sessionH := handler.NewSessionHandler(sessionMgr)
	accountH := handler.NewAccountHandler(socialSvc)
	var archiver audit.Archiver
	if deps.ArchiveStore != nil {
		archiver = deps.ArchiveStore
	}
	auditH := handler.NewAuditHandler(deps.Trail, archiver)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes ────────────────────────────────────────────────────
		r.Get("/health-check", healthH.Ping)

		r.Group(func(r chi.Router) {
			r.Use(sensitiveRL.Limit)
			r.Post("/auth/magic-link", authH.MagicLinkRequest)
			r.Post("/auth/magic-link/verify", authH.MagicLinkVerify)
			r.Post("/auth/otp", authH.OTPRequest)
			r.Post("/auth/otp/resend", authH.OTPResend)
			r.Post("/auth/otp/verify", authH.OTPVerify)
			r.Post("/auth/google", authH.GoogleSignIn)
		})

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/sessions", sessionH.Current)
			r.Post("/sessions/refresh", sessionH.Refresh)
			r.Post("/sessions/logout", sessionH.Logout)
			r.Post("/sessions/logout-all", sessionH.LogoutAll)
			r.Get("/sessions/activity", sessionH.Activity)

			r.Post("/account/google/link", accountH.LinkGoogle)
			r.Delete("/account/methods/{method}", accountH.UnlinkMethod)

			// Audit read access for admins and auditors.
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin, domain.RoleAuditor))

				r.Get("/audit/logs", auditH.Query)
				r.Get("/audit/summary", auditH.Summary)
				r.Get("/audit/export", auditH.Export)
				r.Get("/audit/alerts", auditH.Alerts)
			})

			// Admin-only mutations.
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Post("/audit/alerts/{id}/resolve", auditH.ResolveAlert)
				r.Delete("/sessions/{id}", sessionH.RevokeByID)
			})
		})
	})

	return r
}
