package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrichain-api/internal/application/session"
	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/transport/http/middleware"
)

// SessionHandler exposes session lifecycle endpoints. All of them run behind
// the auth middleware, so the raw bearer token and its claims are in context.
type SessionHandler struct {
	mgr session.Manager
}

func NewSessionHandler(mgr session.Manager) *SessionHandler {
	return &SessionHandler{mgr: mgr}
}

// Current re-validates the bearer token against the store, not just the
// signature, so revoked and hijacked sessions are caught here.
func (h *SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	v, err := h.mgr.Validate(r.Context(), token, middleware.RemoteIP(r), r.UserAgent())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionEnvelope{Session: v.Session, NeedsRefresh: v.NeedsRefresh})
}

func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sess, fresh, err := h.mgr.Refresh(r.Context(), token, middleware.RemoteIP(r), r.UserAgent())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionEnvelope{Session: sess, SessionToken: fresh})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.mgr.Revoke(r.Context(), claims.SessionID, claims.UserID, middleware.RemoteIP(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "logged out"})
}

func (h *SessionHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	count, err := h.mgr.RevokeAllForUser(r.Context(), claims.UserID, claims.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "logged out everywhere", "revoked": count})
}

// RevokeByID lets an admin terminate any session.
func (h *SessionHandler) RevokeByID(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := chi.URLParam(r, "id")
	if err := h.mgr.Revoke(r.Context(), sessionID, claims.UserID, middleware.RemoteIP(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "session revoked"})
}

// Activity reports the caller's own suspicious-activity heuristics; admins
// can query any user via the query parameter.
func (h *SessionHandler) Activity(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	userID := claims.UserID
	if q := r.URL.Query().Get("user_id"); q != "" && q != claims.UserID {
		if claims.Role != domain.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		userID = q
	}
	writeJSON(w, http.StatusOK, h.mgr.CheckSuspiciousActivity(r.Context(), userID))
}
