package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrichain-api/internal/application/social"
	"github.com/agrichain-api/internal/transport/http/middleware"
)

// AccountHandler manages the caller's linked authentication methods.
type AccountHandler struct {
	social social.Service
}

func NewAccountHandler(svc social.Service) *AccountHandler {
	return &AccountHandler{social: svc}
}

func (h *AccountHandler) LinkGoogle(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "id_token required")
		return
	}
	user, err := h.social.Link(r.Context(), claims.UserID, req.IDToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "google linked", "user": user})
}

func (h *AccountHandler) UnlinkMethod(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := h.social.Unlink(r.Context(), claims.UserID, chi.URLParam(r, "method"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "method unlinked", "user": user})
}
