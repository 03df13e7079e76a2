package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/agrichain-api/internal/application/orchestrator"
	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/pkg/validate"
	"github.com/agrichain-api/internal/transport/http/middleware"
)

// Orchestrator is the authentication flow collaborator.
type Orchestrator interface {
	RequestMagicLink(ctx context.Context, email, purpose, recipientName, ip, userAgent string) *orchestrator.Result
	LoginWithMagicLink(ctx context.Context, token, ip, userAgent string) *orchestrator.Result
	RequestOTP(ctx context.Context, identifier, channel, purpose, ip, userAgent string) *orchestrator.Result
	ResendOTP(ctx context.Context, identifier, ip, userAgent string) *orchestrator.Result
	LoginWithOTP(ctx context.Context, identifier, code, ip, userAgent string) *orchestrator.Result
	LoginWithGoogle(ctx context.Context, idToken, ip, userAgent string) *orchestrator.Result
}

// AuthHandler exposes the passwordless login flows. Every flow responds 200
// with the orchestrator's uniform result envelope; transport-level failures
// (malformed body) are the only non-200 responses.
type AuthHandler struct {
	orch Orchestrator
}

func NewAuthHandler(orch Orchestrator) *AuthHandler {
	return &AuthHandler{orch: orch}
}

type magicLinkRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose"`
	Name    string `json:"name"`
}

func (h *AuthHandler) MagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Purpose == "" {
		req.Purpose = domain.PurposeLogin
	}
	res := h.orch.RequestMagicLink(r.Context(), req.Email, req.Purpose, req.Name,
		middleware.RemoteIP(r), r.UserAgent())
	writeJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) MagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	res := h.orch.LoginWithMagicLink(r.Context(), req.Token, middleware.RemoteIP(r), r.UserAgent())
	writeJSON(w, http.StatusOK, res)
}

type otpRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Channel    string `json:"channel" validate:"required,oneof=email sms"`
	Purpose    string `json:"purpose"`
}

func (h *AuthHandler) OTPRequest(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Purpose == "" {
		req.Purpose = domain.PurposeLogin
	}
	res := h.orch.RequestOTP(r.Context(), req.Identifier, req.Channel, req.Purpose,
		middleware.RemoteIP(r), r.UserAgent())
	writeJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) OTPResend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier required")
		return
	}
	res := h.orch.ResendOTP(r.Context(), req.Identifier, middleware.RemoteIP(r), r.UserAgent())
	writeJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) OTPVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Code       string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "identifier and code required")
		return
	}
	res := h.orch.LoginWithOTP(r.Context(), req.Identifier, req.Code,
		middleware.RemoteIP(r), r.UserAgent())
	writeJSON(w, http.StatusOK, res)
}

func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "id_token required")
		return
	}
	res := h.orch.LoginWithGoogle(r.Context(), req.IDToken, middleware.RemoteIP(r), r.UserAgent())
	writeJSON(w, http.StatusOK, res)
}
