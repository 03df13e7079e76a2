package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agrichain-api/internal/application/audit"
	"github.com/agrichain-api/internal/transport/http/middleware"
)

// AuditHandler exposes the audit trail to admins and auditors: querying,
// summaries, alert triage, and compliance exports.
type AuditHandler struct {
	trail    *audit.Trail
	archiver audit.Archiver // nil disables server-side archival
}

func NewAuditHandler(trail *audit.Trail, archiver audit.Archiver) *AuditHandler {
	return &AuditHandler{trail: trail, archiver: archiver}
}

func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trail.Query(filterFromQuery(r)))
}

func (h *AuditHandler) Summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := parseTime(q.Get("from"))
	to := parseTime(q.Get("to"))
	writeJSON(w, http.StatusOK, h.trail.Summarize(from, to))
}

// Export streams the rendered export. With ?archive=true the artifact is
// also written to the compliance bucket and its URL returned instead.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	f := filterFromQuery(r)

	if r.URL.Query().Get("archive") == "true" {
		if h.archiver == nil {
			writeError(w, http.StatusNotImplemented, "archival is not configured")
			return
		}
		url, err := h.trail.Archive(r.Context(), h.archiver, f, format)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"archived_to": url})
		return
	}

	data, contentType, err := h.trail.Export(f, format)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *AuditHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("include_resolved") == "true"
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": h.trail.Alerts(includeResolved),
	})
}

func (h *AuditHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.trail.ResolveAlert(chi.URLParam(r, "id"), claims.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "alert resolved"})
}

func filterFromQuery(r *http.Request) audit.Filter {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:     q.Get("user_id"),
		Identifier: q.Get("identifier"),
		Role:       q.Get("role"),
		Action:     q.Get("action"),
		Resource:   q.Get("resource"),
		Severity:   q.Get("severity"),
		IPAddress:  q.Get("ip"),
		From:       parseTime(q.Get("from")),
		To:         parseTime(q.Get("to")),
	}
	if v := q.Get("success"); v != "" {
		b := v == "true"
		f.Success = &b
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil {
		f.Offset = n
	}
	return f
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
