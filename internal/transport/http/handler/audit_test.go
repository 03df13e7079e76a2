package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrichain-api/internal/application/audit"
	"github.com/agrichain-api/internal/domain"
	jwtinfra "github.com/agrichain-api/internal/infrastructure/jwt"
	"github.com/agrichain-api/internal/transport/http/middleware"
)

type fakeArchiver struct {
	keys []string
}

func (f *fakeArchiver) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.keys = append(f.keys, key)
	return "s3://audit-archive/" + key, nil
}

func seededTrail() *audit.Trail {
	trail := audit.New(audit.Config{})
	trail.Log(domain.AuditLogEntry{
		Action: domain.EventLoginSuccess, UserID: "user-1", Identifier: "farmer@coop.example",
		IPAddress: "203.0.113.7", Severity: domain.SeverityLow, Success: true,
	})
	trail.Log(domain.AuditLogEntry{
		Action: domain.EventLoginFailure, Identifier: "farmer@coop.example",
		IPAddress: "198.51.100.9", Severity: domain.SeverityMedium, Success: false,
	})
	return trail
}

func auditRouter(trail *audit.Trail, archiver audit.Archiver) http.Handler {
	h := NewAuditHandler(trail, archiver)
	admin := &jwtinfra.Claims{SessionID: "sess-adm", UserID: "admin-1", Role: domain.RoleAdmin}
	r := chi.NewRouter()
	r.Use(middleware.Auth(stubVerifier{claims: admin}))
	r.Get("/audit/logs", h.Query)
	r.Get("/audit/summary", h.Summary)
	r.Get("/audit/export", h.Export)
	r.Get("/audit/alerts", h.Alerts)
	r.Post("/audit/alerts/{id}/resolve", h.ResolveAlert)
	return r
}

func TestAuditQueryFiltersByAction(t *testing.T) {
	router := auditRouter(seededTrail(), nil)

	rr := doAuthed(router, http.MethodGet, "/audit/logs?action=LOGIN_FAILURE")

	require.Equal(t, http.StatusOK, rr.Code)
	var res audit.QueryResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	require.Len(t, res.Entries, 1)
	assert.Equal(t, domain.EventLoginFailure, res.Entries[0].Action)
	assert.Equal(t, 1, res.Total)
}

func TestAuditSummary(t *testing.T) {
	router := auditRouter(seededTrail(), nil)

	rr := doAuthed(router, http.MethodGet, "/audit/summary")

	require.Equal(t, http.StatusOK, rr.Code)
	var s audit.Summary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&s))
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.SuccessCount)
	assert.Equal(t, 1, s.FailureCount)
}

func TestAuditExportCSV(t *testing.T) {
	router := auditRouter(seededTrail(), nil)

	rr := doAuthed(router, http.MethodGet, "/audit/export?format=csv")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "csv")
	assert.Contains(t, rr.Body.String(), "LOGIN_FAILURE")
}

func TestAuditExportArchives(t *testing.T) {
	archiver := &fakeArchiver{}
	router := auditRouter(seededTrail(), archiver)

	rr := doAuthed(router, http.MethodGet, "/audit/export?archive=true")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, archiver.keys, 1)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Contains(t, body["archived_to"], "s3://audit-archive/")
}

func TestAuditExportArchiveUnconfigured(t *testing.T) {
	router := auditRouter(seededTrail(), nil)

	rr := doAuthed(router, http.MethodGet, "/audit/export?archive=true")

	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestAuditResolveAlert(t *testing.T) {
	trail := audit.New(audit.Config{FailedLoginThreshold: 2})
	for i := 0; i < 3; i++ {
		trail.Log(domain.AuditLogEntry{
			Action: domain.EventLoginFailure, Identifier: "farmer@coop.example",
			IPAddress: "198.51.100.9", Severity: domain.SeverityMedium,
		})
	}
	alerts := trail.Alerts(false)
	require.NotEmpty(t, alerts)

	router := auditRouter(trail, nil)
	rr := doAuthed(router, http.MethodPost, "/audit/alerts/"+alerts[0].AlertID+"/resolve")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, trail.Alerts(false))

	resolved := trail.Alerts(true)
	require.NotEmpty(t, resolved)
	assert.Equal(t, "admin-1", resolved[0].ResolvedBy)
}

func TestAuditResolveAlertUnknown(t *testing.T) {
	router := auditRouter(seededTrail(), nil)

	rr := doAuthed(router, http.MethodPost, "/audit/alerts/no-such-alert/resolve")

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
