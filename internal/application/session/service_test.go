package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agrichain-api/internal/application/audit"
	"github.com/agrichain-api/internal/domain"
	jwtinfra "github.com/agrichain-api/internal/infrastructure/jwt"
)

// --- mocks ---

type mockUsers struct{ mock.Mock }

func (m *mockUsers) FindByID(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUsers) Update(ctx context.Context, userID string, updates map[string]interface{}) error {
	return m.Called(ctx, userID, updates).Error(0)
}

type mockSessions struct{ mock.Mock }

func (m *mockSessions) Put(ctx context.Context, s *domain.Session) error {
	return m.Called(ctx, s).Error(0)
}
func (m *mockSessions) FindByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if s, _ := args.Get(0).(*domain.Session); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSessions) FindByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	args := m.Called(ctx, userID)
	if s, _ := args.Get(0).([]domain.Session); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSessions) Update(ctx context.Context, sessionID string, updates map[string]interface{}) error {
	return m.Called(ctx, sessionID, updates).Error(0)
}
func (m *mockSessions) Delete(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}
func (m *mockSessions) DeleteByUser(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type mockTokens struct{ mock.Mock }

func (m *mockTokens) Sign(sessionID, userID, role, authMethod string) (string, error) {
	args := m.Called(sessionID, userID, role, authMethod)
	return args.String(0), args.Error(1)
}
func (m *mockTokens) SignWithExpiry(sessionID, userID, role, authMethod string, expiresAt time.Time) (string, error) {
	args := m.Called(sessionID, userID, role, authMethod, expiresAt)
	return args.String(0), args.Error(1)
}
func (m *mockTokens) Verify(token string) (*jwtinfra.Claims, error) {
	args := m.Called(token)
	if c, _ := args.Get(0).(*jwtinfra.Claims); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

type stubHijack struct{ detected bool }

func (h *stubHijack) DetectSessionHijacking(sessionID, currentIP, currentUA, originalIP, originalUA string) bool {
	return h.detected
}

type recordingAudit struct {
	entries []domain.AuditLogEntry
	trail   *audit.Trail
}

func (r *recordingAudit) Log(e domain.AuditLogEntry) {
	r.entries = append(r.entries, e)
	if r.trail != nil {
		r.trail.Log(e)
	}
}
func (r *recordingAudit) Query(f audit.Filter) audit.QueryResult {
	if r.trail != nil {
		return r.trail.Query(f)
	}
	return audit.QueryResult{}
}

func (r *recordingAudit) actions() []string {
	var out []string
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	users    *mockUsers
	sessions *mockSessions
	tokens   *mockTokens
	hijack   *stubHijack
	audit    *recordingAudit
	mgr      *manager
	now      time.Time
}

func newFixture() *fixture {
	f := &fixture{
		users:    &mockUsers{},
		sessions: &mockSessions{},
		tokens:   &mockTokens{},
		hijack:   &stubHijack{},
		audit:    &recordingAudit{trail: audit.New(audit.Config{})},
		now:      time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	f.mgr = NewManager(ManagerDeps{
		Users:    f.users,
		Sessions: f.sessions,
		Tokens:   f.tokens,
		Hijack:   f.hijack,
		Audit:    f.audit,
	}).(*manager)
	f.mgr.now = func() time.Time { return f.now }
	return f
}

func activeUser() *domain.User {
	return &domain.User{
		UserID:      "u1",
		Email:       "farmer@coop.example",
		Role:        domain.RoleUser,
		AuthMethods: []string{domain.MethodMagicLink},
		Active:      true,
	}
}

func storedSession(f *fixture) *domain.Session {
	return &domain.Session{
		SessionID:  "s1",
		UserID:     "u1",
		AuthMethod: domain.MethodMagicLink,
		IPAddress:  "1.2.3.4",
		UserAgent:  "ua",
		ExpiresAt:  f.now.Add(20 * time.Hour),
	}
}

func claimsFor(sessionID string) *jwtinfra.Claims {
	return &jwtinfra.Claims{SessionID: sessionID, UserID: "u1", Role: domain.RoleUser, AuthMethod: domain.MethodMagicLink}
}

// --- Create ---

func TestCreate(t *testing.T) {
	f := newFixture()
	f.sessions.On("Put", mock.Anything, mock.MatchedBy(func(s *domain.Session) bool {
		return s.UserID == "u1" && s.ExpiresAt.Equal(f.now.Add(24*time.Hour)) && s.DeviceFingerprint != ""
	})).Return(nil)
	f.tokens.On("Sign", mock.Anything, "u1", domain.RoleUser, domain.MethodMagicLink).Return("signed", nil)
	f.users.On("Update", mock.Anything, "u1", mock.Anything).Return(nil)

	sess, token, err := f.mgr.Create(context.Background(), activeUser(), domain.MethodMagicLink, "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.Equal(t, "signed", token)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, []string{domain.EventSessionCreated}, f.audit.actions())
}

func TestCreate_InactiveUser(t *testing.T) {
	f := newFixture()
	u := activeUser()
	u.Active = false

	_, _, err := f.mgr.Create(context.Background(), u, domain.MethodMagicLink, "1.2.3.4", "ua")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	f.sessions.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	assert.Equal(t, []string{domain.EventLoginFailure}, f.audit.actions())
}

// --- Validate ---

func TestValidate(t *testing.T) {
	f := newFixture()
	f.tokens.On("Verify", "tok").Return(claimsFor("s1"), nil)
	f.sessions.On("FindByID", mock.Anything, "s1").Return(storedSession(f), nil)
	f.users.On("FindByID", mock.Anything, "u1").Return(activeUser(), nil)

	v, err := f.mgr.Validate(context.Background(), "tok", "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.Equal(t, "s1", v.Session.SessionID)
	assert.NotNil(t, v.Session.User)
	assert.False(t, v.NeedsRefresh)
}

func TestValidate_NeedsRefreshNearExpiry(t *testing.T) {
	f := newFixture()
	sess := storedSession(f)
	sess.ExpiresAt = f.now.Add(90 * time.Minute)
	f.tokens.On("Verify", "tok").Return(claimsFor("s1"), nil)
	f.sessions.On("FindByID", mock.Anything, "s1").Return(sess, nil)
	f.users.On("FindByID", mock.Anything, "u1").Return(activeUser(), nil)

	v, err := f.mgr.Validate(context.Background(), "tok", "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.True(t, v.NeedsRefresh)
}

func TestValidate_BadSignatureShortCircuits(t *testing.T) {
	f := newFixture()
	f.tokens.On("Verify", "tok").Return(nil, domain.ErrUnauthorized)

	_, err := f.mgr.Validate(context.Background(), "tok", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	f.sessions.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestValidate_RevokedSession(t *testing.T) {
	f := newFixture()
	f.tokens.On("Verify", "tok").Return(claimsFor("s1"), nil)
	f.sessions.On("FindByID", mock.Anything, "s1").Return(nil, domain.ErrNotFound)

	_, err := f.mgr.Validate(context.Background(), "tok", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestValidate_ExpiredSessionIsDeleted(t *testing.T) {
	f := newFixture()
	sess := storedSession(f)
	sess.ExpiresAt = f.now.Add(-time.Second)
	f.tokens.On("Verify", "tok").Return(claimsFor("s1"), nil)
	f.sessions.On("FindByID", mock.Anything, "s1").Return(sess, nil)
	f.sessions.On("Delete", mock.Anything, "s1").Return(nil)

	_, err := f.mgr.Validate(context.Background(), "tok", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, domain.ErrExpired)
	f.sessions.AssertCalled(t, "Delete", mock.Anything, "s1")
}

func TestValidate_InactiveUserKillsSession(t *testing.T) {
	f := newFixture()
	inactive := activeUser()
	inactive.Active = false
	f.tokens.On("Verify", "tok").Return(claimsFor("s1"), nil)
	f.sessions.On("FindByID", mock.Anything, "s1").Return(storedSession(f), nil)
	f.sessions.On("Delete", mock.Anything, "s1").Return(nil)
	f.users.On("FindByID", mock.Anything, "u1").Return(inactive, nil)

	_, err := f.mgr.Validate(context.Background(), "tok", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Contains(t, f.audit.actions(), domain.EventSessionRevoked)
}

func TestValidate_HijackKillsSession(t *testing.T) {
	f := newFixture()
	f.hijack.detected = true
	f.tokens.On("Verify", "tok").Return(claimsFor("s1"), nil)
	f.sessions.On("FindByID", mock.Anything, "s1").Return(storedSession(f), nil)
	f.sessions.On("Delete", mock.Anything, "s1").Return(nil)
	f.users.On("FindByID", mock.Anything, "u1").Return(activeUser(), nil)

	_, err := f.mgr.Validate(context.Background(), "tok", "6.6.6.6", "other-ua")
	assert.ErrorIs(t, err, domain.ErrHijackDetected)
	f.sessions.AssertCalled(t, "Delete", mock.Anything, "s1")
}

// --- Refresh ---

func TestRefresh_ExtendsAndResigns(t *testing.T) {
	f := newFixture()
	sess := storedSession(f)
	sess.ExpiresAt = f.now.Add(time.Hour)
	f.tokens.On("Verify", "tok").Return(claimsFor("s1"), nil)
	f.sessions.On("FindByID", mock.Anything, "s1").Return(sess, nil)
	f.users.On("FindByID", mock.Anything, "u1").Return(activeUser(), nil)
	f.sessions.On("Update", mock.Anything, "s1", mock.Anything).Return(nil)
	newExpiry := f.now.Add(24 * time.Hour)
	f.tokens.On("SignWithExpiry", "s1", "u1", domain.RoleUser, domain.MethodMagicLink, newExpiry).Return("fresh", nil)

	got, token, err := f.mgr.Refresh(context.Background(), "tok", "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.True(t, got.ExpiresAt.Equal(newExpiry))
}

func TestRefresh_InvalidTokenFails(t *testing.T) {
	f := newFixture()
	f.tokens.On("Verify", "tok").Return(nil, domain.ErrExpired)

	_, _, err := f.mgr.Refresh(context.Background(), "tok", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, domain.ErrExpired)
	f.sessions.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

// --- Revoke ---

func TestRevoke(t *testing.T) {
	f := newFixture()
	f.sessions.On("FindByID", mock.Anything, "s1").Return(storedSession(f), nil)
	f.sessions.On("Delete", mock.Anything, "s1").Return(nil)

	require.NoError(t, f.mgr.Revoke(context.Background(), "s1", "u1", "1.2.3.4"))
	assert.Equal(t, []string{domain.EventSessionRevoked}, f.audit.actions())
}

func TestRevoke_UnknownSession(t *testing.T) {
	f := newFixture()
	f.sessions.On("FindByID", mock.Anything, "nope").Return(nil, domain.ErrNotFound)

	err := f.mgr.Revoke(context.Background(), "nope", "u1", "1.2.3.4")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevokeAllForUser(t *testing.T) {
	f := newFixture()
	f.sessions.On("DeleteByUser", mock.Anything, "u1").Return(3, nil)

	count, err := f.mgr.RevokeAllForUser(context.Background(), "u1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "3", f.audit.entries[0].Details["count"])
}

// --- CheckSuspiciousActivity ---

func TestCheckSuspiciousActivity_Clean(t *testing.T) {
	f := newFixture()
	report := f.mgr.CheckSuspiciousActivity(context.Background(), "u1")
	assert.False(t, report.Suspicious)
	assert.Equal(t, ActionNone, report.RecommendedAction)
}

func TestCheckSuspiciousActivity_FailureBurst(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		f.audit.Log(domain.AuditLogEntry{Action: domain.EventLoginFailure, UserID: "u1", Timestamp: f.now})
	}

	report := f.mgr.CheckSuspiciousActivity(context.Background(), "u1")
	assert.True(t, report.Suspicious)
	assert.Equal(t, ActionMonitor, report.RecommendedAction)
	require.Len(t, report.Reasons, 1)
	assert.Contains(t, report.Reasons[0], "failed logins")
}

func TestCheckSuspiciousActivity_Escalates(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		f.audit.Log(domain.AuditLogEntry{Action: domain.EventLoginFailure, UserID: "u1", Timestamp: f.now})
	}
	ips := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"}
	for i := 0; i < 12; i++ {
		f.audit.Log(domain.AuditLogEntry{
			Action:    domain.EventSessionCreated,
			UserID:    "u1",
			IPAddress: ips[i%len(ips)],
			Timestamp: f.now,
		})
	}

	report := f.mgr.CheckSuspiciousActivity(context.Background(), "u1")
	assert.True(t, report.Suspicious)
	assert.Len(t, report.Reasons, 3)
	assert.Equal(t, ActionSuspend, report.RecommendedAction)
}

func TestCheckSuspiciousActivity_DistinctIPsBeyondNewestPage(t *testing.T) {
	f := newFixture()
	// The distinct addresses sit in the oldest creations; a heavy
	// single-address burst afterwards must not push them out of view.
	for i, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4", "5.5.5.5"} {
		f.audit.Log(domain.AuditLogEntry{
			Action:    domain.EventSessionCreated,
			UserID:    "u1",
			IPAddress: ip,
			Timestamp: f.now.Add(time.Duration(i) * time.Second),
		})
	}
	for i := 0; i < 21; i++ {
		f.audit.Log(domain.AuditLogEntry{
			Action:    domain.EventSessionCreated,
			UserID:    "u1",
			IPAddress: "9.9.9.9",
			Timestamp: f.now.Add(time.Minute),
		})
	}

	report := f.mgr.CheckSuspiciousActivity(context.Background(), "u1")
	assert.True(t, report.Suspicious)
	require.Len(t, report.Reasons, 2)
	assert.Contains(t, report.Reasons[0], "6 distinct addresses")
	assert.Equal(t, ActionVerifyIdentity, report.RecommendedAction)
}
