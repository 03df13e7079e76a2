package magiclink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agrichain-api/internal/domain"
)

// --- mocks ---

type mockStore struct{ mock.Mock }

func (m *mockStore) Put(ctx context.Context, l *domain.MagicLink) error {
	return m.Called(ctx, l).Error(0)
}
func (m *mockStore) FindByToken(ctx context.Context, token string) (*domain.MagicLink, error) {
	args := m.Called(ctx, token)
	if l, _ := args.Get(0).(*domain.MagicLink); l != nil {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockStore) FindUnusedByEmail(ctx context.Context, email, purpose string) ([]domain.MagicLink, error) {
	args := m.Called(ctx, email, purpose)
	if links, _ := args.Get(0).([]domain.MagicLink); links != nil {
		return links, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockStore) MarkUsed(ctx context.Context, magicLinkID string) error {
	return m.Called(ctx, magicLinkID).Error(0)
}
func (m *mockStore) Delete(ctx context.Context, magicLinkID string) error {
	return m.Called(ctx, magicLinkID).Error(0)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendEmail(to, subject, body string, isHTML bool) error {
	return m.Called(to, subject, body, isHTML).Error(0)
}

type stubGuard struct {
	token       string
	formatValid bool
}

func (g *stubGuard) GenerateSecureToken(length int, includeTimestamp bool) (string, error) {
	return g.token, nil
}
func (g *stubGuard) ValidateTokenFormat(token string, expectedLength int) bool {
	return g.formatValid
}

func newTestService(store *mockStore, mailer *mockMailer, g *stubGuard) (*service, *time.Time) {
	svc := NewService(ServiceDeps{
		Store:       store,
		Mailer:      mailer,
		Guard:       g,
		FrontendURL: "https://app.agrichain.example",
	}).(*service)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, &now
}

// --- Generate ---

func TestGenerate_LoginLink(t *testing.T) {
	store, mailer, g := &mockStore{}, &mockMailer{}, &stubGuard{token: "tok-login"}
	svc, now := newTestService(store, mailer, g)

	store.On("FindUnusedByEmail", mock.Anything, "farmer@coop.example", domain.PurposeLogin).Return([]domain.MagicLink{}, nil)
	store.On("Put", mock.Anything, mock.MatchedBy(func(l *domain.MagicLink) bool {
		return l.Email == "farmer@coop.example" &&
			l.Token == "tok-login" &&
			l.Purpose == domain.PurposeLogin &&
			l.ExpiresAt.Equal(now.Add(time.Hour)) &&
			!l.Used
	})).Return(nil)
	mailer.On("SendEmail", "farmer@coop.example", mock.Anything, mock.MatchedBy(func(body string) bool {
		return len(body) > 0
	}), true).Return(nil)

	link, err := svc.Generate(context.Background(), "farmer@coop.example", domain.PurposeLogin, "Maria")
	require.NoError(t, err)
	assert.NotEmpty(t, link.MagicLinkID)
	store.AssertExpectations(t)
	mailer.AssertExpectations(t)
}

func TestGenerate_InvitationUsesLongerTTLAndSkipsSupersede(t *testing.T) {
	store, mailer, g := &mockStore{}, &mockMailer{}, &stubGuard{token: "tok-invite"}
	svc, now := newTestService(store, mailer, g)

	store.On("Put", mock.Anything, mock.MatchedBy(func(l *domain.MagicLink) bool {
		return l.ExpiresAt.Equal(now.Add(7 * 24 * time.Hour))
	})).Return(nil)
	mailer.On("SendEmail", mock.Anything, mock.Anything, mock.Anything, true).Return(nil)

	_, err := svc.Generate(context.Background(), "new@coop.example", domain.PurposeInvitation, "")
	require.NoError(t, err)
	store.AssertNotCalled(t, "FindUnusedByEmail", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_SupersedesOutstandingLinks(t *testing.T) {
	store, mailer, g := &mockStore{}, &mockMailer{}, &stubGuard{token: "tok-new"}
	svc, _ := newTestService(store, mailer, g)

	stale := []domain.MagicLink{{MagicLinkID: "old-1"}, {MagicLinkID: "old-2"}}
	store.On("FindUnusedByEmail", mock.Anything, "farmer@coop.example", domain.PurposeLogin).Return(stale, nil)
	store.On("MarkUsed", mock.Anything, "old-1").Return(nil)
	store.On("MarkUsed", mock.Anything, "old-2").Return(domain.ErrAlreadyUsed)
	store.On("Put", mock.Anything, mock.Anything).Return(nil)
	mailer.On("SendEmail", mock.Anything, mock.Anything, mock.Anything, true).Return(nil)

	_, err := svc.Generate(context.Background(), "farmer@coop.example", domain.PurposeLogin, "")
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestGenerate_EmailFailureSurfaces(t *testing.T) {
	store, mailer, g := &mockStore{}, &mockMailer{}, &stubGuard{token: "tok"}
	svc, _ := newTestService(store, mailer, g)

	store.On("FindUnusedByEmail", mock.Anything, mock.Anything, mock.Anything).Return([]domain.MagicLink{}, nil)
	store.On("Put", mock.Anything, mock.Anything).Return(nil)
	mailer.On("SendEmail", mock.Anything, mock.Anything, mock.Anything, true).Return(errors.New("smtp 554"))

	_, err := svc.Generate(context.Background(), "farmer@coop.example", domain.PurposeLogin, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send magic link email")
}

func TestGenerate_RejectsUnknownPurpose(t *testing.T) {
	svc, _ := newTestService(&mockStore{}, &mockMailer{}, &stubGuard{token: "tok"})

	_, err := svc.Generate(context.Background(), "x@y.example", "password_reset", "")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

// --- Validate ---

func TestValidate_Success(t *testing.T) {
	store, mailer, g := &mockStore{}, &mockMailer{}, &stubGuard{formatValid: true}
	svc, now := newTestService(store, mailer, g)

	link := &domain.MagicLink{
		MagicLinkID: "ml-1",
		Email:       "farmer@coop.example",
		Purpose:     domain.PurposeLogin,
		ExpiresAt:   now.Add(30 * time.Minute),
	}
	store.On("FindByToken", mock.Anything, "tok").Return(link, nil)
	store.On("MarkUsed", mock.Anything, "ml-1").Return(nil)

	res, err := svc.Validate(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "farmer@coop.example", res.Email)
	assert.Equal(t, domain.PurposeLogin, res.Purpose)
	store.AssertExpectations(t)
}

func TestValidate_BadFormatShortCircuits(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store, &mockMailer{}, &stubGuard{formatValid: false})

	res, err := svc.Validate(context.Background(), "../../etc/passwd")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	store.AssertNotCalled(t, "FindByToken", mock.Anything, mock.Anything)
}

func TestValidate_UnknownToken(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store, &mockMailer{}, &stubGuard{formatValid: true})
	store.On("FindByToken", mock.Anything, "tok").Return(nil, domain.ErrNotFound)

	res, err := svc.Validate(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidate_AlreadyUsed(t *testing.T) {
	store := &mockStore{}
	svc, now := newTestService(store, &mockMailer{}, &stubGuard{formatValid: true})
	store.On("FindByToken", mock.Anything, "tok").Return(&domain.MagicLink{
		MagicLinkID: "ml-1", Used: true, ExpiresAt: now.Add(time.Hour),
	}, nil)

	res, err := svc.Validate(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Message, "already been used")
	store.AssertNotCalled(t, "MarkUsed", mock.Anything, mock.Anything)
}

func TestValidate_ExpiredLinkIsBurned(t *testing.T) {
	store := &mockStore{}
	svc, now := newTestService(store, &mockMailer{}, &stubGuard{formatValid: true})
	store.On("FindByToken", mock.Anything, "tok").Return(&domain.MagicLink{
		MagicLinkID: "ml-1", ExpiresAt: now.Add(-time.Second),
	}, nil)
	store.On("MarkUsed", mock.Anything, "ml-1").Return(nil)

	res, err := svc.Validate(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Message, "expired")
	store.AssertExpectations(t)
}

func TestValidate_LostMarkUsedRaceFailsClosed(t *testing.T) {
	store := &mockStore{}
	svc, now := newTestService(store, &mockMailer{}, &stubGuard{formatValid: true})
	store.On("FindByToken", mock.Anything, "tok").Return(&domain.MagicLink{
		MagicLinkID: "ml-1", ExpiresAt: now.Add(time.Hour),
	}, nil)
	store.On("MarkUsed", mock.Anything, "ml-1").Return(domain.ErrAlreadyUsed)

	res, err := svc.Validate(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidate_StoreFailureSurfaces(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store, &mockMailer{}, &stubGuard{formatValid: true})
	store.On("FindByToken", mock.Anything, "tok").Return(nil, errors.New("dynamo throttled"))

	_, err := svc.Validate(context.Background(), "tok")
	require.Error(t, err)
}

// --- Revoke ---

func TestRevoke(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store, &mockMailer{}, &stubGuard{})
	store.On("FindByToken", mock.Anything, "tok").Return(&domain.MagicLink{MagicLinkID: "ml-1"}, nil)
	store.On("MarkUsed", mock.Anything, "ml-1").Return(nil)

	revoked, err := svc.Revoke(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRevoke_UnknownTokenIsNoop(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store, &mockMailer{}, &stubGuard{})
	store.On("FindByToken", mock.Anything, "tok").Return(nil, domain.ErrNotFound)

	revoked, err := svc.Revoke(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevoke_AlreadyUsedStillReportsRevoked(t *testing.T) {
	store := &mockStore{}
	svc, _ := newTestService(store, &mockMailer{}, &stubGuard{})
	store.On("FindByToken", mock.Anything, "tok").Return(&domain.MagicLink{MagicLinkID: "ml-1"}, nil)
	store.On("MarkUsed", mock.Anything, "ml-1").Return(domain.ErrAlreadyUsed)

	revoked, err := svc.Revoke(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, revoked)
}
