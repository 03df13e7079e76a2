package social

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agrichain-api/internal/domain"
	"github.com/agrichain-api/internal/infrastructure/google"
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
func (m *mockUsers) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockUsers) Update(ctx context.Context, userID string, updates map[string]interface{}) error {
	return m.Called(ctx, userID, updates).Error(0)
}

type mockVerifier struct{ mock.Mock }

func (m *mockVerifier) Verify(ctx context.Context, token string) (*google.Profile, error) {
	args := m.Called(ctx, token)
	if p, _ := args.Get(0).(*google.Profile); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func verifiedProfile() *google.Profile {
	return &google.Profile{
		ID:            "sub-123",
		Email:         "farmer@coop.example",
		Name:          "Maria Fields",
		Picture:       "https://lh3.example/p.jpg",
		VerifiedEmail: true,
		Provider:      domain.MethodGoogle,
	}
}

func linkedUser() *domain.User {
	return &domain.User{
		UserID:      "u1",
		Email:       "farmer@coop.example",
		Role:        domain.RoleUser,
		AuthMethods: []string{domain.MethodMagicLink, domain.MethodGoogle},
		GoogleSub:   "sub-123",
		Active:      true,
	}
}

// --- VerifyToken ---

func TestVerifyToken_RejectsUnverifiedEmail(t *testing.T) {
	verifier := &mockVerifier{}
	svc := NewService(&mockUsers{}, verifier)

	p := verifiedProfile()
	p.VerifiedEmail = false
	verifier.On("Verify", mock.Anything, "tok").Return(p, nil)

	_, err := svc.VerifyToken(context.Background(), "tok")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

// --- Authenticate ---

func TestAuthenticate_LinkedAccount(t *testing.T) {
	users, verifier := &mockUsers{}, &mockVerifier{}
	svc := NewService(users, verifier)

	verifier.On("Verify", mock.Anything, "tok").Return(verifiedProfile(), nil)
	users.On("FindByEmail", mock.Anything, "farmer@coop.example").Return(linkedUser(), nil)

	out, err := svc.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, out.RequiresRegistration)
	assert.Equal(t, "u1", out.User.UserID)
	users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthenticate_AutoLinksExistingAccount(t *testing.T) {
	users, verifier := &mockUsers{}, &mockVerifier{}
	svc := NewService(users, verifier)

	existing := &domain.User{
		UserID:      "u1",
		Email:       "farmer@coop.example",
		AuthMethods: []string{domain.MethodMagicLink},
		Active:      true,
	}
	verifier.On("Verify", mock.Anything, "tok").Return(verifiedProfile(), nil)
	users.On("FindByEmail", mock.Anything, "farmer@coop.example").Return(existing, nil)
	users.On("Update", mock.Anything, "u1", mock.MatchedBy(func(u map[string]interface{}) bool {
		methods, _ := u["auth_methods"].([]string)
		return u["google_sub"] == "sub-123" && len(methods) == 2
	})).Return(nil)

	out, err := svc.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, out.User.HasAuthMethod(domain.MethodGoogle))
	assert.Equal(t, "sub-123", out.User.GoogleSub)
	users.AssertExpectations(t)
}

func TestAuthenticate_UnknownIdentityRequiresRegistration(t *testing.T) {
	users, verifier := &mockUsers{}, &mockVerifier{}
	svc := NewService(users, verifier)

	verifier.On("Verify", mock.Anything, "tok").Return(verifiedProfile(), nil)
	users.On("FindByEmail", mock.Anything, "farmer@coop.example").Return(nil, domain.ErrNotFound)

	out, err := svc.Authenticate(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, out.RequiresRegistration)
	assert.Nil(t, out.User)
	require.NotNil(t, out.Profile)
	assert.Equal(t, "farmer@coop.example", out.Profile.Email)
}

func TestAuthenticate_SubMismatchConflicts(t *testing.T) {
	users, verifier := &mockUsers{}, &mockVerifier{}
	svc := NewService(users, verifier)

	other := linkedUser()
	other.GoogleSub = "someone-else"
	verifier.On("Verify", mock.Anything, "tok").Return(verifiedProfile(), nil)
	users.On("FindByEmail", mock.Anything, "farmer@coop.example").Return(other, nil)

	_, err := svc.Authenticate(context.Background(), "tok")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	users, verifier := &mockUsers{}, &mockVerifier{}
	svc := NewService(users, verifier)
	verifier.On("Verify", mock.Anything, "bad").Return(nil, domain.ErrUnauthorized)

	_, err := svc.Authenticate(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	users.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
}

// --- Link ---

func TestLink_EmailMismatchForbidden(t *testing.T) {
	users, verifier := &mockUsers{}, &mockVerifier{}
	svc := NewService(users, verifier)

	verifier.On("Verify", mock.Anything, "tok").Return(verifiedProfile(), nil)
	users.On("FindByID", mock.Anything, "u2").Return(&domain.User{
		UserID: "u2", Email: "other@coop.example", AuthMethods: []string{domain.MethodOTP},
	}, nil)

	_, err := svc.Link(context.Background(), "u2", "tok")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLink_Idempotent(t *testing.T) {
	users, verifier := &mockUsers{}, &mockVerifier{}
	svc := NewService(users, verifier)

	verifier.On("Verify", mock.Anything, "tok").Return(verifiedProfile(), nil)
	users.On("FindByID", mock.Anything, "u1").Return(linkedUser(), nil)

	user, err := svc.Link(context.Background(), "u1", "tok")
	require.NoError(t, err)
	assert.True(t, user.HasAuthMethod(domain.MethodGoogle))
	users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

// --- Unlink ---

func TestUnlink_RemovesMethodAndClearsSub(t *testing.T) {
	users, verifier := &mockUsers{}, &mockVerifier{}
	svc := NewService(users, verifier)

	users.On("FindByID", mock.Anything, "u1").Return(linkedUser(), nil)
	users.On("Update", mock.Anything, "u1", mock.MatchedBy(func(u map[string]interface{}) bool {
		methods, _ := u["auth_methods"].([]string)
		return len(methods) == 1 && methods[0] == domain.MethodMagicLink && u["google_sub"] == ""
	})).Return(nil)

	user, err := svc.Unlink(context.Background(), "u1", domain.MethodGoogle)
	require.NoError(t, err)
	assert.False(t, user.HasAuthMethod(domain.MethodGoogle))
	assert.Empty(t, user.GoogleSub)
}

func TestUnlink_LastMethodForbidden(t *testing.T) {
	users := &mockUsers{}
	svc := NewService(users, &mockVerifier{})

	users.On("FindByID", mock.Anything, "u1").Return(&domain.User{
		UserID: "u1", AuthMethods: []string{domain.MethodGoogle}, GoogleSub: "sub-123",
	}, nil)

	_, err := svc.Unlink(context.Background(), "u1", domain.MethodGoogle)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnlink_NotLinked(t *testing.T) {
	users := &mockUsers{}
	svc := NewService(users, &mockVerifier{})

	users.On("FindByID", mock.Anything, "u1").Return(&domain.User{
		UserID: "u1", AuthMethods: []string{domain.MethodMagicLink, domain.MethodOTP},
	}, nil)

	_, err := svc.Unlink(context.Background(), "u1", domain.MethodGoogle)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}
