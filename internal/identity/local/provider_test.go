package local

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/identity"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, u *User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *mockUserRepository) GetBySocial(ctx context.Context, provider, externalID string) (*User, error) {
	args := m.Called(ctx, provider, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*User), args.Error(1)
}

func (m *mockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

func (m *mockUserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// --- Mock Social Verifier ---

type mockSocialVerifier struct {
	mock.Mock
}

func (m *mockSocialVerifier) Verify(ctx context.Context, provider, assertion string) (*identity.SocialIdentity, error) {
	args := m.Called(ctx, provider, assertion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.SocialIdentity), args.Error(1)
}

// --- Fixtures ---

func newTestProvider(users UserRepository, verifier identity.SocialVerifier) *Provider {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := NewTokenManager("test-secret", time.Hour)
	return NewProvider(users, tokens, verifier, logger)
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

// --- Tests ---

func TestSignUp(t *testing.T) {
	users := new(mockUserRepository)
	users.On("Create", mock.Anything, mock.MatchedBy(func(u *User) bool {
		return u.Email == "new@example.com" && u.PasswordHash != "" && !u.IsAnonymous
	})).Return(nil)
	users.On("TouchLastLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p := newTestProvider(users, nil)

	res, err := p.SignUp(context.Background(), "new@example.com", "Str0ngPass")
	require.NoError(t, err)

	assert.True(t, res.IsNewAccount)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "new@example.com", res.Session.Email)
	assert.Equal(t, domain.AuthMethodPassword, res.Session.AuthMethod)
	assert.True(t, res.Session.Valid())

	users.AssertExpectations(t)
}

func TestSignUpWeakPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"too short", "Ab1"},
		{"no uppercase", "alllower123"},
		{"no digit", "NoDigitsHere"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(new(mockUserRepository), nil)

			_, err := p.SignUp(context.Background(), "a@b.com", tt.password)
			assert.Equal(t, apperrors.AuthWeakSecret, apperrors.AuthKindOf(err))
		})
	}
}

func TestSignUpEmailTaken(t *testing.T) {
	users := new(mockUserRepository)
	users.On("Create", mock.Anything, mock.Anything).Return(ErrEmailTaken)

	p := newTestProvider(users, nil)

	_, err := p.SignUp(context.Background(), "taken@example.com", "Str0ngPass")
	assert.Equal(t, apperrors.AuthAccountExists, apperrors.AuthKindOf(err))
}

func TestSignIn(t *testing.T) {
	stored := &User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashOf(t, "Str0ngPass"),
	}

	users := new(mockUserRepository)
	users.On("GetByEmail", mock.Anything, "user@example.com").Return(stored, nil)
	users.On("TouchLastLogin", mock.Anything, "u1", mock.Anything).Return(nil)

	p := newTestProvider(users, nil)

	res, err := p.SignIn(context.Background(), "user@example.com", "Str0ngPass")
	require.NoError(t, err)

	assert.False(t, res.IsNewAccount)
	assert.Equal(t, "u1", res.Session.UserID)

	claims, err := p.ValidateToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestSignInWrongPassword(t *testing.T) {
	stored := &User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashOf(t, "Str0ngPass"),
	}

	users := new(mockUserRepository)
	users.On("GetByEmail", mock.Anything, "user@example.com").Return(stored, nil)

	p := newTestProvider(users, nil)

	_, err := p.SignIn(context.Background(), "user@example.com", "wrong")
	assert.Equal(t, apperrors.AuthInvalidCredential, apperrors.AuthKindOf(err))
}

func TestSignInUnknownEmail(t *testing.T) {
	users := new(mockUserRepository)
	users.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, apperrors.ErrNotFound)

	p := newTestProvider(users, nil)

	_, err := p.SignIn(context.Background(), "ghost@example.com", "whatever")
	assert.Equal(t, apperrors.AuthInvalidCredential, apperrors.AuthKindOf(err))
}

func TestSignInRateLimited(t *testing.T) {
	users := new(mockUserRepository)
	users.On("GetByEmail", mock.Anything, "user@example.com").Return(nil, apperrors.ErrNotFound)

	p := newTestProvider(users, nil)

	var err error
	for i := 0; i < defaultSignInLimit+1; i++ {
		_, err = p.SignIn(context.Background(), "user@example.com", "wrong")
	}

	assert.Equal(t, apperrors.AuthRateLimited, apperrors.AuthKindOf(err))
}

func TestSignInWithSocialNewAccount(t *testing.T) {
	verifier := new(mockSocialVerifier)
	verifier.On("Verify", mock.Anything, "github", "assertion-1").Return(&identity.SocialIdentity{
		Provider:   "github",
		ExternalID: "gh-42",
		Email:      "dev@example.com",
	}, nil)

	users := new(mockUserRepository)
	users.On("GetBySocial", mock.Anything, "github", "gh-42").Return(nil, apperrors.ErrNotFound)
	users.On("Create", mock.Anything, mock.MatchedBy(func(u *User) bool {
		return u.Provider == "github" && u.ExternalID == "gh-42"
	})).Return(nil)
	users.On("TouchLastLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p := newTestProvider(users, verifier)

	res, err := p.SignInWithSocial(context.Background(), "github", "assertion-1")
	require.NoError(t, err)

	assert.True(t, res.IsNewAccount)
	assert.Equal(t, domain.AuthMethodSocial, res.Session.AuthMethod)
	users.AssertExpectations(t)
}

func TestSignInWithSocialAborted(t *testing.T) {
	verifier := new(mockSocialVerifier)
	verifier.On("Verify", mock.Anything, "github", "a").Return(nil, identity.ErrAborted)

	p := newTestProvider(new(mockUserRepository), verifier)

	_, err := p.SignInWithSocial(context.Background(), "github", "a")
	assert.Equal(t, apperrors.AuthPopupClosed, apperrors.AuthKindOf(err))
}

func TestSignInAnonymously(t *testing.T) {
	users := new(mockUserRepository)
	users.On("Create", mock.Anything, mock.MatchedBy(func(u *User) bool {
		return u.IsAnonymous && u.Email == ""
	})).Return(nil)
	users.On("TouchLastLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p := newTestProvider(users, nil)

	res, err := p.SignInAnonymously(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Session.IsAnonymous)
	assert.Empty(t, res.Session.Email)
	assert.True(t, res.Session.Valid())
}

func TestSignOutRevokesToken(t *testing.T) {
	users := new(mockUserRepository)
	users.On("Create", mock.Anything, mock.Anything).Return(nil)
	users.On("TouchLastLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p := newTestProvider(users, nil)

	res, err := p.SignInAnonymously(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.SignOut(context.Background(), res.Token))

	_, err = p.ValidateToken(res.Token)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestSignOutBadToken(t *testing.T) {
	p := newTestProvider(new(mockUserRepository), nil)

	err := p.SignOut(context.Background(), "garbage")
	assert.Equal(t, apperrors.AuthSignOutFailed, apperrors.AuthKindOf(err))
}

func TestUpdatePassword(t *testing.T) {
	stored := &User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: hashOf(t, "OldPass123"),
	}

	users := new(mockUserRepository)
	users.On("GetByID", mock.Anything, "u1").Return(stored, nil)
	users.On("UpdatePassword", mock.Anything, "u1", mock.Anything).Return(nil)

	p := newTestProvider(users, nil)

	require.NoError(t, p.UpdatePassword(context.Background(), "u1", "OldPass123", "NewPass456"))
	users.AssertExpectations(t)
}

func TestUpdatePasswordWrongCurrent(t *testing.T) {
	stored := &User{
		ID:           "u1",
		PasswordHash: hashOf(t, "OldPass123"),
	}

	users := new(mockUserRepository)
	users.On("GetByID", mock.Anything, "u1").Return(stored, nil)

	p := newTestProvider(users, nil)

	err := p.UpdatePassword(context.Background(), "u1", "wrong", "NewPass456")
	assert.Equal(t, apperrors.AuthInvalidCredential, apperrors.AuthKindOf(err))
}

func TestUpdatePasswordWeakNew(t *testing.T) {
	stored := &User{
		ID:           "u1",
		PasswordHash: hashOf(t, "OldPass123"),
	}

	users := new(mockUserRepository)
	users.On("GetByID", mock.Anything, "u1").Return(stored, nil)

	p := newTestProvider(users, nil)

	err := p.UpdatePassword(context.Background(), "u1", "OldPass123", "weak")
	assert.Equal(t, apperrors.AuthWeakSecret, apperrors.AuthKindOf(err))
}

func TestOnSessionChanged(t *testing.T) {
	users := new(mockUserRepository)
	users.On("Create", mock.Anything, mock.Anything).Return(nil)
	users.On("TouchLastLogin", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p := newTestProvider(users, nil)

	var got []*domain.Session
	remove := p.OnSessionChanged(func(s *domain.Session) {
		got = append(got, s)
	})

	res, err := p.SignInAnonymously(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.SignOut(context.Background(), res.Token))

	require.Len(t, got, 2)
	assert.Equal(t, res.Session.UserID, got[0].UserID)
	assert.Nil(t, got[1])

	remove()
	_, err = p.SignInAnonymously(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2, "removed listener no longer fires")
}
