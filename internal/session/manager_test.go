package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/identity"
	"github.com/hamletsspeak/812Hamur/internal/store"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
	"github.com/hamletsspeak/812Hamur/pkg/middleware"
)

// fakeGateway is a scriptable identity.Gateway with a working transition
// stream.
type fakeGateway struct {
	result     *identity.Result
	err        error
	signOutErr error

	// onAuthenticate runs inside each sign-in call, before it returns.
	onAuthenticate func()

	listeners []func(*domain.Session)
}

func (g *fakeGateway) signIn() (*identity.Result, error) {
	if g.onAuthenticate != nil {
		g.onAuthenticate()
	}
	if g.err != nil {
		return nil, g.err
	}
	s := g.result.Session
	g.notify(&s)
	return g.result, nil
}

func (g *fakeGateway) notify(s *domain.Session) {
	for _, fn := range g.listeners {
		fn(s)
	}
}

func (g *fakeGateway) SignUp(ctx context.Context, email, password string) (*identity.Result, error) {
	return g.signIn()
}

func (g *fakeGateway) SignIn(ctx context.Context, email, password string) (*identity.Result, error) {
	return g.signIn()
}

func (g *fakeGateway) SignInWithSocial(ctx context.Context, provider, assertion string) (*identity.Result, error) {
	return g.signIn()
}

func (g *fakeGateway) SignInAnonymously(ctx context.Context) (*identity.Result, error) {
	return g.signIn()
}

func (g *fakeGateway) SignOut(ctx context.Context, token string) error {
	if g.signOutErr != nil {
		return g.signOutErr
	}
	g.notify(nil)
	return nil
}

func (g *fakeGateway) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	return nil
}

func (g *fakeGateway) ValidateToken(token string) (*middleware.Claims, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) OnSessionChanged(fn func(s *domain.Session)) identity.RemoveListener {
	g.listeners = append(g.listeners, fn)
	return func() {}
}

// mockDocumentStore mocks store.DocumentStore.
type mockDocumentStore struct {
	mock.Mock
}

func (m *mockDocumentStore) ReadOnce(ctx context.Context, userID string) (*domain.ProfileDocument, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProfileDocument), args.Error(1)
}

func (m *mockDocumentStore) WriteMerge(ctx context.Context, userID string, fields map[string]any) error {
	args := m.Called(ctx, userID, fields)
	return args.Error(0)
}

func (m *mockDocumentStore) Subscribe(ctx context.Context, userID string, h store.SnapshotHandler, onErr store.ErrorHandler) (store.Unsubscribe, error) {
	args := m.Called(ctx, userID, h, onErr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(store.Unsubscribe), args.Error(1)
}

// recordingPublisher captures published session events.
type recordingPublisher struct {
	mu        sync.Mutex
	signedIn  []string
	signedOut []string
}

func (p *recordingPublisher) SessionSignedIn(ctx context.Context, s domain.Session, isNewAccount bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signedIn = append(p.signedIn, s.UserID)
	return nil
}

func (p *recordingPublisher) SessionSignedOut(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signedOut = append(p.signedOut, userID)
	return nil
}

func (p *recordingPublisher) SignedIn() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.signedIn...)
}

func (p *recordingPublisher) SignedOut() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.signedOut...)
}

func sampleResult(isNew bool) *identity.Result {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &identity.Result{
		Session: domain.Session{
			UserID:      "u1",
			Email:       "user@example.com",
			AuthMethod:  domain.AuthMethodPassword,
			CreatedAt:   now,
			LastLoginAt: now,
		},
		Token:        "token-1",
		IsNewAccount: isNew,
	}
}

func newTestManager(g identity.Gateway, docs store.DocumentStore) *Manager {
	return NewManager(g, docs, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSignInEstablishesSession(t *testing.T) {
	g := &fakeGateway{result: sampleResult(false)}
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, "u1", mock.MatchedBy(func(fields map[string]any) bool {
		_, hasLogin := fields[domain.FieldLastLogin]
		_, hasCreated := fields[domain.FieldCreatedAt]
		return hasLogin && !hasCreated
	})).Return(nil)

	m := newTestManager(g, docs)
	defer m.Close()

	res, err := m.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, "u1", m.Current().UserID)
	assert.Equal(t, "token-1", m.Token())
	assert.False(t, m.Authenticating())
	assert.Equal(t, res.Session.UserID, m.Current().UserID)
	docs.AssertExpectations(t)
}

func TestSignUpStampsNewAccountFields(t *testing.T) {
	g := &fakeGateway{result: sampleResult(true)}
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, "u1", mock.MatchedBy(func(fields map[string]any) bool {
		_, hasCreated := fields[domain.FieldCreatedAt]
		return hasCreated && fields[domain.FieldEmail] == "user@example.com"
	})).Return(nil)

	m := newTestManager(g, docs)
	defer m.Close()

	_, err := m.SignUp(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)
	docs.AssertExpectations(t)
}

func TestSignInSurvivesBookkeepingFailure(t *testing.T) {
	g := &fakeGateway{result: sampleResult(false)}
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, "u1", mock.Anything).Return(errors.New("store down"))

	m := newTestManager(g, docs)
	defer m.Close()

	_, err := m.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err, "best-effort stamp must not block sign-in")
	assert.NotNil(t, m.Current())
}

func TestSignInFailureLeavesSignedOut(t *testing.T) {
	g := &fakeGateway{err: apperrors.NewAuthError(apperrors.AuthInvalidCredential, "nope")}
	docs := new(mockDocumentStore)

	m := newTestManager(g, docs)
	defer m.Close()

	_, err := m.SignIn(context.Background(), "user@example.com", "wrong")
	assert.Equal(t, apperrors.AuthInvalidCredential, apperrors.AuthKindOf(err))
	assert.Nil(t, m.Current())
	assert.Empty(t, m.Token())
}

func TestAuthenticatingFlagDuringSignIn(t *testing.T) {
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	g := &fakeGateway{result: sampleResult(false)}
	m := newTestManager(g, docs)
	defer m.Close()

	var during bool
	g.onAuthenticate = func() { during = m.Authenticating() }

	_, err := m.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)

	assert.True(t, during, "flag set while gateway call in flight")
	assert.False(t, m.Authenticating())
}

func TestOnSessionChangedReplay(t *testing.T) {
	g := &fakeGateway{result: sampleResult(false)}
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	m := newTestManager(g, docs)
	defer m.Close()

	var got []*domain.Session
	m.OnSessionChanged(func(s *domain.Session) { got = append(got, s) })

	require.Len(t, got, 1)
	assert.Nil(t, got[0], "replay fires immediately with signed-out state")

	_, err := m.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[1].UserID)
}

func TestSignOutRunsCleanupsAndClearsSession(t *testing.T) {
	g := &fakeGateway{result: sampleResult(false)}
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, "u1", mock.Anything).Return(nil)

	m := newTestManager(g, docs)
	defer m.Close()

	_, err := m.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)

	cleaned := false
	m.RegisterCleanup(func() { cleaned = true })

	require.NoError(t, m.SignOut(context.Background()))

	assert.True(t, cleaned)
	assert.Nil(t, m.Current())
	assert.Empty(t, m.Token())

	// lastLogout stamp was among the merges.
	found := false
	for _, call := range docs.Calls {
		fields, ok := call.Arguments.Get(2).(map[string]any)
		if ok {
			if _, has := fields[domain.FieldLastLogout]; has {
				found = true
			}
		}
	}
	assert.True(t, found, "sign-out stamps lastLogout")
}

func TestSignOutWithoutSession(t *testing.T) {
	m := newTestManager(&fakeGateway{}, new(mockDocumentStore))
	defer m.Close()

	assert.ErrorIs(t, m.SignOut(context.Background()), apperrors.ErrNoSession)
}

func TestSignOutFailureKeepsSession(t *testing.T) {
	g := &fakeGateway{result: sampleResult(false)}
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, "u1", mock.Anything).Return(nil)

	m := newTestManager(g, docs)
	defer m.Close()

	_, err := m.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)

	g.signOutErr = apperrors.NewAuthError(apperrors.AuthSignOutFailed, "provider unavailable")

	err = m.SignOut(context.Background())
	assert.Equal(t, apperrors.AuthSignOutFailed, apperrors.AuthKindOf(err))
	assert.NotNil(t, m.Current(), "failed sign-out leaves the session live")

	// The session is still live, so no logout stamp may have been written.
	for _, call := range docs.Calls {
		if fields, ok := call.Arguments.Get(2).(map[string]any); ok {
			_, has := fields[domain.FieldLastLogout]
			assert.False(t, has, "failed sign-out must not stamp lastLogout")
		}
	}
}

func TestSignedOutEventFollowsTransition(t *testing.T) {
	g := &fakeGateway{result: sampleResult(false)}
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, "u1", mock.Anything).Return(nil)
	events := &recordingPublisher{}

	m := NewManager(g, docs, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer m.Close()

	_, err := m.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, events.SignedIn())

	// The provider invalidates the session out-of-band; the manager still
	// knows which user departed.
	g.notify(nil)
	assert.Equal(t, []string{"u1"}, events.SignedOut())

	// Clearing an already-clear session has no departing user.
	g.notify(nil)
	assert.Equal(t, []string{"u1"}, events.SignedOut())
}

func TestSignOutPublishesSignedOutEvent(t *testing.T) {
	g := &fakeGateway{result: sampleResult(false)}
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, "u1", mock.Anything).Return(nil)
	events := &recordingPublisher{}

	m := NewManager(g, docs, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer m.Close()

	_, err := m.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, m.SignOut(context.Background()))
	assert.Equal(t, []string{"u1"}, events.SignedOut())
}

func TestUpdatePasswordRequiresSession(t *testing.T) {
	m := newTestManager(&fakeGateway{}, new(mockDocumentStore))
	defer m.Close()

	err := m.UpdatePassword(context.Background(), "old", "new")
	assert.ErrorIs(t, err, apperrors.ErrNoSession)
}

func TestExternalInvalidation(t *testing.T) {
	g := &fakeGateway{result: sampleResult(false)}
	docs := new(mockDocumentStore)
	docs.On("WriteMerge", mock.Anything, "u1", mock.Anything).Return(nil)

	m := newTestManager(g, docs)
	defer m.Close()

	_, err := m.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)

	// Provider invalidates the session out-of-band.
	g.notify(nil)

	assert.Nil(t, m.Current())
	assert.Empty(t, m.Token())
}
