// Package session owns the current authenticated session. It derives its
// state from the identity gateway's transition stream and layers on the
// best-effort profile bookkeeping that rides along with sign-in/sign-out.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/identity"
	"github.com/hamletsspeak/812Hamur/internal/store"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
)

// EventPublisher receives domain events emitted by the manager. Publishing
// is always best-effort.
type EventPublisher interface {
	SessionSignedIn(ctx context.Context, s domain.Session, isNewAccount bool) error
	SessionSignedOut(ctx context.Context, userID string) error
}

// Manager tracks the single live session. Exactly one session (or none) is
// live at a time; sign-in replaces it, sign-out clears it.
type Manager struct {
	gateway   identity.Gateway
	documents store.DocumentStore
	events    EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	mu             sync.Mutex
	current        *domain.Session
	token          string
	authenticating bool
	listeners      map[int]func(*domain.Session)
	nextListener   int
	cleanups       []func()

	removeGatewayListener identity.RemoveListener
}

// NewManager creates a session manager wired to the gateway's transition
// stream. events may be nil.
func NewManager(gateway identity.Gateway, documents store.DocumentStore, events EventPublisher, logger *slog.Logger) *Manager {
	m := &Manager{
		gateway:   gateway,
		documents: documents,
		events:    events,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(*domain.Session)),
	}
	m.removeGatewayListener = gateway.OnSessionChanged(m.applyTransition)
	return m
}

// Close detaches the manager from the gateway stream.
func (m *Manager) Close() {
	if m.removeGatewayListener != nil {
		m.removeGatewayListener()
		m.removeGatewayListener = nil
	}
}

// Current returns a copy of the live session, or nil when signed out.
func (m *Manager) Current() *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	s := *m.current
	return &s
}

// Token returns the live session token, or empty when signed out.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Authenticating reports whether a sign-in operation is in flight.
func (m *Manager) Authenticating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticating
}

// OnSessionChanged registers a session listener. The listener fires once
// immediately with the current state, then on every transition, until
// removed.
func (m *Manager) OnSessionChanged(fn func(s *domain.Session)) identity.RemoveListener {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	var replay *domain.Session
	if m.current != nil {
		s := *m.current
		replay = &s
	}
	m.mu.Unlock()

	fn(replay)

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// RegisterCleanup registers a function to run once after the next sign-out.
// Used to tear down per-session resources such as profile subscriptions.
func (m *Manager) RegisterCleanup(fn func()) {
	m.mu.Lock()
	m.cleanups = append(m.cleanups, fn)
	m.mu.Unlock()
}

// SignUp creates an account and establishes its session.
func (m *Manager) SignUp(ctx context.Context, email, password string) (*identity.Result, error) {
	return m.authenticate(ctx, func(ctx context.Context) (*identity.Result, error) {
		return m.gateway.SignUp(ctx, email, password)
	})
}

// SignIn establishes a session for an existing account.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*identity.Result, error) {
	return m.authenticate(ctx, func(ctx context.Context) (*identity.Result, error) {
		return m.gateway.SignIn(ctx, email, password)
	})
}

// SignInWithSocial establishes a session from a social provider assertion.
func (m *Manager) SignInWithSocial(ctx context.Context, provider, assertion string) (*identity.Result, error) {
	return m.authenticate(ctx, func(ctx context.Context) (*identity.Result, error) {
		return m.gateway.SignInWithSocial(ctx, provider, assertion)
	})
}

// SignInAnonymously establishes a session for a fresh anonymous account.
func (m *Manager) SignInAnonymously(ctx context.Context) (*identity.Result, error) {
	return m.authenticate(ctx, m.gateway.SignInAnonymously)
}

// SignOut ends the live session. The lastLogout stamp is best-effort; the
// sign-out itself is the primary action and its failure is surfaced.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	current := m.current
	token := m.token
	m.mu.Unlock()

	if current == nil {
		return apperrors.ErrNoSession
	}

	if err := m.gateway.SignOut(ctx, token); err != nil {
		return err
	}

	// The gateway's transition stream has already cleared our state via
	// applyTransition. Stamp only once the sign-out actually happened, so a
	// failed attempt never records a logout that did not occur.
	m.recordProfileStamp(ctx, current.UserID, map[string]any{
		domain.FieldLastLogout: m.now().UTC(),
	})
	return nil
}

// UpdatePassword changes the live account's password.
func (m *Manager) UpdatePassword(ctx context.Context, currentPassword, newPassword string) error {
	current := m.Current()
	if current == nil {
		return apperrors.ErrNoSession
	}
	return m.gateway.UpdatePassword(ctx, current.UserID, currentPassword, newPassword)
}

// authenticate runs one sign-in flavor with the transient authenticating
// flag, then performs the post-sign-in bookkeeping.
func (m *Manager) authenticate(ctx context.Context, fn func(ctx context.Context) (*identity.Result, error)) (*identity.Result, error) {
	m.mu.Lock()
	m.authenticating = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.authenticating = false
		m.mu.Unlock()
	}()

	res, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.token = res.Token
	m.mu.Unlock()

	stamp := map[string]any{
		domain.FieldLastLogin: res.Session.LastLoginAt.UTC(),
	}
	if res.IsNewAccount {
		stamp[domain.FieldCreatedAt] = res.Session.CreatedAt.UTC()
		if res.Session.Email != "" {
			stamp[domain.FieldEmail] = res.Session.Email
		}
	}
	m.recordProfileStamp(ctx, res.Session.UserID, stamp)

	if m.events != nil {
		if err := m.events.SessionSignedIn(ctx, res.Session, res.IsNewAccount); err != nil {
			m.logger.WarnContext(ctx, "publish session.signed_in failed",
				slog.String("user_id", res.Session.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	return res, nil
}

// recordProfileStamp merges bookkeeping fields into the profile document.
// Failures degrade to warnings: they never block session establishment.
func (m *Manager) recordProfileStamp(ctx context.Context, userID string, fields map[string]any) {
	if err := m.documents.WriteMerge(ctx, userID, fields); err != nil {
		m.logger.WarnContext(ctx, "profile bookkeeping write failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// applyTransition is the gateway transition listener. A nil session clears
// the live state and runs registered cleanups.
func (m *Manager) applyTransition(s *domain.Session) {
	m.mu.Lock()
	var cleanups []func()
	var departed string
	if s == nil {
		if m.current != nil {
			departed = m.current.UserID
		}
		m.current = nil
		m.token = ""
		cleanups = m.cleanups
		m.cleanups = nil
	} else {
		cp := *s
		m.current = &cp
	}
	fns := make([]func(*domain.Session), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}
	for _, fn := range fns {
		fn(s)
	}

	if departed != "" && m.events != nil {
		if err := m.events.SessionSignedOut(context.Background(), departed); err != nil {
			m.logger.Warn("publish session.signed_out failed",
				slog.String("user_id", departed),
				slog.String("error", err.Error()),
			)
		}
	}
}
