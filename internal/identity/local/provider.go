// Package local implements the identity gateway with its own account store:
// bcrypt-hashed passwords in PostgreSQL, signed session tokens, anonymous
// accounts, and a pluggable verifier for social sign-in.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/identity"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
	"github.com/hamletsspeak/812Hamur/pkg/middleware"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

const (
	defaultSignInLimit  = 5
	defaultSignInWindow = time.Minute
)

// Provider implements identity.Gateway.
type Provider struct {
	users    UserRepository
	tokens   *TokenManager
	verifier identity.SocialVerifier
	limiter  *loginLimiter
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	listeners  map[int]func(*domain.Session)
	nextListen int
	revoked    map[string]time.Time
}

// NewProvider creates a local identity provider. verifier may be nil, in
// which case social sign-in fails with Unknown.
func NewProvider(users UserRepository, tokens *TokenManager, verifier identity.SocialVerifier, logger *slog.Logger) *Provider {
	return &Provider{
		users:     users,
		tokens:    tokens,
		verifier:  verifier,
		limiter:   newLoginLimiter(defaultSignInLimit, defaultSignInWindow),
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(*domain.Session)),
		revoked:   make(map[string]time.Time),
	}
}

// SignUp creates an email/password account and signs it in.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*identity.Result, error) {
	if email == "" {
		return nil, apperrors.NewAuthError(apperrors.AuthInvalidCredential, "email is required")
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, apperrors.WrapAuth(apperrors.AuthUnknown, "hash password", err)
	}

	now := p.now().UTC()
	u := &User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		LastLoginAt:  now,
	}

	if err := p.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperrors.WrapAuth(apperrors.AuthAccountExists, "email already registered", err)
		}
		return nil, apperrors.WrapAuth(apperrors.AuthUnknown, "create account", err)
	}

	p.logger.InfoContext(ctx, "account created",
		slog.String("user_id", u.ID),
		slog.String("email", u.Email),
	)

	return p.establish(ctx, u, domain.AuthMethodPassword, true)
}

// SignIn authenticates an existing email/password account.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.Result, error) {
	if !p.limiter.allow(email) {
		return nil, apperrors.NewAuthError(apperrors.AuthRateLimited, "too many sign-in attempts")
	}

	u, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewAuthError(apperrors.AuthInvalidCredential, "invalid email or password")
		}
		return nil, apperrors.WrapAuth(apperrors.AuthUnknown, "look up account", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.NewAuthError(apperrors.AuthInvalidCredential, "invalid email or password")
	}

	p.limiter.reset(email)

	return p.establish(ctx, u, domain.AuthMethodPassword, false)
}

// SignInWithSocial authenticates via a third-party provider assertion,
// creating the account on first sight.
func (p *Provider) SignInWithSocial(ctx context.Context, provider, assertion string) (*identity.Result, error) {
	if p.verifier == nil {
		return nil, apperrors.NewAuthError(apperrors.AuthUnknown, "no social verifier configured")
	}

	ext, err := p.verifier.Verify(ctx, provider, assertion)
	if err != nil {
		if errors.Is(err, identity.ErrAborted) {
			return nil, apperrors.WrapAuth(apperrors.AuthPopupClosed, "sign-in flow abandoned", err)
		}
		return nil, apperrors.WrapAuth(apperrors.AuthInvalidCredential, "social assertion rejected", err)
	}

	u, err := p.users.GetBySocial(ctx, ext.Provider, ext.ExternalID)
	switch {
	case err == nil:
		return p.establish(ctx, u, domain.AuthMethodSocial, false)
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return nil, apperrors.WrapAuth(apperrors.AuthUnknown, "look up social account", err)
	}

	now := p.now().UTC()
	u = &User{
		ID:          uuid.New().String(),
		Email:       ext.Email,
		Provider:    ext.Provider,
		ExternalID:  ext.ExternalID,
		CreatedAt:   now,
		LastLoginAt: now,
	}

	if err := p.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperrors.WrapAuth(apperrors.AuthAccountExists, "email already registered with another method", err)
		}
		return nil, apperrors.WrapAuth(apperrors.AuthUnknown, "create social account", err)
	}

	p.logger.InfoContext(ctx, "social account created",
		slog.String("user_id", u.ID),
		slog.String("provider", ext.Provider),
	)

	return p.establish(ctx, u, domain.AuthMethodSocial, true)
}

// SignInAnonymously creates and signs in a throwaway account.
func (p *Provider) SignInAnonymously(ctx context.Context) (*identity.Result, error) {
	now := p.now().UTC()
	u := &User{
		ID:          uuid.New().String(),
		IsAnonymous: true,
		CreatedAt:   now,
		LastLoginAt: now,
	}

	if err := p.users.Create(ctx, u); err != nil {
		return nil, apperrors.WrapAuth(apperrors.AuthUnknown, "create anonymous account", err)
	}

	return p.establish(ctx, u, domain.AuthMethodAnonymous, true)
}

// SignOut invalidates the given session token and notifies listeners.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.tokens.Validate(token)
	if err != nil {
		return apperrors.WrapAuth(apperrors.AuthSignOutFailed, "invalid session token", err)
	}

	p.mu.Lock()
	p.revoked[claims.ID] = claims.ExpiresAt.Time
	p.pruneRevokedLocked()
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "signed out", slog.String("user_id", claims.UserID))
	p.notify(nil)

	return nil
}

// UpdatePassword changes the account password after re-verifying the current
// one.
func (p *Provider) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	u, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return apperrors.WrapAuth(apperrors.AuthUnknown, "look up account", err)
	}

	if u.IsAnonymous {
		return apperrors.NewAuthError(apperrors.AuthInvalidCredential, "anonymous accounts have no password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(currentPassword)); err != nil {
		return apperrors.NewAuthError(apperrors.AuthInvalidCredential, "current password is incorrect")
	}

	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return apperrors.WrapAuth(apperrors.AuthUnknown, "hash new password", err)
	}

	if err := p.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return apperrors.WrapAuth(apperrors.AuthUnknown, "store new password", err)
	}

	p.logger.InfoContext(ctx, "password updated", slog.String("user_id", userID))

	return nil
}

// ValidateToken checks a session token and returns its claims.
func (p *Provider) ValidateToken(token string) (*middleware.Claims, error) {
	claims, err := p.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("validate session token: %w", apperrors.ErrUnauthorized)
	}

	p.mu.Lock()
	_, revoked := p.revoked[claims.ID]
	p.mu.Unlock()
	if revoked {
		return nil, fmt.Errorf("session token revoked: %w", apperrors.ErrUnauthorized)
	}

	return &middleware.Claims{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Anonymous: claims.Anonymous,
	}, nil
}

// OnSessionChanged registers a session transition listener.
func (p *Provider) OnSessionChanged(fn func(s *domain.Session)) identity.RemoveListener {
	p.mu.Lock()
	id := p.nextListen
	p.nextListen++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// establish finishes a successful authentication: touches last login, issues
// the token, builds the session, and notifies listeners.
func (p *Provider) establish(ctx context.Context, u *User, method domain.AuthMethod, isNew bool) (*identity.Result, error) {
	now := p.now().UTC()
	if err := p.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		// Best effort: a stale last_login_at never blocks a sign-in.
		p.logger.WarnContext(ctx, "touch last login failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}

	token, err := p.tokens.Generate(u)
	if err != nil {
		return nil, apperrors.WrapAuth(apperrors.AuthUnknown, "issue session token", err)
	}

	session := domain.Session{
		UserID:      u.ID,
		Email:       u.Email,
		IsAnonymous: u.IsAnonymous,
		AuthMethod:  method,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: now,
	}

	p.notify(&session)

	return &identity.Result{
		Session:      session,
		Token:        token,
		IsNewAccount: isNew,
	}, nil
}

// notify invokes all registered listeners with the new session state.
func (p *Provider) notify(s *domain.Session) {
	p.mu.Lock()
	fns := make([]func(*domain.Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// pruneRevokedLocked drops revocation entries whose tokens have expired
// anyway. Caller holds p.mu.
func (p *Provider) pruneRevokedLocked() {
	now := p.now()
	for id, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, id)
		}
	}
}

// validatePassword checks minimum password complexity, returning WeakSecret
// on failure.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.NewAuthError(apperrors.AuthWeakSecret,
			fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.NewAuthError(apperrors.AuthWeakSecret,
			"password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}
