// Package identity defines the authentication gateway contract. The gateway
// is the only place where provider-specific failures are translated into the
// normalized AuthError taxonomy; callers never see raw provider errors.
package identity

import (
	"context"
	"errors"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/pkg/middleware"
)

// ErrAborted is returned by a SocialVerifier when the user abandoned the
// provider flow before completing it. The gateway maps it to PopupClosed.
var ErrAborted = errors.New("social flow aborted by user")

// Result is the outcome of a successful sign-in or sign-up.
type Result struct {
	Session      domain.Session
	Token        string
	IsNewAccount bool
}

// SocialIdentity is the external identity asserted by a social provider.
type SocialIdentity struct {
	Provider   string
	ExternalID string
	Email      string
}

// SocialVerifier validates a third-party sign-in assertion. Implementations
// call out to the provider; they may return ErrAborted for abandoned flows.
type SocialVerifier interface {
	Verify(ctx context.Context, provider, assertion string) (*SocialIdentity, error)
}

// RemoveListener detaches a session transition listener.
type RemoveListener func()

// Gateway authenticates users and exposes the session transition stream.
// Every error returned by its operations is an *apperrors.AuthError.
type Gateway interface {
	// SignUp creates an email/password account and signs it in.
	SignUp(ctx context.Context, email, password string) (*Result, error)

	// SignIn authenticates an existing email/password account.
	SignIn(ctx context.Context, email, password string) (*Result, error)

	// SignInWithSocial authenticates via a third-party provider assertion,
	// creating the account on first sight (Result.IsNewAccount).
	SignInWithSocial(ctx context.Context, provider, assertion string) (*Result, error)

	// SignInAnonymously creates and signs in a throwaway account with no
	// email identity.
	SignInAnonymously(ctx context.Context) (*Result, error)

	// SignOut invalidates the given session token.
	SignOut(ctx context.Context, token string) error

	// UpdatePassword changes the password of an authenticated account after
	// re-verifying the current one.
	UpdatePassword(ctx context.Context, userID, currentPassword, newPassword string) error

	// ValidateToken checks a session token and returns its claims.
	ValidateToken(token string) (*middleware.Claims, error)

	// OnSessionChanged registers a listener for session transitions. A nil
	// session means signed out. Listeners fire after every successful
	// sign-in/sign-out, in registration order.
	OnSessionChanged(fn func(s *domain.Session)) RemoveListener
}
