// Package store defines the profile document store contract. A store holds
// one document per user and supports point reads, shallow merge writes, and
// change subscriptions.
package store

import (
	"context"

	"github.com/hamletsspeak/812Hamur/internal/domain"
)

// Unsubscribe detaches a change subscription. It is idempotent and must not
// be called while holding locks that the snapshot handler also takes.
type Unsubscribe func()

// SnapshotHandler receives the full current document after every observed
// change, including the initial state at subscription time. A nil document
// means the document does not exist yet.
type SnapshotHandler func(doc *domain.ProfileDocument)

// ErrorHandler receives the terminal error of a broken subscription. After
// it fires no further snapshots arrive; the subscription must be re-opened.
type ErrorHandler func(err error)

// DocumentStore is the persistence contract for profile documents.
//
// WriteMerge performs a shallow merge: only the provided fields are
// replaced, all other fields of the stored document survive. Writing to a
// missing document creates it. Implementations stamp updatedAt on every
// merge.
type DocumentStore interface {
	// ReadOnce returns the current document for the user, or
	// apperrors.ErrNotFound if none exists.
	ReadOnce(ctx context.Context, userID string) (*domain.ProfileDocument, error)

	// WriteMerge merges the given fields into the user's document,
	// creating it if absent.
	WriteMerge(ctx context.Context, userID string, fields map[string]any) error

	// Subscribe delivers the current document immediately and again after
	// every subsequent change, until unsubscribed or ctx is done. Handlers
	// are invoked sequentially per subscription. onErr fires at most once,
	// when the subscription breaks for a reason other than unsubscribing.
	Subscribe(ctx context.Context, userID string, h SnapshotHandler, onErr ErrorHandler) (Unsubscribe, error)
}
