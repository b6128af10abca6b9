// Package postgresdoc implements store.DocumentStore on PostgreSQL. Each
// user's profile lives as a single JSONB document; merges are shallow JSONB
// concatenation, and change notifications ride LISTEN/NOTIFY.
package postgresdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/store"
	"github.com/hamletsspeak/812Hamur/pkg/database"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
)

// notifyChannel is shared by all users; the notification payload carries the
// user ID so each subscription filters its own updates.
const notifyChannel = "profile_updates"

// Store is a PostgreSQL-backed profile document store.
type Store struct {
	db     database.DBTX
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// New creates a PostgreSQL-backed document store. pool is used only for
// dedicated LISTEN connections and may be nil when subscriptions are not
// needed (for example in tests that exercise reads and writes via a mock).
func New(db database.DBTX, pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}
}

// ReadOnce retrieves the current document for the user.
func (s *Store) ReadOnce(ctx context.Context, userID string) (*domain.ProfileDocument, error) {
	query := `SELECT doc FROM profiles WHERE user_id = $1`

	var data []byte
	if err := s.db.QueryRow(ctx, query, userID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("profile document %s: %w", userID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("select profile: %w", err)
	}

	var doc domain.ProfileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}

	return &doc, nil
}

// WriteMerge merges fields into the user's document. The merge is a shallow
// JSONB concatenation so fields absent from the patch survive unchanged.
// Subscribers are notified after commit.
func (s *Store) WriteMerge(ctx context.Context, userID string, fields map[string]any) error {
	patch := make(map[string]any, len(fields)+1)
	for name, value := range fields {
		patch[name] = value
	}
	patch[domain.FieldUpdatedAt] = s.now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal profile patch: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO profiles (user_id, doc)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET doc = profiles.doc || EXCLUDED.doc`

	if _, err := tx.Exec(ctx, query, userID, data); err != nil {
		return fmt.Errorf("merge profile: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, userID); err != nil {
		return fmt.Errorf("notify profile update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit profile merge: %w", err)
	}

	return nil
}

// Subscribe delivers the current document immediately, then re-reads and
// redelivers after every notification for the user, until unsubscribed or
// ctx is done. A dedicated connection is held for the LISTEN.
func (s *Store) Subscribe(ctx context.Context, userID string, h store.SnapshotHandler, onErr store.ErrorHandler) (store.Unsubscribe, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("subscribe profile %s: no connection pool configured", userID)
	}

	subCtx, cancel := context.WithCancel(ctx)

	conn, err := s.pool.Acquire(subCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	if _, err := conn.Exec(subCtx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		cancel()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	doc, err := s.ReadOnce(subCtx, userID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		conn.Release()
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Release()

		h(doc)

		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					s.logger.Warn("profile listen connection lost",
						slog.String("user_id", userID),
						slog.String("error", err.Error()),
					)
					if onErr != nil {
						onErr(&apperrors.SubscriptionError{UserID: userID, Err: err})
					}
				}
				return
			}
			if n.Payload != userID {
				continue
			}

			next, err := s.ReadOnce(subCtx, userID)
			if err != nil {
				if errors.Is(err, apperrors.ErrNotFound) {
					h(nil)
					continue
				}
				s.logger.Warn("re-read after profile notification failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				continue
			}
			h(next)
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}
