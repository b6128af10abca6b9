// Package redisdoc implements store.DocumentStore on Redis. Documents live
// as JSON values under profile:{userID}; change notifications ride a pub/sub
// channel per user.
package redisdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/store"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
)

const (
	keyPrefix     = "profile:"
	channelPrefix = "profile:updates:"

	// mergeRetries bounds optimistic-lock retries when concurrent writers
	// race on the same document.
	mergeRetries = 5
)

// Store is a Redis-backed profile document store.
type Store struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Redis-backed document store.
func New(client *redis.Client, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func docKey(userID string) string     { return keyPrefix + userID }
func docChannel(userID string) string { return channelPrefix + userID }

// ReadOnce retrieves the current document for the user.
func (s *Store) ReadOnce(ctx context.Context, userID string) (*domain.ProfileDocument, error) {
	data, err := s.client.Get(ctx, docKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("profile document %s: %w", userID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("redis get profile: %w", err)
	}

	var doc domain.ProfileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}

	return &doc, nil
}

// WriteMerge merges fields into the user's document under optimistic locking
// and publishes the merged document to the user's update channel. updatedAt
// is stamped on every merge.
func (s *Store) WriteMerge(ctx context.Context, userID string, fields map[string]any) error {
	key := docKey(userID)

	merge := func(tx *redis.Tx) error {
		raw := make(map[string]any)

		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get profile: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("unmarshal profile: %w", err)
			}
		}

		for name, value := range fields {
			raw[name] = value
		}
		raw[domain.FieldUpdatedAt] = s.now().UTC().Format(time.RFC3339Nano)

		merged, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("marshal profile: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			pipe.Publish(ctx, docChannel(userID), merged)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < mergeRetries; attempt++ {
		err := s.client.Watch(ctx, merge, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("merge profile %s: %w", userID, err)
	}

	return fmt.Errorf("merge profile %s: %w", userID, redis.TxFailedErr)
}

// Subscribe delivers the current document immediately, then every merged
// document published for the user until unsubscribed or ctx is done.
func (s *Store) Subscribe(ctx context.Context, userID string, h store.SnapshotHandler, onErr store.ErrorHandler) (store.Unsubscribe, error) {
	pubsub := s.client.Subscribe(ctx, docChannel(userID))

	// Force the SUBSCRIBE round trip so no update published after this
	// point is lost between the initial read and the message loop.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to profile updates: %w", err)
	}

	doc, err := s.ReadOnce(ctx, userID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		_ = pubsub.Close()
		return nil, err
	}

	var unsubscribed atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)

		h(doc)

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					if !unsubscribed.Load() && onErr != nil {
						onErr(&apperrors.SubscriptionError{
							UserID: userID,
							Err:    errors.New("redis pub/sub channel closed"),
						})
					}
					return
				}
				var next domain.ProfileDocument
				if err := json.Unmarshal([]byte(msg.Payload), &next); err != nil {
					s.logger.Warn("dropping malformed profile update",
						slog.String("user_id", userID),
						slog.String("error", err.Error()),
					)
					continue
				}
				h(&next)
			}
		}
	}()

	return func() {
		unsubscribed.Store(true)
		_ = pubsub.Close()
		<-done
	}, nil
}
