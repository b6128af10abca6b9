// Package index assigns each user a small, stable display number in
// registration order.
package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	counterKey    = "user:index:counter"
	userKeyPrefix = "user:index:"
)

// Allocator hands out monotonically increasing user indexes, at most one
// per user. Allocation is idempotent: repeated calls return the same index.
type Allocator struct {
	client *redis.Client
}

// NewAllocator creates a Redis-backed index allocator.
func NewAllocator(client *redis.Client) *Allocator {
	return &Allocator{client: client}
}

// Allocate returns the user's index, assigning the next free one on first
// call. Two racing allocations for the same user converge on one index; the
// loser's counter increment leaves a harmless gap.
func (a *Allocator) Allocate(ctx context.Context, userID string) (int64, error) {
	if idx, ok, err := a.lookup(ctx, userID); err != nil {
		return 0, err
	} else if ok {
		return idx, nil
	}

	next, err := a.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("increment index counter: %w", err)
	}

	set, err := a.client.SetNX(ctx, userKeyPrefix+userID, next, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("claim user index: %w", err)
	}
	if set {
		return next, nil
	}

	// Lost the race: someone assigned an index for this user in between.
	idx, ok, err := a.lookup(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("user index for %s vanished after race", userID)
	}
	return idx, nil
}

// Lookup returns the user's index without allocating one.
func (a *Allocator) Lookup(ctx context.Context, userID string) (int64, bool, error) {
	return a.lookup(ctx, userID)
}

func (a *Allocator) lookup(ctx context.Context, userID string) (int64, bool, error) {
	val, err := a.client.Get(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get user index: %w", err)
	}

	idx, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse user index %q: %w", val, err)
	}
	return idx, true, nil
}
