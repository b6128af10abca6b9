// Package geo seeds profile locations: the client reports raw coordinates
// once, they are cached per user, and a reverse geocoder turns them into a
// human-readable place name on demand.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	coordsKeyPrefix = "geo:coords:"

	// coordsTTL bounds how long raw coordinates are retained. They exist
	// only to seed an empty location field.
	coordsTTL = 24 * time.Hour
)

// Coordinates is a reported device position.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CoordinateCache stores the latest reported coordinates per user in Redis.
type CoordinateCache struct {
	client *redis.Client
}

// NewCoordinateCache creates a Redis-backed coordinate cache.
func NewCoordinateCache(client *redis.Client) *CoordinateCache {
	return &CoordinateCache{client: client}
}

// Put stores the user's coordinates, replacing any previous report.
func (c *CoordinateCache) Put(ctx context.Context, userID string, coords Coordinates) error {
	data, err := json.Marshal(coords)
	if err != nil {
		return fmt.Errorf("marshal coordinates: %w", err)
	}

	if err := c.client.Set(ctx, coordsKeyPrefix+userID, data, coordsTTL).Err(); err != nil {
		return fmt.Errorf("redis set coordinates: %w", err)
	}

	return nil
}

// Get returns the user's cached coordinates. ok is false when none are
// stored.
func (c *CoordinateCache) Get(ctx context.Context, userID string) (Coordinates, bool, error) {
	data, err := c.client.Get(ctx, coordsKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Coordinates{}, false, nil
		}
		return Coordinates{}, false, fmt.Errorf("redis get coordinates: %w", err)
	}

	var coords Coordinates
	if err := json.Unmarshal(data, &coords); err != nil {
		return Coordinates{}, false, fmt.Errorf("unmarshal coordinates: %w", err)
	}

	return coords, true, nil
}
