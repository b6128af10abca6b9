package geo

import (
	"context"
	"fmt"
	"log/slog"
)

// placeResolver is implemented by Resolver.
type placeResolver interface {
	Resolve(ctx context.Context, coords Coordinates) (string, error)
}

// coordinateSource is implemented by CoordinateCache.
type coordinateSource interface {
	Get(ctx context.Context, userID string) (Coordinates, bool, error)
}

// Seeder turns cached coordinates into a location suggestion for drafts
// whose location is empty. It satisfies the sync engine's LocationSeeder.
type Seeder struct {
	coords   coordinateSource
	resolver placeResolver
	logger   *slog.Logger
}

// NewSeeder creates a location seeder.
func NewSeeder(coords coordinateSource, resolver placeResolver, logger *slog.Logger) *Seeder {
	return &Seeder{
		coords:   coords,
		resolver: resolver,
		logger:   logger,
	}
}

// SeedLocation resolves a location suggestion for the user. Returns an
// empty string without error when no coordinates were ever reported.
func (s *Seeder) SeedLocation(ctx context.Context, userID string) (string, error) {
	coords, ok, err := s.coords.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load coordinates: %w", err)
	}
	if !ok {
		return "", nil
	}

	place, err := s.resolver.Resolve(ctx, coords)
	if err != nil {
		return "", err
	}

	s.logger.DebugContext(ctx, "location seeded",
		slog.String("user_id", userID),
		slog.String("place", place),
	)
	return place, nil
}
