package redisdoc

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReadOnceMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadOnce(context.Background(), "nobody")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWriteMergeCreatesAndMerges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WriteMerge(ctx, "u1", map[string]any{
		domain.FieldFullName: "Иван Петров",
		domain.FieldLocation: "Москва",
	})
	require.NoError(t, err)

	err = s.WriteMerge(ctx, "u1", map[string]any{
		domain.FieldLocation: "Казань",
	})
	require.NoError(t, err)

	doc, err := s.ReadOnce(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, "Иван Петров", doc.FullName, "untouched field survives merge")
	assert.Equal(t, "Казань", doc.Location)
	assert.False(t, doc.UpdatedAt.IsZero(), "merge stamps updatedAt")
}

func TestSubscribeDeliversInitialAndUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteMerge(ctx, "u1", map[string]any{
		domain.FieldFullName: "Иван Петров",
	}))

	snapshots := make(chan *domain.ProfileDocument, 8)
	unsub, err := s.Subscribe(ctx, "u1", func(doc *domain.ProfileDocument) {
		snapshots <- doc
	}, nil)
	require.NoError(t, err)
	defer unsub()

	first := waitSnapshot(t, snapshots)
	require.NotNil(t, first)
	assert.Equal(t, "Иван Петров", first.FullName)

	require.NoError(t, s.WriteMerge(ctx, "u1", map[string]any{
		domain.FieldBio: "Go developer",
	}))

	second := waitSnapshot(t, snapshots)
	require.NotNil(t, second)
	assert.Equal(t, "Иван Петров", second.FullName)
	assert.Equal(t, "Go developer", second.Bio)
}

func TestSubscribeMissingDocumentDeliversNil(t *testing.T) {
	s := newTestStore(t)

	snapshots := make(chan *domain.ProfileDocument, 1)
	unsub, err := s.Subscribe(context.Background(), "ghost", func(doc *domain.ProfileDocument) {
		snapshots <- doc
	}, nil)
	require.NoError(t, err)
	defer unsub()

	assert.Nil(t, waitSnapshot(t, snapshots))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snapshots := make(chan *domain.ProfileDocument, 8)
	unsub, err := s.Subscribe(ctx, "u1", func(doc *domain.ProfileDocument) {
		snapshots <- doc
	}, nil)
	require.NoError(t, err)

	waitSnapshot(t, snapshots) // initial nil

	unsub()

	require.NoError(t, s.WriteMerge(ctx, "u1", map[string]any{
		domain.FieldFullName: "After Unsubscribe",
	}))

	select {
	case doc := <-snapshots:
		t.Fatalf("unexpected snapshot after unsubscribe: %+v", doc)
	case <-time.After(200 * time.Millisecond):
	}
}

func waitSnapshot(t *testing.T, ch <-chan *domain.ProfileDocument) *domain.ProfileDocument {
	t.Helper()
	select {
	case doc := <-ch:
		return doc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
