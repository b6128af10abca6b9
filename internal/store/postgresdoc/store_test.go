package postgresdoc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
)

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := New(mock, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestReadOnce(t *testing.T) {
	s, mock := newTestStore(t)

	doc := []byte(`{"fullName":"Иван Петров","location":"Москва"}`)
	mock.ExpectQuery("SELECT doc FROM profiles").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	got, err := s.ReadOnce(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Иван Петров", got.FullName)
	assert.Equal(t, "Москва", got.Location)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadOnceNotFound(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT doc FROM profiles").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.ReadOnce(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteMerge(t *testing.T) {
	s, mock := newTestStore(t)

	// Map keys marshal in sorted order, so the patch JSON is deterministic.
	patch := []byte(`{"location":"Казань","updatedAt":"2025-06-01T12:00:00Z"}`)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO profiles").
		WithArgs("u1", patch).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("SELECT pg_notify").
		WithArgs(notifyChannel, "u1").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()

	err := s.WriteMerge(context.Background(), "u1", map[string]any{
		domain.FieldLocation: "Казань",
	})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteMergeExecFailureRollsBack(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO profiles").
		WithArgs("u1", pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.WriteMerge(context.Background(), "u1", map[string]any{
		domain.FieldBio: "Go developer",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge profile")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribeWithoutPool(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Subscribe(context.Background(), "u1", func(*domain.ProfileDocument) {}, nil)
	assert.Error(t, err)
}
