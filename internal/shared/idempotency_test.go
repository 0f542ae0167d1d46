package shared

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdempotencyMock(t *testing.T) (pgxmock.PgxPoolIface, *IdempotencyStore, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	now := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	store := NewIdempotencyStore(mock)
	store.now = func() time.Time { return now }
	return mock, store, now
}

func TestIdempotencyKeyScopedByOrg(t *testing.T) {
	mock, store, now := newIdempotencyMock(t)
	ctx := context.Background()
	orgA, orgB := uuid.New(), uuid.New()

	mock.ExpectExec(`INSERT INTO idempotency_keys \(org_id, module, key, created_at\)`).
		WithArgs(orgA, "ledger.adjustment", "k1", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO idempotency_keys`).
		WithArgs(orgB, "ledger.adjustment", "k1", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO idempotency_keys`).
		WithArgs(orgA, "ledger.adjustment", "k1", now).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	require.NoError(t, store.CheckAndInsert(ctx, orgA, "k1", "ledger.adjustment"))
	require.NoError(t, store.CheckAndInsert(ctx, orgB, "k1", "ledger.adjustment"))
	err := store.CheckAndInsert(ctx, orgA, "k1", "ledger.adjustment")
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	require.ErrorIs(t, err, ErrConflict)
}

func TestIdempotencyDeleteTargetsOneScope(t *testing.T) {
	mock, store, _ := newIdempotencyMock(t)
	org := uuid.New()

	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE org_id=\$1 AND module=\$2 AND key=\$3`).
		WithArgs(org, "ledger.adjustment", "k1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Delete(context.Background(), org, "k1", "ledger.adjustment"))
	require.Error(t, store.Delete(context.Background(), uuid.Nil, "k1", "ledger.adjustment"))
	require.Error(t, store.CheckAndInsert(context.Background(), org, "", "ledger.adjustment"))
}

func TestIdempotencyCleanupUsesCutoff(t *testing.T) {
	mock, store, now := newIdempotencyMock(t)

	mock.ExpectExec(`DELETE FROM idempotency_keys WHERE created_at < \$1`).
		WithArgs(now.Add(-24 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, store.Cleanup(context.Background(), 24*time.Hour))
}
