package db

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestMigrateAppliesSchemaUnderLock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock($1)`)).
		WithArgs(migrationLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS btree_gist").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaCoversRepositoryTables(t *testing.T) {
	for _, table := range []string{
		"items", "branches", "locations", "supplier_items", "recipes", "depletion_mappings",
		"ledger_entries", "stock_balances", "inventory_lots", "lot_allocations",
		"purchase_orders", "receipts", "transfers", "waste_documents", "production_batches", "depletions",
		"inventory_periods", "valuation_snapshots", "movement_summaries", "reconciliation_reports", "period_events",
		"reorder_policies", "forecast_snapshots", "optimization_runs", "idempotency_keys", "audit_logs",
	} {
		require.True(t, strings.Contains(Schema(), "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
}

func TestWithTxRetriesSerializationFailures(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	serialization := &pgconn.PgError{Code: "40001"}
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectRollback()
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectCommit()

	calls := 0
	err = WithTx(context.Background(), mock, func(pgx.Tx) error {
		calls++
		if calls == 1 {
			return serialization
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxStopsOnOtherErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	boom := errors.New("boom")
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectRollback()

	err = WithTx(context.Background(), mock, func(pgx.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorClassifiers(t *testing.T) {
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23P01"}))
	require.False(t, IsUniqueViolation(errors.New("23505")))
	require.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))
	require.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))

	require.Nil(t, NullUUID(uuid.Nil))
	id := uuid.New()
	require.Equal(t, id, NullUUID(id))
}
