package closing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

var periodRowColumns = []string{"id", "org_id", "branch_id", "name", "start_date", "end_date", "status", "revision",
	"closed_at", "closed_by", "override_reason", "created_by", "created_at", "updated_at"}

type RepositoryTestSuite struct {
	suite.Suite
	mock   pgxmock.PgxPoolIface
	repo   *Repository
	org    uuid.UUID
	branch uuid.UUID
	ctx    context.Context
}

func (s *RepositoryTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	s.Require().NoError(err)
	s.mock = mock
	s.repo = NewRepository(mock)
	s.org = uuid.New()
	s.branch = uuid.New()
	s.ctx = context.Background()
}

func (s *RepositoryTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
	s.mock.Close()
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}

func (s *RepositoryTestSuite) closedRow(id uuid.UUID) *pgxmock.Rows {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	closedAt := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	closedBy := uuid.New()
	return pgxmock.NewRows(periodRowColumns).
		AddRow(id, s.org, s.branch, "March 2024", start, end, "CLOSED", 2, &closedAt, &closedBy, "", uuid.New(), start, closedAt)
}

func (s *RepositoryTestSuite) TestGetPeriodNotFound() {
	id := uuid.New()
	s.mock.ExpectQuery(`FROM inventory_periods WHERE org_id=\$1 AND id=\$2`).
		WithArgs(s.org, id).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.repo.GetPeriod(s.ctx, s.org, id)
	assert.ErrorIs(s.T(), err, shared.ErrNotFound)
}

func (s *RepositoryTestSuite) TestLockPeriodScansClosedRow() {
	id := uuid.New()
	s.mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	s.mock.ExpectQuery(`FROM inventory_periods WHERE org_id=\$1 AND id=\$2 FOR UPDATE`).
		WithArgs(s.org, id).
		WillReturnRows(s.closedRow(id))
	s.mock.ExpectCommit()

	var got Period
	err := s.repo.WithTx(s.ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		got, err = tx.LockPeriod(ctx, s.org, id)
		return err
	})
	s.Require().NoError(err)
	assert.Equal(s.T(), PeriodStatusClosed, got.Status)
	assert.Equal(s.T(), 2, got.Revision)
	s.Require().NotNil(got.ClosedAt)
	assert.NotEqual(s.T(), uuid.Nil, got.ClosedBy)
}

func (s *RepositoryTestSuite) TestListPeriodsBuildsFilter() {
	id := uuid.New()
	s.mock.ExpectQuery(`WHERE org_id=\$1 AND branch_id=\$2 AND status=\$3 ORDER BY start_date DESC, id ASC LIMIT \$4 OFFSET \$5`).
		WithArgs(s.org, s.branch, "CLOSED", 100, 0).
		WillReturnRows(s.closedRow(id))

	periods, err := s.repo.ListPeriods(s.ctx, s.org, PeriodFilter{BranchID: s.branch, Status: PeriodStatusClosed})
	s.Require().NoError(err)
	s.Require().Len(periods, 1)
	assert.Equal(s.T(), id, periods[0].ID)
}

func (s *RepositoryTestSuite) TestPeriodOverlapsComparesInclusiveRange() {
	start := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	s.mock.ExpectQuery(`start_date <= \$4 AND end_date >= \$3`).
		WithArgs(s.org, s.branch, start, end).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	overlap, err := s.repo.PeriodOverlaps(s.ctx, s.org, s.branch, start, end)
	s.Require().NoError(err)
	assert.True(s.T(), overlap)
}

func (s *RepositoryTestSuite) TestInsertPeriodMapsExclusionToOverlap() {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := Period{ID: uuid.New(), OrgID: s.org, BranchID: s.branch, Name: "March", StartDate: now, EndDate: now.AddDate(0, 0, 30),
		Status: PeriodStatusOpen, Revision: 1, CreatedBy: uuid.New(), CreatedAt: now, UpdatedAt: now}
	s.mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	s.mock.ExpectExec(`INSERT INTO inventory_periods`).
		WithArgs(p.ID, p.OrgID, p.BranchID, p.Name, p.StartDate, p.EndDate, "OPEN", 1,
			pgxmock.AnyArg(), pgxmock.AnyArg(), "", p.CreatedBy, now, now).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	s.mock.ExpectRollback()

	err := s.repo.WithTx(s.ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertPeriod(ctx, p)
	})
	assert.ErrorIs(s.T(), err, ErrPeriodOverlap)
}

func (s *RepositoryTestSuite) TestUpdatePeriodMissingRow() {
	p := Period{ID: uuid.New(), OrgID: s.org, Status: PeriodStatusOpen, Revision: 3, UpdatedAt: time.Now()}
	s.mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	s.mock.ExpectExec(`UPDATE inventory_periods SET status=\$3, revision=\$4`).
		WithArgs(s.org, p.ID, "OPEN", 3, pgxmock.AnyArg(), pgxmock.AnyArg(), "", p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	s.mock.ExpectRollback()

	err := s.repo.WithTx(s.ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdatePeriod(ctx, p)
	})
	assert.ErrorIs(s.T(), err, shared.ErrNotFound)
}

func (s *RepositoryTestSuite) TestCloseWritesCopyFromAndUpsert() {
	periodID := uuid.New()
	now := time.Now()
	s.mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	s.mock.ExpectCopyFrom(pgx.Identifier{"valuation_snapshots"},
		[]string{"id", "org_id", "period_id", "revision", "item_id", "location_id", "qty", "unit_cost", "cost_source", "total_value", "created_at"}).
		WillReturnResult(1)
	s.mock.ExpectExec(`INSERT INTO reconciliation_reports .* ON CONFLICT \(org_id, period_id, revision\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), s.org, periodID, 1, decimal.New(1, -2), "BALANCED", pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	s.mock.ExpectCommit()

	err := s.repo.WithTx(s.ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertSnapshots(ctx, nil); err != nil {
			return err
		}
		if err := tx.InsertSnapshots(ctx, []ValuationSnapshot{{
			ID: uuid.New(), OrgID: s.org, PeriodID: periodID, Revision: 1, ItemID: uuid.New(), LocationID: uuid.New(),
			Qty: decimal.NewFromInt(4), UnitCost: decimal.NewFromInt(3), CostSource: CostSourceLedger, TotalValue: decimal.NewFromInt(12), CreatedAt: now,
		}}); err != nil {
			return err
		}
		return tx.SaveReconciliation(ctx, ReconciliationReport{
			ID: uuid.New(), OrgID: s.org, PeriodID: periodID, Revision: 1, Tolerance: decimal.New(1, -2), Status: ReconBalanced,
			Lines: []ReconLine{{Category: ReconCOGS, Status: ReconBalanced}}, CreatedAt: now,
		})
	})
	s.Require().NoError(err)
}
