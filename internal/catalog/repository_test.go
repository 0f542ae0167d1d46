package catalog

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

type RepositoryTestSuite struct {
	suite.Suite
	mock pgxmock.PgxPoolIface
	repo *Repository
	org  uuid.UUID
	ctx  context.Context
}

func (s *RepositoryTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	s.Require().NoError(err)
	s.mock = mock
	s.repo = NewRepository(mock)
	s.org = uuid.New()
	s.ctx = context.Background()
}

func (s *RepositoryTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
	s.mock.Close()
}

func TestRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}

var supplierItemRowColumns = []string{"id", "org_id", "vendor_id", "item_id", "uom", "factor_to_base", "vendor_sku", "active", "updated_at"}

func (s *RepositoryTestSuite) TestSupplierItemLockedForUpdate() {
	vendor, item := uuid.New(), uuid.New()
	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()

	s.mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	s.mock.ExpectQuery(`FROM supplier_items\s+WHERE org_id=\$1 AND vendor_id=\$2 AND item_id=\$3 AND uom=\$4 FOR UPDATE`).
		WithArgs(s.org, vendor, item, "CASE").
		WillReturnRows(pgxmock.NewRows(supplierItemRowColumns).
			AddRow(id, s.org, vendor, item, "CASE", decimal.NewFromInt(12), "V-12", true, at))
	s.mock.ExpectCommit()

	err := s.repo.WithTx(s.ctx, func(ctx context.Context, tx TxRepository) error {
		si, err := tx.GetSupplierItemForUpdate(ctx, s.org, vendor, item, "CASE")
		s.Require().NoError(err)
		assert.Equal(s.T(), id, si.ID)
		assert.True(s.T(), decimal.NewFromInt(12).Equal(si.FactorToBase))
		return nil
	})
	s.Require().NoError(err)
}

func (s *RepositoryTestSuite) TestInsertSupplierItemConflictIsImmutable() {
	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	si := SupplierItem{ID: uuid.New(), OrgID: s.org, VendorID: uuid.New(), ItemID: uuid.New(), UOM: "CASE",
		FactorToBase: decimal.NewFromInt(24), Active: true, UpdatedAt: at}

	s.mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	s.mock.ExpectExec(`INSERT INTO supplier_items`).
		WithArgs(si.ID, s.org, si.VendorID, si.ItemID, "CASE", si.FactorToBase, "", true, at).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	s.mock.ExpectRollback()

	err := s.repo.WithTx(s.ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertSupplierItem(ctx, si)
	})
	s.Require().ErrorIs(err, ErrConversionImmutable)
}

func (s *RepositoryTestSuite) TestInsertItemDuplicateSKU() {
	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	it := Item{ID: uuid.New(), OrgID: s.org, SKU: "FLOUR", Name: "Flour", BaseUOM: "G", Active: true, CreatedAt: at}

	s.mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	s.mock.ExpectExec(`INSERT INTO items`).
		WithArgs(it.ID, s.org, "FLOUR", "Flour", "G", false, it.StandardCost, true, at).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	s.mock.ExpectRollback()

	err := s.repo.WithTx(s.ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertItem(ctx, it)
	})
	s.Require().ErrorIs(err, ErrDuplicateCode)
	s.Require().ErrorIs(err, shared.ErrConflict)
}

func (s *RepositoryTestSuite) TestListSupplierItemsPassesNullFilters() {
	item := uuid.New()
	s.mock.ExpectQuery(`\(\$2::uuid IS NULL OR vendor_id=\$2\) AND \(\$3::uuid IS NULL OR item_id=\$3\)`).
		WithArgs(s.org, nil, item, true).
		WillReturnRows(pgxmock.NewRows(supplierItemRowColumns))

	out, err := s.repo.ListSupplierItems(s.ctx, s.org, SupplierItemFilter{ItemID: item, ActiveOnly: true})
	s.Require().NoError(err)
	assert.Empty(s.T(), out)
}

func (s *RepositoryTestSuite) TestGetRecipeDecodesIngredients() {
	item, flour := uuid.New(), uuid.New()
	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	s.mock.ExpectQuery(`FROM recipes WHERE org_id=\$1 AND item_id=\$2`).
		WithArgs(s.org, item).
		WillReturnRows(pgxmock.NewRows([]string{"org_id", "item_id", "ingredients", "updated_at"}).
			AddRow(s.org, item, []byte(`[{"ingredientItemId":"`+flour.String()+`","qtyPerUnit":"80","uom":"G"}]`), at))

	recipe, err := s.repo.GetRecipe(s.ctx, s.org, item)
	s.Require().NoError(err)
	s.Require().Len(recipe.Ingredients, 1)
	assert.Equal(s.T(), flour, recipe.Ingredients[0].IngredientItemID)
	assert.True(s.T(), decimal.NewFromInt(80).Equal(recipe.Ingredients[0].QtyPerUnit))
}
