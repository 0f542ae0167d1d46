package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// DocumentsRepo implements documents.RepositoryPort.
type DocumentsRepo struct{ s *Store }

// Documents returns the document repository view.
func (s *Store) Documents() *DocumentsRepo { return &DocumentsRepo{s: s} }

func (r *DocumentsRepo) WithTx(ctx context.Context, fn func(context.Context, documents.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *memTx) error { return fn(ctx, tx) })
}

// listed is what filterDocs needs to know about a stored document.
type listed struct {
	orgID     uuid.UUID
	branches  []uuid.UUID
	vendorID  uuid.UUID
	runID     uuid.UUID
	status    documents.Status
	createdAt time.Time
	id        uuid.UUID
}

func (l listed) matches(orgID uuid.UUID, f documents.ListFilter) bool {
	if l.orgID != orgID || !f.StatusIn(l.status) {
		return false
	}
	if f.VendorID != uuid.Nil && l.vendorID != f.VendorID {
		return false
	}
	if f.OptimizationRunID != uuid.Nil && l.runID != f.OptimizationRunID {
		return false
	}
	if !f.CreatedBefore.IsZero() && !l.createdAt.Before(f.CreatedBefore) {
		return false
	}
	if f.BranchID == uuid.Nil {
		return true
	}
	for _, b := range l.branches {
		if b == f.BranchID {
			return true
		}
	}
	return false
}

func filterDocs[T any](m map[uuid.UUID]T, orgID uuid.UUID, f documents.ListFilter, describe func(T) listed, copyOut func(T) T) []T {
	type row struct {
		doc  T
		meta listed
	}
	rows := []row{}
	for _, d := range m {
		meta := describe(d)
		if meta.matches(orgID, f) {
			rows = append(rows, row{doc: copyOut(d), meta: meta})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].meta.createdAt.Equal(rows[j].meta.createdAt) {
			return rows[i].meta.createdAt.Before(rows[j].meta.createdAt)
		}
		return rows[i].meta.id.String() < rows[j].meta.id.String()
	})
	rows = shared.Slice(rows, f.Page)
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out
}

func getDoc[T any](s *Store, pick func(*state) map[uuid.UUID]T, orgOf func(T) uuid.UUID, copyOut func(T) T, orgID, id uuid.UUID) (T, error) {
	var (
		d  T
		ok bool
	)
	s.read(func(st *state) { d, ok = pick(st)[id] })
	if !ok || orgOf(d) != orgID {
		var zero T
		return zero, shared.ErrNotFound
	}
	return copyOut(d), nil
}

func lockDoc[T any](m map[uuid.UUID]T, orgOf func(T) uuid.UUID, copyOut func(T) T, orgID, id uuid.UUID) (T, error) {
	d, ok := m[id]
	if !ok || orgOf(d) != orgID {
		var zero T
		return zero, shared.ErrNotFound
	}
	return copyOut(d), nil
}

func updateDoc[T any](m map[uuid.UUID]T, orgOf func(T) uuid.UUID, copyIn func(T) T, id uuid.UUID, d T) error {
	cur, ok := m[id]
	if !ok || orgOf(cur) != orgOf(d) {
		return shared.ErrNotFound
	}
	m[id] = copyIn(d)
	return nil
}

func copyPO(p documents.PurchaseOrder) documents.PurchaseOrder {
	p.Lines = cloneSlice(p.Lines)
	return p
}
func copyReceipt(r documents.Receipt) documents.Receipt {
	r.Lines = cloneSlice(r.Lines)
	return r
}
func copyTransfer(t documents.Transfer) documents.Transfer {
	t.Lines = cloneSlice(t.Lines)
	return t
}
func copyWaste(w documents.WasteDocument) documents.WasteDocument {
	w.Lines = cloneSlice(w.Lines)
	return w
}
func copyProduction(p documents.ProductionBatch) documents.ProductionBatch {
	p.Consumed = cloneSlice(p.Consumed)
	return p
}
func copyDepletion(d documents.Depletion) documents.Depletion {
	d.Lines = cloneSlice(d.Lines)
	d.Consumed = cloneSlice(d.Consumed)
	return d
}

func poOrg(p documents.PurchaseOrder) uuid.UUID           { return p.OrgID }
func receiptOrg(r documents.Receipt) uuid.UUID            { return r.OrgID }
func transferOrg(t documents.Transfer) uuid.UUID          { return t.OrgID }
func wasteOrg(w documents.WasteDocument) uuid.UUID        { return w.OrgID }
func productionOrg(p documents.ProductionBatch) uuid.UUID { return p.OrgID }
func depletionOrg(d documents.Depletion) uuid.UUID        { return d.OrgID }

func describePO(p documents.PurchaseOrder) listed {
	return listed{orgID: p.OrgID, branches: []uuid.UUID{p.BranchID}, vendorID: p.VendorID, runID: p.OptimizationRunID, status: p.Status, createdAt: p.CreatedAt, id: p.ID}
}
func describeReceipt(r documents.Receipt) listed {
	return listed{orgID: r.OrgID, branches: []uuid.UUID{r.BranchID}, vendorID: r.VendorID, status: r.Status, createdAt: r.CreatedAt, id: r.ID}
}
func describeTransfer(t documents.Transfer) listed {
	return listed{orgID: t.OrgID, branches: []uuid.UUID{t.SourceBranchID, t.DestBranchID}, status: t.Status, createdAt: t.CreatedAt, id: t.ID}
}
func describeWaste(w documents.WasteDocument) listed {
	return listed{orgID: w.OrgID, branches: []uuid.UUID{w.BranchID}, status: w.Status, createdAt: w.CreatedAt, id: w.ID}
}
func describeProduction(p documents.ProductionBatch) listed {
	return listed{orgID: p.OrgID, branches: []uuid.UUID{p.BranchID}, status: p.Status, createdAt: p.CreatedAt, id: p.ID}
}
func describeDepletion(d documents.Depletion) listed {
	return listed{orgID: d.OrgID, branches: []uuid.UUID{d.BranchID}, status: d.Status, createdAt: d.CreatedAt, id: d.ID}
}

// vendorless drops the vendor filter for document kinds without a vendor.
func vendorless(f documents.ListFilter) documents.ListFilter {
	f.VendorID = uuid.Nil
	return f
}

func (r *DocumentsRepo) GetPurchaseOrder(ctx context.Context, orgID, id uuid.UUID) (documents.PurchaseOrder, error) {
	return getDoc(r.s, func(st *state) map[uuid.UUID]documents.PurchaseOrder { return st.purchaseOrders }, poOrg, copyPO, orgID, id)
}

func (r *DocumentsRepo) ListPurchaseOrders(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.PurchaseOrder, error) {
	var out []documents.PurchaseOrder
	r.s.read(func(st *state) { out = filterDocs(st.purchaseOrders, orgID, filter, describePO, copyPO) })
	return out, nil
}

func (r *DocumentsRepo) GetReceipt(ctx context.Context, orgID, id uuid.UUID) (documents.Receipt, error) {
	return getDoc(r.s, func(st *state) map[uuid.UUID]documents.Receipt { return st.receipts }, receiptOrg, copyReceipt, orgID, id)
}

func (r *DocumentsRepo) ListReceipts(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.Receipt, error) {
	var out []documents.Receipt
	r.s.read(func(st *state) { out = filterDocs(st.receipts, orgID, filter, describeReceipt, copyReceipt) })
	return out, nil
}

func (r *DocumentsRepo) GetTransfer(ctx context.Context, orgID, id uuid.UUID) (documents.Transfer, error) {
	return getDoc(r.s, func(st *state) map[uuid.UUID]documents.Transfer { return st.transfers }, transferOrg, copyTransfer, orgID, id)
}

func (r *DocumentsRepo) ListTransfers(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.Transfer, error) {
	var out []documents.Transfer
	r.s.read(func(st *state) { out = filterDocs(st.transfers, orgID, vendorless(filter), describeTransfer, copyTransfer) })
	return out, nil
}

func (r *DocumentsRepo) GetWaste(ctx context.Context, orgID, id uuid.UUID) (documents.WasteDocument, error) {
	return getDoc(r.s, func(st *state) map[uuid.UUID]documents.WasteDocument { return st.waste }, wasteOrg, copyWaste, orgID, id)
}

func (r *DocumentsRepo) ListWaste(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.WasteDocument, error) {
	var out []documents.WasteDocument
	r.s.read(func(st *state) { out = filterDocs(st.waste, orgID, vendorless(filter), describeWaste, copyWaste) })
	return out, nil
}

func (r *DocumentsRepo) GetProduction(ctx context.Context, orgID, id uuid.UUID) (documents.ProductionBatch, error) {
	return getDoc(r.s, func(st *state) map[uuid.UUID]documents.ProductionBatch { return st.productions }, productionOrg, copyProduction, orgID, id)
}

func (r *DocumentsRepo) ListProductions(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.ProductionBatch, error) {
	var out []documents.ProductionBatch
	r.s.read(func(st *state) {
		out = filterDocs(st.productions, orgID, vendorless(filter), describeProduction, copyProduction)
	})
	return out, nil
}

func (r *DocumentsRepo) GetDepletion(ctx context.Context, orgID, id uuid.UUID) (documents.Depletion, error) {
	return getDoc(r.s, func(st *state) map[uuid.UUID]documents.Depletion { return st.depletions }, depletionOrg, copyDepletion, orgID, id)
}

func (r *DocumentsRepo) ListDepletions(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.Depletion, error) {
	var out []documents.Depletion
	r.s.read(func(st *state) { out = filterDocs(st.depletions, orgID, vendorless(filter), describeDepletion, copyDepletion) })
	return out, nil
}

func (r *DocumentsRepo) FindDepletionByOrder(ctx context.Context, orgID uuid.UUID, orderID string) (documents.Depletion, error) {
	var (
		d     documents.Depletion
		found bool
	)
	r.s.read(func(st *state) {
		for _, cur := range st.depletions {
			if cur.OrgID == orgID && cur.OrderID == orderID {
				d, found = copyDepletion(cur), true
				return
			}
		}
	})
	if !found {
		return documents.Depletion{}, shared.ErrNotFound
	}
	return d, nil
}

func (tx *memTx) LockPurchaseOrder(ctx context.Context, orgID, id uuid.UUID) (documents.PurchaseOrder, error) {
	return lockDoc(tx.st.purchaseOrders, poOrg, copyPO, orgID, id)
}

func (tx *memTx) InsertPurchaseOrder(ctx context.Context, po documents.PurchaseOrder) error {
	tx.st.purchaseOrders[po.ID] = copyPO(po)
	return nil
}

func (tx *memTx) UpdatePurchaseOrder(ctx context.Context, po documents.PurchaseOrder) error {
	return updateDoc(tx.st.purchaseOrders, poOrg, copyPO, po.ID, po)
}

func (tx *memTx) LockReceipt(ctx context.Context, orgID, id uuid.UUID) (documents.Receipt, error) {
	return lockDoc(tx.st.receipts, receiptOrg, copyReceipt, orgID, id)
}

func (tx *memTx) InsertReceipt(ctx context.Context, r documents.Receipt) error {
	tx.st.receipts[r.ID] = copyReceipt(r)
	return nil
}

func (tx *memTx) UpdateReceipt(ctx context.Context, r documents.Receipt) error {
	return updateDoc(tx.st.receipts, receiptOrg, copyReceipt, r.ID, r)
}

func (tx *memTx) LockTransfer(ctx context.Context, orgID, id uuid.UUID) (documents.Transfer, error) {
	return lockDoc(tx.st.transfers, transferOrg, copyTransfer, orgID, id)
}

func (tx *memTx) InsertTransfer(ctx context.Context, t documents.Transfer) error {
	tx.st.transfers[t.ID] = copyTransfer(t)
	return nil
}

func (tx *memTx) UpdateTransfer(ctx context.Context, t documents.Transfer) error {
	return updateDoc(tx.st.transfers, transferOrg, copyTransfer, t.ID, t)
}

func (tx *memTx) LockWaste(ctx context.Context, orgID, id uuid.UUID) (documents.WasteDocument, error) {
	return lockDoc(tx.st.waste, wasteOrg, copyWaste, orgID, id)
}

func (tx *memTx) InsertWaste(ctx context.Context, w documents.WasteDocument) error {
	tx.st.waste[w.ID] = copyWaste(w)
	return nil
}

func (tx *memTx) UpdateWaste(ctx context.Context, w documents.WasteDocument) error {
	return updateDoc(tx.st.waste, wasteOrg, copyWaste, w.ID, w)
}

func (tx *memTx) LockProduction(ctx context.Context, orgID, id uuid.UUID) (documents.ProductionBatch, error) {
	return lockDoc(tx.st.productions, productionOrg, copyProduction, orgID, id)
}

func (tx *memTx) InsertProduction(ctx context.Context, p documents.ProductionBatch) error {
	tx.st.productions[p.ID] = copyProduction(p)
	return nil
}

func (tx *memTx) UpdateProduction(ctx context.Context, p documents.ProductionBatch) error {
	return updateDoc(tx.st.productions, productionOrg, copyProduction, p.ID, p)
}

func (tx *memTx) LockDepletion(ctx context.Context, orgID, id uuid.UUID) (documents.Depletion, error) {
	return lockDoc(tx.st.depletions, depletionOrg, copyDepletion, orgID, id)
}

// InsertDepletion enforces one depletion per (org, order).
func (tx *memTx) InsertDepletion(ctx context.Context, d documents.Depletion) error {
	for _, cur := range tx.st.depletions {
		if cur.OrgID == d.OrgID && cur.OrderID == d.OrderID {
			return documents.ErrDepletionExists
		}
	}
	tx.st.depletions[d.ID] = copyDepletion(d)
	return nil
}

func (tx *memTx) UpdateDepletion(ctx context.Context, d documents.Depletion) error {
	return updateDoc(tx.st.depletions, depletionOrg, copyDepletion, d.ID, d)
}
