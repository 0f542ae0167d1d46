// Package memstore keeps every repository port in process memory. It backs
// service tests and the runtime test mode; transactions are serialized and
// applied to a working copy that replaces the committed state on success.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type state struct {
	items         map[uuid.UUID]catalog.Item
	branches      map[uuid.UUID]catalog.Branch
	locations     map[uuid.UUID]catalog.Location
	supplierItems map[uuid.UUID]catalog.SupplierItem
	recipes       map[string]catalog.Recipe
	mappings      map[string]catalog.DepletionMapping

	entries  []ledger.Entry
	balances map[string]ledger.Balance

	lots        map[uuid.UUID]lots.Lot
	allocations []lots.Allocation

	purchaseOrders map[uuid.UUID]documents.PurchaseOrder
	receipts       map[uuid.UUID]documents.Receipt
	transfers      map[uuid.UUID]documents.Transfer
	waste          map[uuid.UUID]documents.WasteDocument
	productions    map[uuid.UUID]documents.ProductionBatch
	depletions     map[uuid.UUID]documents.Depletion

	closing closingState
	reorder reorderState
}

func newState() *state {
	return &state{
		items:          map[uuid.UUID]catalog.Item{},
		branches:       map[uuid.UUID]catalog.Branch{},
		locations:      map[uuid.UUID]catalog.Location{},
		supplierItems:  map[uuid.UUID]catalog.SupplierItem{},
		recipes:        map[string]catalog.Recipe{},
		mappings:       map[string]catalog.DepletionMapping{},
		balances:       map[string]ledger.Balance{},
		lots:           map[uuid.UUID]lots.Lot{},
		purchaseOrders: map[uuid.UUID]documents.PurchaseOrder{},
		receipts:       map[uuid.UUID]documents.Receipt{},
		transfers:      map[uuid.UUID]documents.Transfer{},
		waste:          map[uuid.UUID]documents.WasteDocument{},
		productions:    map[uuid.UUID]documents.ProductionBatch{},
		depletions:     map[uuid.UUID]documents.Depletion{},
		closing:        newClosingState(),
		reorder:        newReorderState(),
	}
}

// clone copies containers. Stored values are copied on the way in and out,
// so sharing them between states is safe.
func (s *state) clone() *state {
	return &state{
		items:          copyMap(s.items),
		branches:       copyMap(s.branches),
		locations:      copyMap(s.locations),
		supplierItems:  copyMap(s.supplierItems),
		recipes:        copyMap(s.recipes),
		mappings:       copyMap(s.mappings),
		entries:        cloneSlice(s.entries),
		balances:       copyMap(s.balances),
		lots:           copyMap(s.lots),
		allocations:    cloneSlice(s.allocations),
		purchaseOrders: copyMap(s.purchaseOrders),
		receipts:       copyMap(s.receipts),
		transfers:      copyMap(s.transfers),
		waste:          copyMap(s.waste),
		productions:    copyMap(s.productions),
		depletions:     copyMap(s.depletions),
		closing:        s.closing.clone(),
		reorder:        s.reorder.clone(),
	}
}

// Store is the in-memory database.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state

	auditMu sync.Mutex
	audit   []shared.AuditLog

	idemMu sync.Mutex
	idem   map[string]time.Time

	lockMu sync.Mutex
	locks  map[string]time.Time

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), idem: map[string]time.Time{}, locks: map[string]time.Time{}, now: time.Now}
}

// WithNow overrides the clock used for lock expiry and idempotency retention.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// read runs fn against the committed state.
func (s *Store) read(fn func(*state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

// withTx runs fn on a working copy and commits it when fn returns nil.
// Reads through the non-transactional ports see the committed state meanwhile.
func (s *Store) withTx(ctx context.Context, fn func(context.Context, *memTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

// memTx implements every package's TxRepository over a working copy.
type memTx struct {
	st *state
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

func compositeKey(parts ...uuid.UUID) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "/"
		}
		key += p.String()
	}
	return key
}
