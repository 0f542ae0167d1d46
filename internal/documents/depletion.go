package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/uom"
)

// ErrDepletionExists is returned by InsertDepletion when the order was already ingested.
var ErrDepletionExists = shared.NewError(shared.ErrConflict, "documents: depletion already recorded for order")

// depletionFailure is a business failure persisted on the depletion instead of returned.
type depletionFailure struct {
	code string
	msg  string
}

func (f *depletionFailure) Error() string { return f.code + ": " + f.msg }

// IngestOrderClose records the depletion of a closed order once per order id and hands it to the queue.
// created is false when the order had already been ingested.
func (s *Service) IngestOrderClose(ctx context.Context, actor shared.Principal, ev OrderCloseEvent) (Depletion, bool, error) {
	if err := requireOrg(actor); err != nil {
		return Depletion{}, false, err
	}
	if !shared.HasLevel(actor, shared.PermDepletionIngest) {
		return Depletion{}, false, shared.ErrForbidden
	}
	orderID := strings.TrimSpace(ev.OrderID)
	if orderID == "" {
		return Depletion{}, false, shared.NewError(shared.ErrValidation, "documents: order id required")
	}
	if len(ev.Lines) == 0 {
		return Depletion{}, false, ErrEmptyDocument
	}
	for _, l := range ev.Lines {
		if l.ItemID == uuid.Nil || !l.Qty.IsPositive() {
			return Depletion{}, false, shared.NewError(shared.ErrValidation, "documents: sold lines need an item and qty > 0")
		}
	}
	if existing, err := s.repo.FindDepletionByOrder(ctx, actor.OrgID, orderID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Depletion{}, false, err
	}
	if _, err := s.catalog.GetBranch(ctx, actor.OrgID, ev.BranchID); err != nil {
		return Depletion{}, false, err
	}

	at := s.now().UTC()
	occurred := ev.ClosedAt.UTC()
	if ev.ClosedAt.IsZero() {
		occurred = at
	}
	d := Depletion{
		ID:         uuid.New(),
		OrgID:      actor.OrgID,
		BranchID:   ev.BranchID,
		OrderID:    orderID,
		Status:     StatusPending,
		Lines:      ev.Lines,
		OccurredAt: occurred,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertDepletion(ctx, d)
	})
	if errors.Is(err, ErrDepletionExists) {
		existing, findErr := s.repo.FindDepletionByOrder(ctx, actor.OrgID, orderID)
		if findErr != nil {
			return Depletion{}, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return Depletion{}, false, err
	}
	s.recordAudit(ctx, actor, "DEPLETION_INGEST", KindDepletion, d.ID, map[string]any{"order_id": orderID, "lines": len(d.Lines)})

	if s.queue != nil {
		err := s.queue.EnqueueDepletion(ctx, d.OrgID, d.ID, d.OrderID)
		if err == nil {
			return d, true, nil
		}
		s.logger.Warn("depletion enqueue failed, processing inline",
			slog.String("depletion_id", d.ID.String()), slog.String("order_id", orderID), slog.Any("error", err))
	}
	processed, err := s.ProcessDepletion(ctx, d.OrgID, d.ID)
	if err != nil {
		s.logger.Error("inline depletion processing failed",
			slog.String("depletion_id", d.ID.String()), slog.Any("error", err))
		return d, true, nil
	}
	return processed, true, nil
}

// ProcessDepletion posts SALE entries for a PENDING or FAILED depletion.
// Business failures are persisted as FAILED and returned without error; only infrastructure errors are returned.
func (s *Service) ProcessDepletion(ctx context.Context, orgID, id uuid.UUID) (Depletion, error) {
	return s.processDepletion(ctx, shared.SystemPrincipal(orgID), id, ActionPost)
}

// RetryDepletion reprocesses a FAILED depletion.
func (s *Service) RetryDepletion(ctx context.Context, actor shared.Principal, id uuid.UUID) (Depletion, error) {
	if err := requireOrg(actor); err != nil {
		return Depletion{}, err
	}
	d, err := s.repo.GetDepletion(ctx, actor.OrgID, id)
	if err != nil {
		return Depletion{}, err
	}
	if _, _, err := WorkflowFor(KindDepletion).Next(d, ActionRetry, actor); err != nil {
		return Depletion{}, err
	}
	s.recordAudit(ctx, actor, "DEPLETION_RETRY", KindDepletion, id, map[string]any{"attempts": d.Attempts})
	return s.processDepletion(ctx, actor, id, ActionRetry)
}

func (s *Service) processDepletion(ctx context.Context, actor shared.Principal, id uuid.UUID, action Action) (Depletion, error) {
	d, err := s.repo.GetDepletion(ctx, actor.OrgID, id)
	if err != nil {
		return Depletion{}, err
	}
	if d.Status == StatusPosted || d.Status == StatusSkipped {
		return d, nil
	}
	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, shared.DepletionLockKey(d.OrgID, d.OrderID), s.cfg.LockTTL)
		if err != nil {
			return Depletion{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("depletion lock release failed", slog.String("order_id", d.OrderID), slog.Any("error", err))
			}
		}()
	}
	if d.Status == StatusFailed {
		action = ActionRetry
	}

	removals, consumed, err := s.planDepletion(ctx, d)
	if err != nil {
		var failure *depletionFailure
		if errors.As(err, &failure) {
			return s.failDepletion(ctx, actor, id, failure)
		}
		return Depletion{}, err
	}

	var saved Depletion
	var entries []ledger.Entry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockDepletion(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		if locked.Status == StatusPosted || locked.Status == StatusSkipped {
			saved = locked
			return nil
		}
		to, _, err := WorkflowFor(KindDepletion).Next(locked, action, actor)
		if err != nil {
			return err
		}
		// Sales count on the day the order closed, not the day a retry succeeded.
		posted, err := s.postOutboundAt(ctx, tx, locked.OrgID, locked.BranchID, ledger.ReasonSale, string(KindDepletion), locked.ID, removals, nil, locked.OccurredAt)
		if err != nil {
			return err
		}
		entries = posted.Entries
		now := s.now()
		locked.Status = to
		locked.Consumed = consumed
		locked.ErrorCode, locked.ErrorMessage = "", ""
		locked.Attempts++
		locked.PostedAt = timePtr(now)
		locked.UpdatedAt = now.UTC()
		saved = locked
		return tx.UpdateDepletion(ctx, locked)
	})
	if err != nil {
		var short *ledger.InsufficientStockError
		if errors.As(err, &short) {
			return s.failDepletion(ctx, actor, id, &depletionFailure{code: ErrorCodeInsufficientStock, msg: short.Error()})
		}
		return Depletion{}, err
	}
	if len(entries) > 0 {
		s.observe(entries)
		s.outcome(StatusPosted)
		s.logger.Info("depletion posted", slog.String("depletion_id", id.String()),
			slog.String("order_id", saved.OrderID), slog.Int("entries", len(entries)))
	}
	return saved, nil
}

func (s *Service) failDepletion(ctx context.Context, actor shared.Principal, id uuid.UUID, failure *depletionFailure) (Depletion, error) {
	var saved Depletion
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDepletion(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, _, err := WorkflowFor(KindDepletion).Next(d, ActionFail, shared.SystemPrincipal(actor.OrgID))
		if err != nil {
			return err
		}
		d.Status = to
		d.ErrorCode = failure.code
		d.ErrorMessage = failure.msg
		d.Attempts++
		d.UpdatedAt = s.now().UTC()
		saved = d
		return tx.UpdateDepletion(ctx, d)
	})
	if err != nil {
		return Depletion{}, err
	}
	s.outcome(StatusFailed)
	s.logger.Warn("depletion failed", slog.String("depletion_id", id.String()), slog.String("order_id", saved.OrderID),
		slog.String("error_code", failure.code), slog.Int("attempts", saved.Attempts))
	return saved, nil
}

// planDepletion resolves location, recipe and units for every sold line without writing.
func (s *Service) planDepletion(ctx context.Context, d Depletion) ([]outbound, []ConsumedLine, error) {
	branch, err := s.catalog.GetBranch(ctx, d.OrgID, d.BranchID)
	if err != nil {
		return nil, nil, err
	}
	type key struct{ item, location uuid.UUID }
	totals := map[key]decimal.Decimal{}
	var order []key
	for _, sold := range d.Lines {
		locationID, err := s.resolveDepletionLocation(ctx, branch, sold.ItemID)
		if err != nil {
			return nil, nil, err
		}
		ingredients, err := s.catalog.Ingredients(ctx, d.OrgID, sold.ItemID)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return nil, nil, err
		}
		if len(ingredients) == 0 {
			return nil, nil, &depletionFailure{code: ErrorCodeRecipeNotFound, msg: fmt.Sprintf("no recipe for item %s", sold.ItemID)}
		}
		for _, ing := range ingredients {
			line, err := s.conv.Line(ctx, d.OrgID, uuid.Nil, ing.IngredientItemID, ing.UOM, ing.QtyPerUnit.Mul(sold.Qty))
			if errors.Is(err, uom.ErrInvalidUOM) {
				return nil, nil, &depletionFailure{code: ErrorCodeInvalidUOM, msg: err.Error()}
			}
			if err != nil {
				return nil, nil, err
			}
			k := key{item: ing.IngredientItemID, location: locationID}
			if _, ok := totals[k]; !ok {
				order = append(order, k)
			}
			totals[k] = totals[k].Add(line.QtyBase)
		}
	}
	ids := make([]uuid.UUID, len(order))
	for i, k := range order {
		ids[i] = k.item
	}
	items, err := s.loadItems(ctx, d.OrgID, ids...)
	if err != nil {
		return nil, nil, err
	}
	removals := make([]outbound, 0, len(order))
	consumed := make([]ConsumedLine, 0, len(order))
	for _, k := range order {
		item := items[k.item]
		removals = append(removals, outbound{item: item, locationID: k.location, qtyBase: totals[k], unitCost: s.unitCost(ctx, d.OrgID, item)})
		consumed = append(consumed, ConsumedLine{ItemID: k.item, LocationID: k.location, QtyBase: totals[k]})
	}
	return removals, consumed, nil
}

// resolveDepletionLocation walks item mapping, branch mapping, production code, then branch default.
func (s *Service) resolveDepletionLocation(ctx context.Context, branch catalog.Branch, itemID uuid.UUID) (uuid.UUID, error) {
	mapping, err := s.catalog.DepletionMapping(ctx, branch.OrgID, branch.ID, itemID)
	switch {
	case err == nil && mapping.LocationID != uuid.Nil:
		return mapping.LocationID, nil
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		return uuid.Nil, err
	}
	loc, err := s.catalog.FindLocationByCode(ctx, branch.OrgID, branch.ID, s.cfg.ProductionCode)
	switch {
	case err == nil:
		return loc.ID, nil
	case !errors.Is(err, shared.ErrNotFound):
		return uuid.Nil, err
	}
	if branch.DefaultLocationID != uuid.Nil {
		return branch.DefaultLocationID, nil
	}
	return uuid.Nil, &depletionFailure{code: ErrorCodeLocationUnresolved, msg: fmt.Sprintf("no location resolves for item %s in branch %s", itemID, branch.Code)}
}

// SkipDepletion closes a FAILED depletion without stock impact. The reason is kept on the record.
func (s *Service) SkipDepletion(ctx context.Context, actor shared.Principal, id uuid.UUID, reason string) (Depletion, error) {
	if err := requireOrg(actor); err != nil {
		return Depletion{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Depletion{}, shared.NewError(shared.ErrValidation, "documents: skip reason required")
	}
	var (
		saved   Depletion
		already bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.LockDepletion(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, done, err := WorkflowFor(KindDepletion).Next(d, ActionSkip, actor)
		if err != nil {
			return err
		}
		saved, already = d, done
		if done {
			return nil
		}
		d.Status = to
		d.SkipReason = reason
		d.UpdatedAt = s.now().UTC()
		saved = d
		return tx.UpdateDepletion(ctx, d)
	})
	if err != nil {
		return Depletion{}, err
	}
	if !already {
		s.outcome(StatusSkipped)
		s.recordAudit(ctx, actor, "DEPLETION_SKIP", KindDepletion, id, map[string]any{"reason": reason, "error_code": saved.ErrorCode})
	}
	return saved, nil
}

// GetDepletion returns a depletion.
func (s *Service) GetDepletion(ctx context.Context, orgID, id uuid.UUID) (Depletion, error) {
	return s.repo.GetDepletion(ctx, orgID, id)
}

// ListDepletions lists depletions, typically filtered to FAILED for operators.
func (s *Service) ListDepletions(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Depletion, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListDepletions(ctx, orgID, filter)
}

func (s *Service) outcome(status Status) {
	if s.metrics != nil {
		s.metrics.DepletionOutcome(string(status))
	}
}
