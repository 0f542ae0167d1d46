package closing

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/export"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// packTimestamp is stamped on every archive entry so identical data yields identical bytes.
var packTimestamp = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// SKUFunc resolves an item id to its SKU for export rows.
type SKUFunc func(uuid.UUID) string

// ValuationDataset renders snapshots as the period_valuation export.
func ValuationDataset(snapshots []ValuationSnapshot, sku SKUFunc) export.Dataset {
	ds := export.Dataset{
		Name:     "period_valuation",
		Columns:  []string{"item_id", "sku", "location_id", "revision", "qty", "unit_cost", "cost_source", "total_value"},
		SortKeys: []int{1, 0, 2},
	}
	for _, sn := range snapshots {
		ds.Append(sn.ItemID.String(), sku(sn.ItemID), sn.LocationID.String(), strconv.Itoa(sn.Revision),
			export.Qty(sn.Qty), export.Qty(sn.UnitCost), string(sn.CostSource), export.Money(sn.TotalValue))
	}
	return ds
}

// MovementsDataset renders summaries as the period_movements export.
func MovementsDataset(summaries []MovementSummary, sku SKUFunc) export.Dataset {
	ds := export.Dataset{
		Name: "period_movements",
		Columns: []string{"item_id", "sku", "revision", "opening", "receipts", "sales", "waste", "transfers_in", "transfers_out",
			"adjustments", "production_consume", "production_produce", "closing"},
		SortKeys: []int{1, 0},
	}
	for _, m := range summaries {
		ds.Append(m.ItemID.String(), sku(m.ItemID), strconv.Itoa(m.Revision), export.Qty(m.Opening), export.Qty(m.Receipts),
			export.Qty(m.Sales), export.Qty(m.Waste), export.Qty(m.TransfersIn), export.Qty(m.TransfersOut),
			export.Qty(m.Adjustments), export.Qty(m.ProductionConsume), export.Qty(m.ProductionProduce), export.Qty(m.Closing))
	}
	return ds
}

// ReconciliationDataset renders a report as the period_reconciliation export.
func ReconciliationDataset(report ReconciliationReport) export.Dataset {
	ds := export.Dataset{
		Name:     "period_reconciliation",
		Columns:  []string{"category", "inventory", "gl", "variance", "status", "tolerance", "revision"},
		SortKeys: []int{0},
	}
	for _, l := range report.Lines {
		ds.Append(string(l.Category), export.Money(l.Inventory), export.Money(l.GL), export.Money(l.Variance), string(l.Status),
			export.Money(report.Tolerance), strconv.Itoa(report.Revision))
	}
	return ds
}

// skuLookup memoises catalog SKUs; unknown items render their id.
func (s *Service) skuLookup(ctx context.Context, orgID uuid.UUID) SKUFunc {
	cache := map[uuid.UUID]string{}
	return func(id uuid.UUID) string {
		if v, ok := cache[id]; ok {
			return v
		}
		v := id.String()
		if item, err := s.catalog.GetItem(ctx, orgID, id); err == nil {
			v = item.SKU
		}
		cache[id] = v
		return v
	}
}

// ClosePackKey is the object key of a close pack archive.
func ClosePackKey(orgID, periodID uuid.UUID, revision int) string {
	return fmt.Sprintf("close-packs/%s/%s/r%d.zip", orgID, periodID, revision)
}

// BuildClosePack archives the current revision of a closed period and uploads it when storage is configured.
func (s *Service) BuildClosePack(ctx context.Context, actor shared.Principal, periodID uuid.UUID) (ClosePack, error) {
	if err := s.require(actor, shared.PermPeriodPack); err != nil {
		return ClosePack{}, err
	}
	p, err := s.repo.GetPeriod(ctx, actor.OrgID, periodID)
	if err != nil {
		return ClosePack{}, err
	}
	if p.Status != PeriodStatusClosed {
		return ClosePack{}, ErrPeriodNotClosed
	}
	snapshots, err := s.repo.ListSnapshots(ctx, p.OrgID, p.ID, p.Revision)
	if err != nil {
		return ClosePack{}, err
	}
	summaries, err := s.repo.ListSummaries(ctx, p.OrgID, p.ID, p.Revision)
	if err != nil {
		return ClosePack{}, err
	}
	report, err := s.repo.GetReconciliation(ctx, p.OrgID, p.ID, p.Revision)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return ClosePack{}, err
	}
	if errors.Is(err, shared.ErrNotFound) {
		report = ReconciliationReport{Revision: p.Revision}
	}

	sku := s.skuLookup(ctx, p.OrgID)
	pack, err := buildArchive(p, []export.Dataset{
		ValuationDataset(snapshots, sku),
		MovementsDataset(summaries, sku),
		ReconciliationDataset(report),
	})
	if err != nil {
		return ClosePack{}, err
	}
	pack.ObjectKey = ClosePackKey(p.OrgID, p.ID, p.Revision)
	if s.store != nil {
		pack.Location, err = s.store.Put(ctx, pack.ObjectKey, pack.Body, "application/zip")
		if err != nil {
			return ClosePack{}, err
		}
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertPeriodEvent(ctx, s.event(p, EventExportGenerated, actor.UserID, "", map[string]any{
			"content_hash": pack.ContentHash, "object_key": pack.ObjectKey, "uploaded": pack.Location != "",
		}))
	}); err != nil {
		return ClosePack{}, err
	}
	s.recordAudit(ctx, actor, "PERIOD_CLOSE_PACK", p.ID, map[string]any{"revision": p.Revision, "content_hash": pack.ContentHash})
	s.logger.Info("close pack generated", slog.String("period_id", p.ID.String()), slog.Int("revision", p.Revision),
		slog.String("content_hash", pack.ContentHash), slog.Int("bytes", len(pack.Body)))
	return pack, nil
}

// RecordExport appends EXPORT_GENERATED for a single period dataset download.
// A zero revision means the period's current one.
func (s *Service) RecordExport(ctx context.Context, actor shared.Principal, periodID uuid.UUID, revision int, dataset string, rows int) error {
	p, err := s.repo.GetPeriod(ctx, actor.OrgID, periodID)
	if err != nil {
		return err
	}
	if revision > 0 {
		p.Revision = revision
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertPeriodEvent(ctx, s.event(p, EventExportGenerated, actor.UserID, "", map[string]any{
			"dataset": dataset, "rows": rows,
		}))
	})
}

func buildArchive(p Period, datasets []export.Dataset) (ClosePack, error) {
	manifest := Manifest{
		OrgID:     p.OrgID,
		BranchID:  p.BranchID,
		PeriodID:  p.ID,
		Revision:  p.Revision,
		StartDate: export.Date(p.StartDate),
		EndDate:   export.Date(p.EndDate),
	}
	var body bytes.Buffer
	zw := zip.NewWriter(&body)
	digest := sha256.New()
	for _, ds := range datasets {
		rendered, err := export.CSV(ds)
		if err != nil {
			return ClosePack{}, err
		}
		sum := sha256.Sum256(rendered.Body)
		file := ManifestFile{Name: rendered.Filename, SHA256: hex.EncodeToString(sum[:]), Bytes: len(rendered.Body)}
		manifest.Files = append(manifest.Files, file)
		fmt.Fprintf(digest, "%s:%s\n", file.Name, file.SHA256)
		if err := writeEntry(zw, rendered.Filename, rendered.Body); err != nil {
			return ClosePack{}, err
		}
	}
	manifest.ContentHash = hex.EncodeToString(digest.Sum(nil))
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return ClosePack{}, err
	}
	if err := writeEntry(zw, "manifest.json", raw); err != nil {
		return ClosePack{}, err
	}
	if err := zw.Close(); err != nil {
		return ClosePack{}, fmt.Errorf("closing: finish archive: %w", err)
	}
	return ClosePack{
		PeriodID:    p.ID,
		Revision:    p.Revision,
		Filename:    fmt.Sprintf("close-pack-%s-r%d.zip", p.ID, p.Revision),
		Body:        body.Bytes(),
		ContentHash: manifest.ContentHash,
		Manifest:    manifest,
	}, nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: packTimestamp})
	if err != nil {
		return fmt.Errorf("closing: archive %s: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}
