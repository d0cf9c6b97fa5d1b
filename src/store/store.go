package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/username/sellerhub/src/logger"
	"github.com/username/sellerhub/src/models"
)

// ErrStore marks persistence failures. Batches hitting it are rolled back
// entirely and callers may safely retry the whole upload.
var ErrStore = errors.New("store failure")

const dateLayout = "2006-01-02"

// FactStore owns SaleFact persistence. Facts are keyed by
// (seller_id, order_id); upserting the same key replaces the prior fact.
type FactStore interface {
	Upsert(ctx context.Context, sellerID string, facts []models.SaleFact) (models.UpsertResult, error)
	FactsFor(ctx context.Context, sellerID string) ([]models.SaleFact, error)
	HasFacts(ctx context.Context, sellerID string) (bool, error)
	RecordUpload(ctx context.Context, upload models.UploadRecord) error
}

type sqliteFactStore struct {
	db *sql.DB
}

func NewSQLiteFactStore(db *sql.DB) FactStore {
	return &sqliteFactStore{db: db}
}

// Upsert applies a whole ingestion batch in one transaction: either every
// fact lands or none do. Facts identical to the stored row are counted as
// unchanged and not rewritten, so re-uploading the same export is a data
// no-op.
func (s *sqliteFactStore) Upsert(ctx context.Context, sellerID string, facts []models.SaleFact) (models.UpsertResult, error) {
	var result models.UpsertResult
	if len(facts) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("%w: beginning transaction: %v", ErrStore, err)
	}
	defer tx.Rollback()

	selectStmt, err := tx.PrepareContext(ctx, `
		SELECT item_id, title, category, list_price_cents, sale_price_cents, fees_cents, listed_at, sold_at, status
		FROM sale_facts WHERE seller_id = ? AND order_id = ?`)
	if err != nil {
		return result, fmt.Errorf("%w: preparing select: %v", ErrStore, err)
	}
	defer selectStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sale_facts (seller_id, order_id, item_id, title, category, list_price_cents, sale_price_cents, fees_cents, listed_at, sold_at, status, source_upload_id, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return result, fmt.Errorf("%w: preparing insert: %v", ErrStore, err)
	}
	defer insertStmt.Close()

	updateStmt, err := tx.PrepareContext(ctx, `
		UPDATE sale_facts
		SET item_id = ?, title = ?, category = ?, list_price_cents = ?, sale_price_cents = ?, fees_cents = ?, listed_at = ?, sold_at = ?, status = ?, source_upload_id = ?, ingested_at = ?
		WHERE seller_id = ? AND order_id = ?`)
	if err != nil {
		return result, fmt.Errorf("%w: preparing update: %v", ErrStore, err)
	}
	defer updateStmt.Close()

	for _, fact := range facts {
		var existing storedFact
		err := selectStmt.QueryRowContext(ctx, sellerID, fact.OrderID).Scan(
			&existing.itemID, &existing.title, &existing.category,
			&existing.listPriceCents, &existing.salePriceCents, &existing.feesCents,
			&existing.listedAt, &existing.soldAt, &existing.status)

		switch {
		case err == sql.ErrNoRows:
			if _, err := insertStmt.ExecContext(ctx,
				sellerID, fact.OrderID, fact.ItemID, fact.Title, fact.Category,
				fact.ListPriceCents, fact.SalePriceCents, fact.FeesCents,
				formatDate(fact.ListedAt), formatNullableDate(fact.SoldAt), fact.Status,
				fact.SourceUploadID, fact.IngestedAt.UTC()); err != nil {
				return models.UpsertResult{}, fmt.Errorf("%w: inserting fact (orderID: %s): %v", ErrStore, fact.OrderID, err)
			}
			result.Inserted++

		case err != nil:
			return models.UpsertResult{}, fmt.Errorf("%w: reading existing fact (orderID: %s): %v", ErrStore, fact.OrderID, err)

		default:
			if existing.equals(fact) {
				result.Unchanged++
				continue
			}
			if _, err := updateStmt.ExecContext(ctx,
				fact.ItemID, fact.Title, fact.Category,
				fact.ListPriceCents, fact.SalePriceCents, fact.FeesCents,
				formatDate(fact.ListedAt), formatNullableDate(fact.SoldAt), fact.Status,
				fact.SourceUploadID, fact.IngestedAt.UTC(),
				sellerID, fact.OrderID); err != nil {
				return models.UpsertResult{}, fmt.Errorf("%w: updating fact (orderID: %s): %v", ErrStore, fact.OrderID, err)
			}
			result.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return models.UpsertResult{}, fmt.Errorf("%w: committing batch: %v", ErrStore, err)
	}

	logger.L.Info("Fact batch upserted", "sellerID", sellerID,
		"inserted", result.Inserted, "updated", result.Updated, "unchanged", result.Unchanged)
	return result, nil
}

// FactsFor returns every fact for the seller ordered by sold_at ascending,
// unsold facts last. This is the read contract the aggregation engine
// depends on.
func (s *sqliteFactStore) FactsFor(ctx context.Context, sellerID string) ([]models.SaleFact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, item_id, title, category, list_price_cents, sale_price_cents, fees_cents, listed_at, sold_at, status, source_upload_id, ingested_at
		FROM sale_facts
		WHERE seller_id = ?
		ORDER BY sold_at IS NULL, sold_at ASC, order_id ASC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("%w: querying facts for seller %s: %v", ErrStore, sellerID, err)
	}
	defer rows.Close()

	var facts []models.SaleFact
	for rows.Next() {
		var fact models.SaleFact
		var listedAt string
		var soldAt sql.NullString
		if err := rows.Scan(&fact.OrderID, &fact.ItemID, &fact.Title, &fact.Category,
			&fact.ListPriceCents, &fact.SalePriceCents, &fact.FeesCents,
			&listedAt, &soldAt, &fact.Status, &fact.SourceUploadID, &fact.IngestedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning fact row for seller %s: %v", ErrStore, sellerID, err)
		}
		fact.SellerID = sellerID
		if fact.ListedAt, err = parseDate(listedAt); err != nil {
			return nil, fmt.Errorf("%w: corrupt listed_at for seller %s order %s: %v", ErrStore, sellerID, fact.OrderID, err)
		}
		if soldAt.Valid {
			t, err := parseDate(soldAt.String)
			if err != nil {
				return nil, fmt.Errorf("%w: corrupt sold_at for seller %s order %s: %v", ErrStore, sellerID, fact.OrderID, err)
			}
			fact.SoldAt = &t
		}
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating fact rows for seller %s: %v", ErrStore, sellerID, err)
	}
	return facts, nil
}

func (s *sqliteFactStore) HasFacts(ctx context.Context, sellerID string) (bool, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sale_facts WHERE seller_id = ?`, sellerID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: counting facts for seller %s: %v", ErrStore, sellerID, err)
	}
	return count > 0, nil
}

func (s *sqliteFactStore) RecordUpload(ctx context.Context, upload models.UploadRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (id, seller_id, filename, accepted, rejected, inserted, updated, unchanged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		upload.ID, upload.SellerID, upload.Filename,
		upload.Accepted, upload.Rejected, upload.Inserted, upload.Updated, upload.Unchanged,
		upload.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: recording upload %s: %v", ErrStore, upload.ID, err)
	}
	return nil
}

// storedFact is the comparable subset of a persisted row. Provenance fields
// (source_upload_id, ingested_at) are deliberately excluded: an identical
// re-upload must count as unchanged.
type storedFact struct {
	itemID         string
	title          string
	category       string
	listPriceCents int64
	salePriceCents int64
	feesCents      int64
	listedAt       string
	soldAt         sql.NullString
	status         string
}

func (f storedFact) equals(next models.SaleFact) bool {
	nextSold := ""
	if next.SoldAt != nil {
		nextSold = formatDate(*next.SoldAt)
	}
	existingSold := ""
	if f.soldAt.Valid {
		existingSold = f.soldAt.String
	}
	return f.itemID == next.ItemID &&
		f.title == next.Title &&
		f.category == next.Category &&
		f.listPriceCents == next.ListPriceCents &&
		f.salePriceCents == next.SalePriceCents &&
		f.feesCents == next.FeesCents &&
		f.listedAt == formatDate(next.ListedAt) &&
		existingSold == nextSold &&
		f.status == next.Status
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func formatNullableDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatDate(*t)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}
