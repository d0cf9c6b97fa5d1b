package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/sellerhub/src/database"
	"github.com/username/sellerhub/src/logger"
	"github.com/username/sellerhub/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) (FactStore, *sql.DB) {
	t.Helper()
	db := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { db.Close() })
	return NewSQLiteFactStore(db), db
}

func dateOf(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fact(orderID string, priceCents int64, uploadID string) models.SaleFact {
	sold := dateOf(2024, 1, 10)
	return models.SaleFact{
		SaleEvent: models.SaleEvent{
			SellerID:       "seller-1",
			OrderID:        orderID,
			ItemID:         "item-" + orderID,
			Title:          "Item " + orderID,
			Category:       "shoes",
			ListPriceCents: priceCents,
			SalePriceCents: priceCents,
			FeesCents:      priceCents / 10,
			ListedAt:       dateOf(2024, 1, 1),
			SoldAt:         &sold,
			Status:         models.StatusSold,
		},
		SourceUploadID: uploadID,
		IngestedAt:     time.Now().UTC(),
	}
}

func TestUpsertInsertsNewFacts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	result, err := s.Upsert(ctx, "seller-1", []models.SaleFact{fact("A1", 5000, "u1"), fact("A2", 3000, "u1")})
	require.NoError(t, err)
	assert.Equal(t, models.UpsertResult{Inserted: 2}, result)

	facts, err := s.FactsFor(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, facts, 2)
}

func TestUpsertIdenticalBatchIsUnchanged(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	batch := []models.SaleFact{fact("A1", 5000, "u1"), fact("A2", 3000, "u1")}

	_, err := s.Upsert(ctx, "seller-1", batch)
	require.NoError(t, err)

	// Same rows from a later upload: dedup by (seller_id, order_id), no
	// data change even though provenance differs.
	rerun := []models.SaleFact{fact("A1", 5000, "u2"), fact("A2", 3000, "u2")}
	result, err := s.Upsert(ctx, "seller-1", rerun)
	require.NoError(t, err)
	assert.Equal(t, models.UpsertResult{Unchanged: 2}, result)
}

func TestUpsertPriceCorrectionCountsUpdated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "seller-1", []models.SaleFact{fact("A1", 5000, "u1")})
	require.NoError(t, err)

	result, err := s.Upsert(ctx, "seller-1", []models.SaleFact{fact("A1", 6000, "u2")})
	require.NoError(t, err)
	assert.Equal(t, models.UpsertResult{Updated: 1}, result)

	facts, err := s.FactsFor(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, int64(6000), facts[0].SalePriceCents)
	assert.Equal(t, "u2", facts[0].SourceUploadID)
}

func TestFactsForOrdersSoldAscendingUnsoldLast(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	late := fact("LATE", 1000, "u1")
	*late.SoldAt = dateOf(2024, 3, 1)
	early := fact("EARLY", 1000, "u1")
	*early.SoldAt = dateOf(2024, 1, 5)
	open := fact("OPEN", 1000, "u1")
	open.SoldAt = nil
	open.Status = models.StatusListed
	open.SalePriceCents = 0

	_, err := s.Upsert(ctx, "seller-1", []models.SaleFact{late, open, early})
	require.NoError(t, err)

	facts, err := s.FactsFor(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Equal(t, "EARLY", facts[0].OrderID)
	assert.Equal(t, "LATE", facts[1].OrderID)
	assert.Equal(t, "OPEN", facts[2].OrderID)
	assert.Nil(t, facts[2].SoldAt)
}

func TestFactsScopedBySeller(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "seller-1", []models.SaleFact{fact("A1", 5000, "u1")})
	require.NoError(t, err)

	other := fact("A1", 9000, "u9")
	other.SellerID = "seller-2"
	_, err = s.Upsert(ctx, "seller-2", []models.SaleFact{other})
	require.NoError(t, err)

	facts, err := s.FactsFor(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, int64(5000), facts[0].SalePriceCents)

	hasFacts, err := s.HasFacts(ctx, "seller-3")
	require.NoError(t, err)
	assert.False(t, hasFacts)
}

func TestUpsertBatchAtomicOnFailure(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	// Second fact violates the NOT NULL constraint on status, so the whole
	// batch must roll back including the valid first fact.
	bad := fact("BAD", 1000, "u1")
	bad.Status = ""
	good := fact("GOOD", 2000, "u1")

	_, err := db.Exec(`
		CREATE TRIGGER reject_empty_status BEFORE INSERT ON sale_facts
		WHEN NEW.status = ''
		BEGIN SELECT RAISE(ABORT, 'empty status'); END`)
	require.NoError(t, err)

	_, err = s.Upsert(ctx, "seller-1", []models.SaleFact{good, bad})
	require.ErrorIs(t, err, ErrStore)

	hasFacts, err := s.HasFacts(ctx, "seller-1")
	require.NoError(t, err)
	assert.False(t, hasFacts, "failed batch must not leave partial state")
}

func TestRecordUpload(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	err := s.RecordUpload(ctx, models.UploadRecord{
		ID:        "upload-1",
		SellerID:  "seller-1",
		Filename:  "sales.csv",
		Accepted:  10,
		Rejected:  2,
		Inserted:  9,
		Updated:   1,
		Unchanged: 0,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	var accepted, rejected int
	err = db.QueryRow(`SELECT accepted, rejected FROM uploads WHERE id = ?`, "upload-1").Scan(&accepted, &rejected)
	require.NoError(t, err)
	assert.Equal(t, 10, accepted)
	assert.Equal(t, 2, rejected)
}
