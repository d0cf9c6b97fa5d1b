package models

import "time"

// Sale status values as stored on a fact. A listed fact is an open listing,
// a sold fact contributes revenue, a cancelled fact contributes nothing.
const (
	StatusListed    = "listed"
	StatusSold      = "sold"
	StatusCancelled = "cancelled"
)

// UncategorizedCategory is the sentinel bucket for rows with an empty or
// unrecognized category column.
const UncategorizedCategory = "uncategorized"

// SaleEvent is one normalized row from a seller's sales export. Events are
// transient: they exist only between CSV parsing and fact persistence.
// Money is always integer cents, dates are UTC calendar dates with no
// time-of-day. SoldAt is nil for rows that have not sold.
type SaleEvent struct {
	SellerID       string     `json:"seller_id"`
	OrderID        string     `json:"order_id"`
	ItemID         string     `json:"item_id"`
	Title          string     `json:"title"`
	Category       string     `json:"category"`
	ListPriceCents int64      `json:"list_price_cents"`
	SalePriceCents int64      `json:"sale_price_cents"`
	FeesCents      int64      `json:"fees_cents"`
	ListedAt       time.Time  `json:"listed_at"`
	SoldAt         *time.Time `json:"sold_at,omitempty"`
	Status         string     `json:"status"`
}

// SaleFact is the durable, deduplicated record: a SaleEvent plus ingestion
// provenance. Facts are keyed by (seller_id, order_id); re-ingesting the same
// key replaces the prior fact, never duplicates it.
type SaleFact struct {
	SaleEvent
	SourceUploadID string    `json:"source_upload_id"`
	IngestedAt     time.Time `json:"ingested_at"`
}

// RowRejection describes one CSV row that failed validation. Rejections are
// data, not faults: they are collected and reported, never abort a batch.
type RowRejection struct {
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
}

// ConflictWarning records contradictory duplicate rows for one order id.
// The conflict is resolved last-write-wins; the warning is informational.
type ConflictWarning struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// UpsertResult reports what an upsert batch actually changed.
type UpsertResult struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// UploadRecord is the audit row kept per ingestion batch.
type UploadRecord struct {
	ID        string    `json:"id"`
	SellerID  string    `json:"seller_id"`
	Filename  string    `json:"filename"`
	Accepted  int       `json:"accepted"`
	Rejected  int       `json:"rejected"`
	Inserted  int       `json:"inserted"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	CreatedAt time.Time `json:"created_at"`
}

// KpiSummary is the derived dashboard summary for one seller. It is never
// the source of truth: it can be recomputed at any time from the fact set.
type KpiSummary struct {
	GmvCents          int64   `json:"gmv_cents"`
	ProfitCents       int64   `json:"profit_cents"`
	TotalFeesCents    int64   `json:"total_fees_cents"`
	UnitsSold         int     `json:"units_sold"`
	AvgSalePriceCents int64   `json:"avg_sale_price_cents"`
	ListedCount       int     `json:"listed_count"`
	SellThroughRate   float64 `json:"sell_through_rate"`
	AvgDaysToSell     float64 `json:"avg_days_to_sell"`
	ActiveListings    int     `json:"active_listings"`
}

// MonthlyBucket aggregates sold facts by the month of their sold_at date.
type MonthlyBucket struct {
	Month        string `json:"month"` // "YYYY-MM"
	RevenueCents int64  `json:"revenue_cents"`
	ProfitCents  int64  `json:"profit_cents"`
	UnitsSold    int    `json:"units_sold"`
}

// CategoryBucket aggregates sold facts by normalized category.
type CategoryBucket struct {
	Category     string `json:"category"`
	RevenueCents int64  `json:"revenue_cents"`
	UnitsSold    int    `json:"units_sold"`
}

// TopItem is a per-listing revenue aggregate for the top-items view.
type TopItem struct {
	ItemID       string `json:"item_id"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	UnitsSold    int    `json:"units_sold"`
	RevenueCents int64  `json:"revenue_cents"`
}

// Report bundles everything the dashboard renders for one seller.
type Report struct {
	Summary    KpiSummary       `json:"summary"`
	Monthly    []MonthlyBucket  `json:"monthly"`
	Categories []CategoryBucket `json:"categories"`
	TopItems   []TopItem        `json:"top_items"`
}

// IngestResult is returned to the uploader after a completed ingestion run.
type IngestResult struct {
	UploadID   string            `json:"upload_id"`
	Accepted   int               `json:"accepted"`
	Rejected   int               `json:"rejected"`
	Rejections []RowRejection    `json:"rejections"`
	Warnings   []ConflictWarning `json:"warnings"`
	Inserted   int               `json:"inserted"`
	Updated    int               `json:"updated"`
	Unchanged  int               `json:"unchanged"`
	Summary    KpiSummary        `json:"summary"`
}
