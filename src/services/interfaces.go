package services

import (
	"context"
	"errors"
	"io"

	"github.com/username/sellerhub/src/models"
)

var (
	// ErrParsingFailed wraps CSV-level failures (unreadable stream, broken
	// header). Schema problems carry their own *ingest.SchemaError.
	ErrParsingFailed = errors.New("error parsing sales export")

	// ErrNoFacts is returned by the query side for sellers with no stored
	// facts at all.
	ErrNoFacts = errors.New("no facts for seller")
)

// SalesService is the engine behind the dashboard: it ingests seller CSV
// exports into deduplicated facts and serves the derived KPI views.
type SalesService interface {
	// ProcessUpload runs one ingestion batch for a seller. Concurrent
	// uploads for the same seller are serialized; different sellers run in
	// parallel.
	ProcessUpload(ctx context.Context, sellerID, filename string, file io.Reader) (*models.IngestResult, error)

	GetSummary(ctx context.Context, sellerID string) (models.KpiSummary, error)
	GetMonthly(ctx context.Context, sellerID string) ([]models.MonthlyBucket, error)
	GetCategoryBreakdown(ctx context.Context, sellerID string) ([]models.CategoryBucket, error)
	GetTopItems(ctx context.Context, sellerID string, limit int) ([]models.TopItem, error)

	InvalidateSellerCache(sellerID string)
}
