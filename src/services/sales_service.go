package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/sellerhub/src/analytics"
	"github.com/username/sellerhub/src/ingest"
	"github.com/username/sellerhub/src/logger"
	"github.com/username/sellerhub/src/models"
	"github.com/username/sellerhub/src/store"
	"github.com/username/sellerhub/src/utils"
)

const ckSellerReport = "agg_report_seller_%s"

type salesServiceImpl struct {
	normalizer  *ingest.CSVNormalizer
	factStore   store.FactStore
	aggregator  *analytics.Aggregator
	reportCache *cache.Cache
	locks       *sellerLocks
}

func NewSalesService(
	normalizer *ingest.CSVNormalizer,
	factStore store.FactStore,
	aggregator *analytics.Aggregator,
	reportCache *cache.Cache,
) SalesService {
	return &salesServiceImpl{
		normalizer:  normalizer,
		factStore:   factStore,
		aggregator:  aggregator,
		reportCache: reportCache,
		locks:       newSellerLocks(),
	}
}

func (s *salesServiceImpl) ProcessUpload(ctx context.Context, sellerID, filename string, file io.Reader) (*models.IngestResult, error) {
	overallStartTime := time.Now()
	logger.L.Info("ProcessUpload START", "sellerID", sellerID, "filename", filename)

	events, rejections, err := s.normalizer.Parse(file, sellerID)
	if err != nil {
		// Schema errors travel as-is so the uploader learns which columns
		// are missing; anything else is a parse failure.
		if _, ok := err.(*ingest.SchemaError); ok {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	resolved, warnings := ingest.Reconcile(events)

	uploadID := uuid.NewString()
	ingestedAt := time.Now().UTC()
	facts := make([]models.SaleFact, 0, len(resolved))
	for _, event := range resolved {
		facts = append(facts, models.SaleFact{
			SaleEvent:      event,
			SourceUploadID: uploadID,
			IngestedAt:     ingestedAt,
		})
	}

	// Serialize upsert+recompute per seller so overlapping uploads keep
	// their last-write-wins ordering. Queries never take this lock.
	lock := s.locks.forSeller(sellerID)
	lock.Lock()
	defer lock.Unlock()

	upsert, err := s.factStore.Upsert(ctx, sellerID, facts)
	if err != nil {
		return nil, err
	}

	record := models.UploadRecord{
		ID:        uploadID,
		SellerID:  sellerID,
		Filename:  filename,
		Accepted:  len(resolved),
		Rejected:  len(rejections),
		Inserted:  upsert.Inserted,
		Updated:   upsert.Updated,
		Unchanged: upsert.Unchanged,
		CreatedAt: ingestedAt,
	}
	if err := s.factStore.RecordUpload(ctx, record); err != nil {
		// The fact batch is already committed; losing the audit row is not
		// worth failing the upload over.
		logger.L.Error("Failed to record upload audit row", "sellerID", sellerID, "uploadID", uploadID, "error", err)
	}

	s.InvalidateSellerCache(sellerID)

	// A fresh seller whose every row was rejected has no facts yet; the
	// uploader still gets the rejection summary, not a failure.
	report, err := s.report(ctx, sellerID)
	if err != nil && !errors.Is(err, ErrNoFacts) {
		return nil, err
	}

	result := &models.IngestResult{
		UploadID:   uploadID,
		Accepted:   len(resolved),
		Rejected:   len(rejections),
		Rejections: rejections,
		Warnings:   warnings,
		Inserted:   upsert.Inserted,
		Updated:    upsert.Updated,
		Unchanged:  upsert.Unchanged,
		Summary:    report.Summary,
	}
	if result.Rejections == nil {
		result.Rejections = []models.RowRejection{}
	}
	if result.Warnings == nil {
		result.Warnings = []models.ConflictWarning{}
	}

	logger.L.Info("ProcessUpload END", "sellerID", sellerID, "uploadID", uploadID,
		"accepted", result.Accepted, "rejected", result.Rejected, "duration", time.Since(overallStartTime))
	return result, nil
}

// InvalidateSellerCache drops the cached report so the next read recomputes
// from the fact set. Invalidate-on-write keeps read-after-write consistency
// per seller.
func (s *salesServiceImpl) InvalidateSellerCache(sellerID string) {
	s.reportCache.Delete(fmt.Sprintf(ckSellerReport, sellerID))
	logger.L.Debug("Invalidated report cache for seller", "sellerID", sellerID)
}

// report is the cache-aside read path behind every query method.
func (s *salesServiceImpl) report(ctx context.Context, sellerID string) (models.Report, error) {
	cacheKey := fmt.Sprintf(ckSellerReport, sellerID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		logger.L.Debug("Cache hit for seller report", "sellerID", sellerID)
		return cached.(models.Report), nil
	}

	hasFacts, err := s.factStore.HasFacts(ctx, sellerID)
	if err != nil {
		return models.Report{}, err
	}
	if !hasFacts {
		return models.Report{}, fmt.Errorf("%w: %s", ErrNoFacts, sellerID)
	}

	logger.L.Info("Cache miss for seller report, recomputing from DB", "sellerID", sellerID)
	facts, err := s.factStore.FactsFor(ctx, sellerID)
	if err != nil {
		return models.Report{}, err
	}

	report := s.aggregator.Recompute(facts)
	s.reportCache.Set(cacheKey, report, cache.DefaultExpiration)
	return report, nil
}

func (s *salesServiceImpl) GetSummary(ctx context.Context, sellerID string) (models.KpiSummary, error) {
	report, err := s.report(ctx, sellerID)
	if err != nil {
		return models.KpiSummary{}, err
	}
	return report.Summary, nil
}

func (s *salesServiceImpl) GetMonthly(ctx context.Context, sellerID string) ([]models.MonthlyBucket, error) {
	report, err := s.report(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	return report.Monthly, nil
}

func (s *salesServiceImpl) GetCategoryBreakdown(ctx context.Context, sellerID string) ([]models.CategoryBucket, error) {
	report, err := s.report(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	return report.Categories, nil
}

func (s *salesServiceImpl) GetTopItems(ctx context.Context, sellerID string, limit int) ([]models.TopItem, error) {
	report, err := s.report(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	limit = utils.ClampInt(limit, 1, 50)
	if limit > len(report.TopItems) {
		limit = len(report.TopItems)
	}
	return report.TopItems[:limit], nil
}
