package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/sellerhub/src/analytics"
	"github.com/username/sellerhub/src/config"
	"github.com/username/sellerhub/src/database"
	"github.com/username/sellerhub/src/ingest"
	"github.com/username/sellerhub/src/logger"
	"github.com/username/sellerhub/src/models"
	"github.com/username/sellerhub/src/services"
	"github.com/username/sellerhub/src/store"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	config.Cfg = &config.AppConfig{
		Port:               "8080",
		LogLevel:           "error",
		MaxUploadSizeBytes: 10 * 1024 * 1024,
	}
	os.Exit(m.Run())
}

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	db := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { db.Close() })

	salesService := services.NewSalesService(
		ingest.NewCSVNormalizer(),
		store.NewSQLiteFactStore(db),
		analytics.NewAggregator(),
		cache.New(15*time.Minute, 30*time.Minute),
	)
	uploadHandler := NewUploadHandler(salesService)
	analyticsHandler := NewAnalyticsHandler(salesService)

	r := chi.NewRouter()
	r.Route("/api/sellers/{sellerID}", func(r chi.Router) {
		r.Post("/uploads", uploadHandler.HandleUpload)
		r.Get("/summary", analyticsHandler.HandleGetSummary)
		r.Get("/sales-over-time", analyticsHandler.HandleGetSalesOverTime)
		r.Get("/category-breakdown", analyticsHandler.HandleGetCategoryBreakdown)
		r.Get("/top-items", analyticsHandler.HandleGetTopItems)
	})
	return r
}

func multipartCSV(t *testing.T, csvData string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="sales.csv"`)
	header.Set("Content-Type", "text/csv")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(csvData))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func uploadCSV(t *testing.T, router *chi.Mux, sellerID, csvData string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartCSV(t, csvData)
	req := httptest.NewRequest(http.MethodPost, "/api/sellers/"+sellerID+"/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const exportCSV = "Order ID,Category,Sale Price,Fees,Date of Listing,Date of Sale,Status\n" +
	"A1,Shoes,$50.00,$5.00,2024-01-01,2024-01-10,sold\n"

func TestUploadThenSummaryRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	rec := uploadCSV(t, router, "seller-1", exportCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, int64(5000), result.Summary.GmvCents)

	req := httptest.NewRequest(http.MethodGet, "/api/sellers/seller-1/summary", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusOK, getRec.Code)

	var summary models.KpiSummary
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &summary))
	assert.Equal(t, int64(5000), summary.GmvCents)
	assert.Equal(t, int64(4500), summary.ProfitCents)
	assert.Equal(t, 9.0, summary.AvgDaysToSell)

	// Conditional re-fetch with the returned ETag is a 304.
	etag := getRec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req = httptest.NewRequest(http.MethodGet, "/api/sellers/seller-1/summary", nil)
	req.Header.Set("If-None-Match", etag)
	cachedRec := httptest.NewRecorder()
	router.ServeHTTP(cachedRec, req)
	assert.Equal(t, http.StatusNotModified, cachedRec.Code)
}

func TestUploadSchemaErrorNamesMissingColumns(t *testing.T) {
	router := newTestRouter(t)

	rec := uploadCSV(t, router, "seller-1", "Category,Fees\nShoes,1.00\n")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error          string   `json:"error"`
		MissingColumns []string `json:"missing_columns"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.MissingColumns, "order_id")
	assert.Contains(t, body.MissingColumns, "sale_price")

	// Nothing was stored.
	req := httptest.NewRequest(http.MethodGet, "/api/sellers/seller-1/summary", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, req)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestUploadAllRowsRejectedStillReturnsResult(t *testing.T) {
	router := newTestRouter(t)

	badRows := "Order ID,Category,Sale Price,Fees,Date of Listing,Date of Sale,Status\n" +
		"A1,Shoes,-10.00,0,2024-01-01,2024-01-02,sold\n" +
		"A2,Tops,abc,0,2024-01-01,2024-01-03,sold\n"
	rec := uploadCSV(t, router, "seller-1", badRows)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result models.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Zero(t, result.Accepted)
	assert.Equal(t, 2, result.Rejected)
	require.Len(t, result.Rejections, 2)
	assert.Zero(t, result.Summary.GmvCents)
}

func TestQueryUnknownSellerIs404(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"summary", "sales-over-time", "category-breakdown", "top-items"} {
		req := httptest.NewRequest(http.MethodGet, "/api/sellers/ghost/"+path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "error", path)
	}
}

func TestListedOnlySellerGetsZeroValuedViews(t *testing.T) {
	router := newTestRouter(t)

	listedOnly := "Order ID,Item Price,Date of Listing,Status\n" +
		"L1,30.00,2024-02-01,listed\n"
	rec := uploadCSV(t, router, "seller-1", listedOnly)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/sellers/seller-1/category-breakdown", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.JSONEq(t, "[]", getRec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/sellers/seller-1/summary", nil)
	sumRec := httptest.NewRecorder()
	router.ServeHTTP(sumRec, req)
	require.Equal(t, http.StatusOK, sumRec.Code)

	var summary models.KpiSummary
	require.NoError(t, json.Unmarshal(sumRec.Body.Bytes(), &summary))
	assert.Zero(t, summary.GmvCents)
	assert.Equal(t, 1, summary.ListedCount)
	assert.Equal(t, 1, summary.ActiveListings)
	assert.Zero(t, summary.SellThroughRate)
}

func TestTopItemsLimitValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := uploadCSV(t, router, "seller-1", exportCSV)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sellers/seller-1/top-items?limit=abc", nil)
	badRec := httptest.NewRecorder()
	router.ServeHTTP(badRec, req)
	assert.Equal(t, http.StatusBadRequest, badRec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sellers/seller-1/top-items?limit=5", nil)
	okRec := httptest.NewRecorder()
	router.ServeHTTP(okRec, req)
	require.Equal(t, http.StatusOK, okRec.Code)

	var items []models.TopItem
	require.NoError(t, json.Unmarshal(okRec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, int64(5000), items[0].RevenueCents)
}
