package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/username/sellerhub/src/logger"
	"github.com/username/sellerhub/src/models"
	"github.com/username/sellerhub/src/services"
	"github.com/username/sellerhub/src/utils"
)

type AnalyticsHandler struct {
	salesService services.SalesService
}

func NewAnalyticsHandler(service services.SalesService) *AnalyticsHandler {
	return &AnalyticsHandler{
		salesService: service,
	}
}

func (h *AnalyticsHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")
	logger.L.Debug("Handling GetSummary request", "sellerID", sellerID)

	summary, err := h.salesService.GetSummary(r.Context(), sellerID)
	if err != nil {
		h.sendAnalyticsError(w, sellerID, "summary", err)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, private")

	// Summaries change only on ingest, so an ETag saves the dashboard a
	// body on every poll in between.
	if currentETag, etagErr := utils.GenerateETag(summary); etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("%q", currentETag)
		w.Header().Set("ETag", quotedETag)
		for _, cETag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				logger.L.Debug("ETag match for seller summary", "sellerID", sellerID)
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	} else if etagErr != nil {
		logger.L.Warn("Proceeding without ETag due to generation error", "sellerID", sellerID, "error", etagErr)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		logger.L.Error("Error encoding JSON response for summary", "sellerID", sellerID, "error", err)
	}
}

func (h *AnalyticsHandler) HandleGetSalesOverTime(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")
	logger.L.Debug("Handling GetSalesOverTime request", "sellerID", sellerID)

	monthly, err := h.salesService.GetMonthly(r.Context(), sellerID)
	if err != nil {
		h.sendAnalyticsError(w, sellerID, "sales-over-time", err)
		return
	}
	if monthly == nil {
		monthly = []models.MonthlyBucket{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(monthly); err != nil {
		logger.L.Error("Error encoding JSON response for monthly sales", "sellerID", sellerID, "error", err)
	}
}

func (h *AnalyticsHandler) HandleGetCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")
	logger.L.Debug("Handling GetCategoryBreakdown request", "sellerID", sellerID)

	categories, err := h.salesService.GetCategoryBreakdown(r.Context(), sellerID)
	if err != nil {
		h.sendAnalyticsError(w, sellerID, "category-breakdown", err)
		return
	}
	if categories == nil {
		categories = []models.CategoryBucket{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(categories); err != nil {
		logger.L.Error("Error encoding JSON response for category breakdown", "sellerID", sellerID, "error", err)
	}
}

func (h *AnalyticsHandler) HandleGetTopItems(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			utils.SendJSONError(w, fmt.Sprintf("invalid limit %q", limitStr), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	items, err := h.salesService.GetTopItems(r.Context(), sellerID, limit)
	if err != nil {
		h.sendAnalyticsError(w, sellerID, "top-items", err)
		return
	}
	if items == nil {
		items = []models.TopItem{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(items); err != nil {
		logger.L.Error("Error encoding JSON response for top items", "sellerID", sellerID, "error", err)
	}
}

func (h *AnalyticsHandler) sendAnalyticsError(w http.ResponseWriter, sellerID, view string, err error) {
	if errors.Is(err, services.ErrNoFacts) {
		utils.SendJSONError(w, fmt.Sprintf("no sales data for seller %s", sellerID), http.StatusNotFound)
		return
	}
	logger.L.Error("Error retrieving analytics view", "sellerID", sellerID, "view", view, "error", err)
	utils.SendJSONError(w, fmt.Sprintf("Error retrieving %s for seller %s", view, sellerID), http.StatusInternalServerError)
}
