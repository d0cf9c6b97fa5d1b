package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/username/sellerhub/src/config"
	"github.com/username/sellerhub/src/ingest"
	"github.com/username/sellerhub/src/logger"
	"github.com/username/sellerhub/src/security/validation"
	"github.com/username/sellerhub/src/services"
	"github.com/username/sellerhub/src/store"
	"github.com/username/sellerhub/src/utils"
)

type UploadHandler struct {
	salesService services.SalesService
}

func NewUploadHandler(service services.SalesService) *UploadHandler {
	return &UploadHandler{
		salesService: service,
	}
}

// HandleUpload ingests one sales export for the seller in the path. The
// seller id has already been authorized by the gateway in front of this
// service.
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")
	if sellerID == "" {
		utils.SendJSONError(w, "seller id missing from request path", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "sellerID", sellerID, "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		logger.L.Warn("Failed to retrieve file from request", "sellerID", sellerID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		logger.L.Warn("Uploaded file header reports size too large", "sellerID", sellerID, "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	clientContentType := fileHeader.Header.Get("Content-Type")
	if err := validation.ValidateClientContentType(clientContentType); err != nil {
		logger.L.Warn("Invalid client-declared file type", "sellerID", sellerID, "contentType", clientContentType, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := validation.ValidateFileContentByMagicBytes(file); err != nil {
		logger.L.Warn("Server-side file content validation failed", "sellerID", sellerID, "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger.L.Info("Processing upload request", "sellerID", sellerID, "filename", fileHeader.Filename)
	result, err := h.salesService.ProcessUpload(r.Context(), sellerID, fileHeader.Filename, file)
	if err != nil {
		var schemaErr *ingest.SchemaError
		switch {
		case errors.As(err, &schemaErr):
			logger.L.Warn("Upload rejected: export schema invalid", "sellerID", sellerID, "filename", fileHeader.Filename, "missing", schemaErr.Missing)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":           schemaErr.Error(),
				"missing_columns": schemaErr.Missing,
			})
		case errors.Is(err, services.ErrParsingFailed):
			logger.L.Warn("Upload processing failed due to CSV parsing errors", "sellerID", sellerID, "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, fmt.Sprintf("Error parsing CSV file: %v", err), http.StatusBadRequest)
		case errors.Is(err, store.ErrStore):
			logger.L.Error("Upload failed on persistence, batch rolled back", "sellerID", sellerID, "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, "Storage is temporarily unavailable; the upload was not applied. Please try again.", http.StatusServiceUnavailable)
		default:
			logger.L.Error("Internal error processing upload", "sellerID", sellerID, "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, "An internal error occurred while processing the file. Please try again later.", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.L.Error("Error encoding JSON response for upload result", "sellerID", sellerID, "error", err)
	}
}
