package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/receipt-scanner/internal/classifier"
	"github.com/zombor/receipt-scanner/internal/scanning"
	"github.com/zombor/receipt-scanner/internal/training"
)

// maxUploadSize fits high-resolution phone photos.
const maxUploadSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes an error response with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCategory), errors.Is(err, ErrInvalidUpdate):
		return http.StatusBadRequest
	case errors.Is(err, ErrDegenerateInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, scanning.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrOCRFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrClassifierNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, training.ErrRetrainInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, classifier.ErrInsufficientData), errors.Is(err, classifier.ErrUnknownLabel):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// serviceError logs and writes err
func serviceError(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		if code == http.StatusInternalServerError {
			jsonError(w, "Internal server error", code)
			return
		}
	}
	jsonError(w, err.Error(), code)
}

// handleHealth reports liveness and whether a model is loaded
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version := s.service.ModelVersion()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"model_loaded":  version != "",
		"model_version": version,
	})
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	f := ListFilter{
		Category: q.Get("category"),
		From:     q.Get("from"),
		To:       q.Get("to"),
	}
	for name, dst := range map[string]*int{"skip": &f.Skip, "limit": &f.Limit} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("invalid " + name)
		}
		*dst = n
	}
	return f, nil
}

// handleListReceipts returns receipts matching the query filters
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	receipts, err := s.service.ListReceipts(filter)
	if err != nil {
		serviceError(w, "Error listing receipts", err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

func detectContentType(header string, filename string) string {
	if header != "" && header != "application/octet-stream" {
		return strings.ToLower(strings.TrimSpace(header))
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleUploadReceipt handles receipt upload. With ?async=true the receipt
// is processed by a background job and the job is returned.
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}
	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)

	if r.URL.Query().Get("async") == "true" && s.jobs != nil {
		job, err := s.jobs.SubmitReceipt(header.Filename, data, contentType)
		if err != nil {
			serviceError(w, "Error queueing receipt", err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	receipt, err := s.service.ProcessReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		serviceError(w, "Error processing receipt "+header.Filename, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

type processTextRequest struct {
	Text          string   `json:"text"`
	OCRConfidence *float64 `json:"ocr_confidence"`
}

// handleProcessText processes OCR text supplied by the client
func (s *Server) handleProcessText(w http.ResponseWriter, r *http.Request) {
	var req processTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	confidence := 1.0
	if req.OCRConfidence != nil {
		confidence = min(max(*req.OCRConfidence, 0), 1)
	}

	receipt, err := s.service.ProcessText(r.Context(), req.Text, confidence)
	if err != nil {
		serviceError(w, "Error processing text", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		serviceError(w, "Error getting receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleUpdateReceipt applies user corrections to a receipt
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var update ReceiptUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	receipt, err := s.service.UpdateReceipt(r.PathValue("id"), update)
	if err != nil {
		serviceError(w, "Error updating receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the image for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, "Error getting receipt file", err)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.Context(), r.PathValue("id")); err != nil {
		serviceError(w, "Error deleting receipt", err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleListCorrections returns all corrections, oldest first
func (s *Server) handleListCorrections(w http.ResponseWriter, r *http.Request) {
	corrections, err := s.service.ListCorrections()
	if err != nil {
		serviceError(w, "Error listing corrections", err)
		return
	}
	writeJSON(w, http.StatusOK, corrections)
}

// handleListJobs returns all jobs, newest first
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs()
	if err != nil {
		serviceError(w, "Error listing jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleGetJob returns a single job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.PathValue("id"))
	if err != nil {
		serviceError(w, "Error getting job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleRetrain retrains the classifier from corrections. With ?async=true
// the run is queued and the job is returned.
func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" && s.jobs != nil {
		job, err := s.jobs.SubmitRetrain()
		if err != nil {
			serviceError(w, "Error queueing retrain", err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	result, err := s.service.Retrain(r.Context())
	if err != nil {
		serviceError(w, "Error retraining", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListModels returns metadata for all saved classifier versions
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.service.ListModels()
	if err != nil {
		serviceError(w, "Error listing models", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current": s.service.ModelVersion(),
		"models":  models,
	})
}

// handleStats returns spending aggregates
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats()
	if err != nil {
		serviceError(w, "Error computing stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
