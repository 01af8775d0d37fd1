package receipt

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a receipt, job or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDegenerateInput is returned when OCR produced too little text to process.
	ErrDegenerateInput = errors.New("ocr text too short to process")
	// ErrClassifierNotReady is returned when no classifier model is loaded.
	ErrClassifierNotReady = errors.New("classifier not ready")
	// ErrInvalidCategory is returned for categories outside the configured set.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidUpdate is returned for malformed receipt edits.
	ErrInvalidUpdate = errors.New("invalid update")
	// ErrOCRFailed wraps failures of the OCR provider.
	ErrOCRFailed = errors.New("ocr provider failed")
)

// Receipt is a processed receipt with its extracted fields and category.
type Receipt struct {
	ID                   string             `json:"id"`
	MerchantName         string             `json:"merchant_name"`
	ReceiptDate          string             `json:"receipt_date"` // YYYY-MM-DD
	TotalAmount          float64            `json:"total_amount"`
	Category             string             `json:"category"`
	Confidence           float64            `json:"confidence"` // classification confidence
	Items                []string           `json:"items"`
	RawText              string             `json:"raw_text"`
	ImageReference       string             `json:"image_reference,omitempty"`
	ContentType          string             `json:"content_type,omitempty"`
	Phone                string             `json:"phone,omitempty"`
	Address              string             `json:"address,omitempty"`
	Tax                  float64            `json:"tax"`
	ExtractionConfidence float64            `json:"extraction_confidence"`
	OCRConfidence        float64            `json:"ocr_confidence"`
	Probabilities        map[string]float64 `json:"probabilities,omitempty"`
	ModelVersion         string             `json:"model_version,omitempty"`
	Corrected            bool               `json:"corrected"`
	ProcessedAt          time.Time          `json:"processed_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Correction records a user changing a receipt's category. Corrections are
// never modified once written.
type Correction struct {
	ID                string    `json:"id"`
	ReceiptID         string    `json:"receipt_id"`
	OriginalCategory  string    `json:"original_category"`
	CorrectedCategory string    `json:"corrected_category"`
	Text              string    `json:"text"`
	MerchantName      string    `json:"merchant_name"`
	Items             []string  `json:"items"`
	CorrectedAt       time.Time `json:"corrected_at"`
}

// ReceiptUpdate holds user edits. Nil fields are left unchanged.
type ReceiptUpdate struct {
	MerchantName *string   `json:"merchant_name,omitempty"`
	ReceiptDate  *string   `json:"receipt_date,omitempty"`
	TotalAmount  *float64  `json:"total_amount,omitempty"`
	Category     *string   `json:"category,omitempty"`
	Items        *[]string `json:"items,omitempty"`
}

// ListFilter narrows ListReceipts. Dates are inclusive YYYY-MM-DD bounds.
type ListFilter struct {
	Category string
	From     string
	To       string
	Skip     int
	Limit    int
}

// JobType names the work a Job performs.
type JobType string

const (
	JobProcessReceipt JobType = "process_receipt"
	JobRetrainModel   JobType = "retrain_model"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job tracks asynchronous work.
type Job struct {
	ID          string            `json:"id"`
	Type        JobType           `json:"type"`
	Status      JobStatus         `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Result      json.RawMessage   `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// CategoryStats aggregates receipts in one category.
type CategoryStats struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

// MerchantStats aggregates receipts from one merchant.
type MerchantStats struct {
	MerchantName string  `json:"merchant_name"`
	Count        int     `json:"count"`
	Total        float64 `json:"total"`
}

// Stats summarizes stored receipts and corrections.
type Stats struct {
	TotalReceipts     int                      `json:"total_receipts"`
	TotalAmount       float64                  `json:"total_amount"`
	CorrectedReceipts int                      `json:"corrected_receipts"`
	Corrections       int                      `json:"corrections"`
	RetrainThreshold  int                      `json:"retrain_threshold"`
	ModelVersion      string                   `json:"model_version,omitempty"`
	ByCategory        map[string]CategoryStats `json:"by_category"`
	TopMerchants      []MerchantStats          `json:"top_merchants"`
}
