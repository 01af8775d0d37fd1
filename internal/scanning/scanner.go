package scanning

import "context"

// OCRResult is the text recovered from a receipt image.
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0..1
}

// OCR turns receipt images into text.
type OCR interface {
	// ExtractText reads all text from an image or PDF.
	ExtractText(ctx context.Context, imageData []byte, contentType string) (*OCRResult, error)
	// Close releases provider resources
	Close() error
}
