package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-scanner/internal/scanning"
)

var _ scanning.OCR = (*Tesseract)(nil)

// Tesseract implements scanning.OCR with a local Tesseract installation.
type Tesseract struct {
	languages []string
}

// New creates a Tesseract OCR provider. The default languages are
// Vietnamese and English.
func New(languages []string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"vie", "eng"}
	}
	return &Tesseract{languages: languages}
}

// ExtractText runs Tesseract over the preprocessed image. Confidence is the
// mean word confidence.
func (t *Tesseract) ExtractText(ctx context.Context, imageData []byte, contentType string) (*scanning.OCRResult, error) {
	img, err := scanning.DecodeImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, scanning.Preprocess(img), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding preprocessed image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Clients wrap a native handle and are not safe for concurrent use.
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("setting tesseract language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, fmt.Errorf("setting page segmentation: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("loading image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("running tesseract: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		slog.Warn("Failed to read word confidences", "error", err)
		return &scanning.OCRResult{Text: text}, nil
	}
	confidences := make([]float64, 0, len(boxes))
	for _, b := range boxes {
		confidences = append(confidences, b.Confidence)
	}
	return &scanning.OCRResult{Text: text, Confidence: meanConfidence(confidences)}, nil
}

// meanConfidence averages Tesseract's 0..100 word scores into 0..1,
// ignoring the -1 it reports for non-text blocks.
func meanConfidence(scores []float64) float64 {
	var sum float64
	var n int
	for _, c := range scores {
		if c < 0 {
			continue
		}
		sum += c
		n++
	}
	if n == 0 {
		return 0
	}
	return min(1, sum/float64(n)/100)
}

// Close is a no-op; clients are created per call.
func (t *Tesseract) Close() error {
	return nil
}
