//go:build tesseract

package main

import (
	"log/slog"

	"github.com/zombor/receipt-scanner/internal/scanning"
	"github.com/zombor/receipt-scanner/internal/scanning/tesseract"
)

func newTesseract(languages []string) (scanning.OCR, error) {
	slog.Info("Initializing Tesseract OCR...", "languages", languages)
	return tesseract.New(languages), nil
}
