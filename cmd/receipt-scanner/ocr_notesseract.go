//go:build !tesseract

package main

import "github.com/zombor/receipt-scanner/internal/scanning"

// Tesseract needs cgo and libtesseract, so it is only linked into binaries
// built with -tags tesseract.
func newTesseract([]string) (scanning.OCR, error) {
	return nil, usageError{"this binary was built without Tesseract support; rebuild with -tags tesseract"}
}
