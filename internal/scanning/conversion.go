package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// pdfDPI is the render resolution for PDF receipts.
const pdfDPI = 300

// ErrUnsupportedFormat is returned for uploads that are not PDF, JPEG, PNG,
// GIF, HEIC or HEIF.
var ErrUnsupportedFormat = errors.New("unsupported image format")

func normalizeMIME(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		return "image/jpeg"
	}
	return mimeType
}

// DecodeImage decodes an upload into an image. PDFs contribute their first page.
func DecodeImage(data []byte, contentType string) (image.Image, error) {
	mimeType := normalizeMIME(contentType)

	switch {
	case mimeType == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-")):
		doc, err := fitz.NewFromMemory(data)
		if err != nil {
			return nil, fmt.Errorf("opening PDF: %w", err)
		}
		defer doc.Close()
		img, err := doc.ImageDPI(0, pdfDPI)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page: %w", err)
		}
		return img, nil

	case isHEICFormat(data) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil

	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			if errors.Is(err, image.ErrFormat) {
				return nil, fmt.Errorf("%w (supported: JPEG, PNG, GIF, HEIC, HEIF, PDF): %v", ErrUnsupportedFormat, err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
		return img, nil
	}
}

// isHEICFormat sniffs the ISO-BMFF ftyp box for a HEIF brand.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// convertToPNG returns PNG bytes for any supported upload. PNG input is
// passed through untouched.
func convertToPNG(data []byte, contentType string) ([]byte, error) {
	if normalizeMIME(contentType) == "image/png" && bytes.HasPrefix(data, []byte("\x89PNG")) {
		return data, nil
	}
	img, err := DecodeImage(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("converting to PNG: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Preprocessing parameters for Tesseract input.
const (
	minOCRHeight   = 800
	upscaledHeight = 1600
	contrastBoost  = 20
	sharpenSigma   = 0.8
)

// Preprocess applies the fixed OCR clean-up: grayscale, upscale of small
// photos, contrast boost and a light sharpen.
func Preprocess(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	if out.Bounds().Dy() < minOCRHeight {
		out = imaging.Resize(out, 0, upscaledHeight, imaging.Lanczos)
	}
	out = imaging.AdjustContrast(out, contrastBoost)
	return imaging.Sharpen(out, sharpenSigma)
}
