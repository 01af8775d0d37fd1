package receipt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scanner/internal/classifier"
	"github.com/zombor/receipt-scanner/internal/extraction"
	"github.com/zombor/receipt-scanner/internal/scanning"
	"github.com/zombor/receipt-scanner/internal/training"
)

// minTextLength is the shortest trimmed OCR text worth processing.
const minTextLength = 10

// IDGenerator generates unique IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs for receipts
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// ulidGenerator generates time-ordered IDs so corrections and jobs sort by
// creation in BoltDB's byte-ordered keys.
type ulidGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newULIDGenerator() *ulidGenerator {
	return &ulidGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ulidGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Classifier predicts receipt categories. *classifier.Registry implements it.
type Classifier interface {
	Predict(ctx context.Context, text string) (classifier.Prediction, error)
	Version() string
	Versions() ([]classifier.ModelInfo, error)
}

// Trainer retrains the classifier from corrections. *training.Retrainer implements it.
type Trainer interface {
	Retrain(ctx context.Context, corrections []training.Sample) (*training.Result, error)
	Threshold() int
}

// Pipeline groups the text processing collaborators of a Service.
type Pipeline struct {
	Extractor  *extraction.Extractor
	Scorer     *extraction.Scorer
	Classifier Classifier
	Categories *classifier.Categories
	// Trainer is optional; without it Retrain fails.
	Trainer Trainer
}

// Service handles receipt operations
type Service struct {
	db          DB
	ocr         scanning.OCR
	storage     Storage
	pipeline    Pipeline
	idGenerator IDGenerator
	eventIDs    IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUID receipt IDs, ULID correction
// and job IDs and the wall clock.
func NewService(db DB, ocr scanning.OCR, storage Storage, pipeline Pipeline) *Service {
	s := newService(db, ocr, storage, pipeline, &uuidGenerator{}, &defaultTimeSource{})
	s.eventIDs = newULIDGenerator()
	return s
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, ocr scanning.OCR, storage Storage, pipeline Pipeline, idGen IDGenerator, timeSrc TimeSource) *Service {
	return newService(db, ocr, storage, pipeline, idGen, timeSrc)
}

func newService(db DB, ocr scanning.OCR, storage Storage, pipeline Pipeline, idGen IDGenerator, timeSrc TimeSource) *Service {
	if pipeline.Extractor == nil {
		pipeline.Extractor = extraction.NewExtractor(nil, timeSrc.Now)
	}
	if pipeline.Scorer == nil {
		pipeline.Scorer = extraction.NewScorer(extraction.DefaultWeights)
	}
	if pipeline.Categories == nil {
		pipeline.Categories = classifier.DefaultCategories()
	}
	return &Service{
		db:          db,
		ocr:         ocr,
		storage:     storage,
		pipeline:    pipeline,
		idGenerator: idGen,
		eventIDs:    idGen,
		timeSource:  timeSrc,
	}
}

// Categories returns the configured category vocabulary.
func (s *Service) Categories() *classifier.Categories {
	return s.pipeline.Categories
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaceRuns           = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaceRuns.ReplaceAllString(base, " "))

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ProcessReceipt stores an uploaded image, runs OCR on it and processes the text
func (s *Service) ProcessReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, error) {
	id := s.idGenerator.Generate()

	savedPath, err := s.storage.Save(ctx, fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	ocr, err := s.ocr.ExtractText(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to extract text",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.removeFile(ctx, savedPath)
		return nil, fmt.Errorf("extracting text: %w: %w", ErrOCRFailed, err)
	}

	receipt, err := s.process(ctx, id, ocr.Text, ocr.Confidence, savedPath, contentType)
	if err != nil {
		s.removeFile(ctx, savedPath)
		return nil, err
	}
	return receipt, nil
}

// ProcessText runs extraction and classification over already recognized
// text and stores the resulting receipt.
func (s *Service) ProcessText(ctx context.Context, text string, ocrConfidence float64) (*Receipt, error) {
	return s.process(ctx, s.idGenerator.Generate(), text, ocrConfidence, "", "")
}

func (s *Service) process(ctx context.Context, id, text string, ocrConfidence float64, imageRef, contentType string) (*Receipt, error) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minTextLength {
		return nil, fmt.Errorf("%w: %d characters", ErrDegenerateInput, utf8.RuneCountInString(strings.TrimSpace(text)))
	}

	entities := s.pipeline.Extractor.Extract(text)
	extractionConfidence := s.pipeline.Scorer.Score(entities)

	if s.pipeline.Classifier == nil {
		return nil, ErrClassifierNotReady
	}
	input := classifier.BuildInput(text, entities.MerchantName, entities.Items)
	prediction, err := s.pipeline.Classifier.Predict(ctx, input)
	if err != nil {
		if errors.Is(err, classifier.ErrNotReady) {
			return nil, fmt.Errorf("%w: %v", ErrClassifierNotReady, err)
		}
		return nil, fmt.Errorf("classifying receipt: %w", err)
	}

	items := entities.Items
	if items == nil {
		items = []string{}
	}
	now := s.timeSource.Now()
	receipt := &Receipt{
		ID:                   id,
		MerchantName:         entities.MerchantName,
		ReceiptDate:          entities.ReceiptDate,
		TotalAmount:          entities.TotalAmount,
		Category:             prediction.Category,
		Confidence:           prediction.Confidence,
		Items:                items,
		RawText:              text,
		ImageReference:       imageRef,
		ContentType:          contentType,
		Phone:                entities.Phone,
		Address:              entities.Address,
		Tax:                  entities.Tax,
		ExtractionConfidence: extractionConfidence,
		OCRConfidence:        ocrConfidence,
		Probabilities:        prediction.Probabilities,
		ModelVersion:         s.pipeline.Classifier.Version(),
		ProcessedAt:          now,
		UpdatedAt:            now,
	}

	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Processed receipt",
		"id", receipt.ID,
		"merchant", receipt.MerchantName,
		"total", receipt.TotalAmount,
		"category", receipt.Category,
		"confidence", receipt.Confidence,
		"extraction_confidence", extractionConfidence,
	)
	return receipt, nil
}

func (s *Service) removeFile(ctx context.Context, path string) {
	if err := s.storage.Delete(ctx, path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns receipts matching filter, most recently processed first
func (s *Service) ListReceipts(filter ListFilter) ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	out := make([]*Receipt, 0, len(receipts))
	for _, r := range receipts {
		if filter.Category != "" && r.Category != filter.Category {
			continue
		}
		if filter.From != "" && r.ReceiptDate < filter.From {
			continue
		}
		if filter.To != "" && r.ReceiptDate > filter.To {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProcessedAt.After(out[j].ProcessedAt)
	})

	if filter.Skip > 0 {
		if filter.Skip >= len(out) {
			return []*Receipt{}, nil
		}
		out = out[filter.Skip:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateReceipt applies user edits and marks the receipt corrected. A
// category change is recorded as a Correction in the same transaction.
func (s *Service) UpdateReceipt(id string, update ReceiptUpdate) (*Receipt, error) {
	if update.Category != nil && !s.pipeline.Categories.Contains(*update.Category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, *update.Category)
	}
	if update.TotalAmount != nil && *update.TotalAmount < 0 {
		return nil, fmt.Errorf("%w: total_amount must not be negative", ErrInvalidUpdate)
	}
	var date string
	if update.ReceiptDate != nil {
		d, ok := extraction.ParseDate(*update.ReceiptDate)
		if !ok {
			return nil, fmt.Errorf("%w: unrecognized receipt_date %q", ErrInvalidUpdate, *update.ReceiptDate)
		}
		date = d.Format(extraction.ISODate)
	}

	now := s.timeSource.Now()
	receipt, err := s.db.UpdateReceipt(id, func(r *Receipt) (*Correction, error) {
		var correction *Correction
		if update.Category != nil && *update.Category != r.Category {
			correction = &Correction{
				ID:                s.eventIDs.Generate(),
				ReceiptID:         r.ID,
				OriginalCategory:  r.Category,
				CorrectedCategory: *update.Category,
				CorrectedAt:       now,
			}
			r.Category = *update.Category
		}
		if update.MerchantName != nil {
			r.MerchantName = strings.TrimSpace(*update.MerchantName)
		}
		if update.ReceiptDate != nil {
			r.ReceiptDate = date
		}
		if update.TotalAmount != nil {
			r.TotalAmount = *update.TotalAmount
		}
		if update.Items != nil {
			r.Items = append([]string{}, (*update.Items)...)
		}
		r.Corrected = true
		r.UpdatedAt = now

		if correction != nil {
			correction.Text = r.RawText
			correction.MerchantName = r.MerchantName
			correction.Items = append([]string{}, r.Items...)
		}
		return correction, nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating receipt: %w", err)
	}
	return receipt, nil
}

// DeleteReceipt removes a receipt and its file
func (s *Service) DeleteReceipt(ctx context.Context, id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if receipt.ImageReference != "" {
		s.removeFile(ctx, receipt.ImageReference)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the file data for a receipt
func (s *Service) GetReceiptFile(ctx context.Context, id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}
	if receipt.ImageReference == "" {
		return nil, "", fmt.Errorf("receipt %s has no file: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(ctx, receipt.ImageReference)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, receipt.ContentType, nil
}

// ListCorrections returns all corrections, oldest first
func (s *Service) ListCorrections() ([]*Correction, error) {
	corrections, err := s.db.ListCorrections()
	if err != nil {
		return nil, fmt.Errorf("listing corrections: %w", err)
	}
	return corrections, nil
}

// Retrain feeds every stored correction to the trainer.
func (s *Service) Retrain(ctx context.Context) (*training.Result, error) {
	if s.pipeline.Trainer == nil {
		return nil, fmt.Errorf("retraining is not configured")
	}
	corrections, err := s.ListCorrections()
	if err != nil {
		return nil, err
	}

	samples := make([]training.Sample, 0, len(corrections))
	for _, c := range corrections {
		samples = append(samples, training.Sample{
			Label: c.CorrectedCategory,
			Text:  classifier.BuildInput(c.Text, c.MerchantName, c.Items),
		})
	}
	return s.pipeline.Trainer.Retrain(ctx, samples)
}

// ModelVersion is the live classifier version, or "" when none is loaded.
func (s *Service) ModelVersion() string {
	if s.pipeline.Classifier == nil {
		return ""
	}
	return s.pipeline.Classifier.Version()
}

// ListModels returns metadata for every saved classifier version.
func (s *Service) ListModels() ([]classifier.ModelInfo, error) {
	if s.pipeline.Classifier == nil {
		return []classifier.ModelInfo{}, nil
	}
	models, err := s.pipeline.Classifier.Versions()
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	if models == nil {
		models = []classifier.ModelInfo{}
	}
	return models, nil
}

type agg struct {
	count int
	total decimal.Decimal
}

func bump(m map[string]*agg, key string, amount decimal.Decimal) {
	a, ok := m[key]
	if !ok {
		a = &agg{}
		m[key] = a
	}
	a.count++
	a.total = a.total.Add(amount)
}

// maxTopMerchants bounds Stats.TopMerchants.
const maxTopMerchants = 10

// Stats aggregates spending per category and merchant.
func (s *Service) Stats() (*Stats, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	corrections, err := s.db.CountCorrections()
	if err != nil {
		return nil, fmt.Errorf("counting corrections: %w", err)
	}

	categories := make(map[string]*agg)
	merchants := make(map[string]*agg)
	grand := decimal.Zero
	stats := &Stats{
		TotalReceipts: len(receipts),
		Corrections:   corrections,
		ByCategory:    make(map[string]CategoryStats),
		TopMerchants:  []MerchantStats{},
	}
	if s.pipeline.Trainer != nil {
		stats.RetrainThreshold = s.pipeline.Trainer.Threshold()
	}
	if s.pipeline.Classifier != nil {
		stats.ModelVersion = s.pipeline.Classifier.Version()
	}

	for _, r := range receipts {
		amount := decimal.NewFromFloat(r.TotalAmount)
		grand = grand.Add(amount)
		if r.Corrected {
			stats.CorrectedReceipts++
		}
		bump(categories, r.Category, amount)
		if r.MerchantName != "" {
			bump(merchants, r.MerchantName, amount)
		}
	}

	stats.TotalAmount = grand.InexactFloat64()
	for name, a := range categories {
		stats.ByCategory[name] = CategoryStats{Count: a.count, Total: a.total.InexactFloat64()}
	}
	for name, a := range merchants {
		stats.TopMerchants = append(stats.TopMerchants, MerchantStats{MerchantName: name, Count: a.count, Total: a.total.InexactFloat64()})
	}
	sort.Slice(stats.TopMerchants, func(i, j int) bool {
		a, b := stats.TopMerchants[i], stats.TopMerchants[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.MerchantName < b.MerchantName
	})
	if len(stats.TopMerchants) > maxTopMerchants {
		stats.TopMerchants = stats.TopMerchants[:maxTopMerchants]
	}
	return stats, nil
}
