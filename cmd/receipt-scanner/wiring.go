package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/receipt-scanner/internal/classifier"
	"github.com/zombor/receipt-scanner/internal/extraction"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/scanning"
	"github.com/zombor/receipt-scanner/internal/training"
)

// sharedConfig holds flags every subcommand understands.
type sharedConfig struct {
	logLevel  *string
	logFormat *string

	modelsDir    *string
	embedder     *string
	embeddingDim *int
	geminiKey    *string
	embedModel   *string
	categories   *string
	fallback     *string
	threshold    *float64
	seedPath     *string
	patternsPath *string
	weights      *string
}

func registerShared(fs *ff.FlagSet) *sharedConfig {
	fs.StringLong("config", "", "config file (flag value pairs, one per line)")
	return &sharedConfig{
		logLevel:     fs.StringLong("log-level", "info", "log level: debug, info, warn or error"),
		logFormat:    fs.StringLong("log-format", "text", "log format: text or json"),
		modelsDir:    fs.StringLong("models-dir", "./models", "directory holding classifier versions"),
		embedder:     fs.StringLong("embedder", "hashing", "text embedder: 'hashing' or 'gemini'"),
		embeddingDim: fs.IntLong("embedding-dim", 512, "embedding dimension"),
		geminiKey:    fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		embedModel:   fs.StringLong("embedding-model", "text-embedding-004", "Gemini embedding model name"),
		categories:   fs.StringLong("categories", "", "comma separated category list (default built-in set)"),
		fallback:     fs.StringLong("fallback", "Other", "catch-all category for low confidence predictions"),
		threshold:    fs.Float64Long("confidence-threshold", classifier.DefaultThreshold, "minimum confidence before falling back"),
		seedPath:     fs.StringLong("seed", "", "seed corpus YAML file (default built-in corpus)"),
		patternsPath: fs.StringLong("patterns", "", "extraction patterns YAML file (default built-in patterns)"),
		weights:      fs.StringLong("weights", "", "extraction confidence weights, e.g. amount=40,merchant=25,date=20,phone=10,items=5"),
	}
}

func (c *sharedConfig) setupLogging() error {
	return setupLogging(*c.logLevel, *c.logFormat)
}

func (c *sharedConfig) apiKey() string {
	if *c.geminiKey != "" {
		return *c.geminiKey
	}
	return os.Getenv("GEMINI_API_KEY")
}

func (c *sharedConfig) loadCategories() (*classifier.Categories, error) {
	if *c.categories == "" {
		if *c.fallback == "Other" {
			return classifier.DefaultCategories(), nil
		}
		return classifier.NewCategories(classifier.DefaultLabels, *c.fallback)
	}
	return classifier.ParseCategories(*c.categories, *c.fallback)
}

// newEmbedder returns the configured embedder and a closer for it.
func (c *sharedConfig) newEmbedder(ctx context.Context) (classifier.Embedder, io.Closer, error) {
	switch *c.embedder {
	case "hashing":
		return classifier.NewHashingEmbedder(*c.embeddingDim), nopCloser{}, nil
	case "gemini":
		key := c.apiKey()
		if key == "" {
			return nil, nil, usageError{"Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable"}
		}
		slog.Info("Initializing Gemini embedder...", "model", *c.embedModel)
		e, err := classifier.NewGeminiEmbedder(ctx, key, *c.embedModel, *c.embeddingDim, 4)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing gemini embedder: %w", err)
		}
		return e, e, nil
	default:
		return nil, nil, usageError{fmt.Sprintf("invalid embedder %q, want hashing or gemini", *c.embedder)}
	}
}

// newRegistry builds the model registry. The returned closer releases the
// embedder.
func (c *sharedConfig) newRegistry(ctx context.Context) (*classifier.Registry, io.Closer, error) {
	categories, err := c.loadCategories()
	if err != nil {
		return nil, nil, usageError{err.Error()}
	}
	embedder, closer, err := c.newEmbedder(ctx)
	if err != nil {
		return nil, nil, err
	}
	registry := classifier.NewRegistry(*c.modelsDir, categories, embedder, classifier.WithThreshold(*c.threshold))
	return registry, closer, nil
}

func (c *sharedConfig) loadSeed() ([]training.Sample, error) {
	if *c.seedPath == "" {
		return training.DefaultSeed(), nil
	}
	return training.LoadSeed(*c.seedPath)
}

func (c *sharedConfig) newExtractor() (*extraction.Extractor, error) {
	if *c.patternsPath == "" {
		return extraction.NewExtractor(nil, nil), nil
	}
	lib, err := extraction.LoadPatterns(*c.patternsPath)
	if err != nil {
		return nil, err
	}
	return extraction.NewExtractor(lib, nil), nil
}

func (c *sharedConfig) newScorer() (*extraction.Scorer, error) {
	w, err := extraction.ParseWeights(*c.weights)
	if err != nil {
		return nil, usageError{err.Error()}
	}
	return extraction.NewScorer(w), nil
}

// ocrConfig selects and configures the OCR provider.
type ocrConfig struct {
	provider       *string
	geminiModel    *string
	ollamaURL      *string
	ollamaModel    *string
	tesseractLangs *string
}

func registerOCR(fs *ff.FlagSet) *ocrConfig {
	return &ocrConfig{
		provider:       fs.StringLong("ocr", "gemini", "OCR provider: 'gemini', 'ollama' or 'tesseract'"),
		geminiModel:    fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini vision model name"),
		ollamaURL:      fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:    fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name (e.g., qwen2.5vl, llava)"),
		tesseractLangs: fs.StringLong("tesseract-langs", "vie,eng", "comma separated Tesseract languages"),
	}
}

func (o *ocrConfig) build(ctx context.Context, shared *sharedConfig) (scanning.OCR, error) {
	switch *o.provider {
	case "gemini":
		key := shared.apiKey()
		if key == "" {
			return nil, usageError{"Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable"}
		}
		slog.Info("Initializing Gemini OCR...", "model", *o.geminiModel)
		g, err := scanning.NewGemini(ctx, key, *o.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return g, nil
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", *o.ollamaURL, "model", *o.ollamaModel)
		ol, err := scanning.NewOllama(*o.ollamaURL, *o.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return ol, nil
	case "tesseract":
		return newTesseract(splitList(*o.tesseractLangs))
	default:
		return nil, usageError{fmt.Sprintf("invalid OCR provider %q, want gemini, ollama or tesseract", *o.provider)}
	}
}

// storageConfig selects where uploaded images live.
type storageConfig struct {
	backend   *string
	path      *string
	gcsBucket *string
	gcsPrefix *string
}

func registerStorage(fs *ff.FlagSet) *storageConfig {
	return &storageConfig{
		backend:   fs.StringLong("storage", "local", "image storage: 'local' or 'gcs'"),
		path:      fs.StringLong("storage-path", "./receipts", "local storage directory path"),
		gcsBucket: fs.StringLong("gcs-bucket", "", "GCS bucket for receipt images"),
		gcsPrefix: fs.StringLong("gcs-prefix", "receipts", "object name prefix inside the GCS bucket"),
	}
}

func (s *storageConfig) build(ctx context.Context) (receipt.Storage, io.Closer, error) {
	switch *s.backend {
	case "local":
		store, err := receipt.NewLocalStorage(*s.path)
		if err != nil {
			return nil, nil, err
		}
		return store, nopCloser{}, nil
	case "gcs":
		slog.Info("Initializing GCS storage...", "bucket", *s.gcsBucket, "prefix", *s.gcsPrefix)
		store, err := receipt.NewGCSStorage(ctx, *s.gcsBucket, *s.gcsPrefix)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, usageError{fmt.Sprintf("invalid storage %q, want local or gcs", *s.backend)}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
