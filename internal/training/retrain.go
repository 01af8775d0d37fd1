package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/zombor/receipt-scanner/internal/classifier"
)

// ErrRetrainInProgress is returned when a run is requested while another one
// holds the retrainer.
var ErrRetrainInProgress = errors.New("retraining already in progress")

// Status is the outcome of a training run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
)

// ReasonInsufficientCorrections explains a skipped retrain.
const ReasonInsufficientCorrections = "insufficient_corrections"

// Kind distinguishes models trained from the seed corpus from retrained ones.
type Kind string

const (
	KindInitial   Kind = "initial"
	KindRetrained Kind = "retrained"
)

// SnapshotFile is the corpus audit copy written next to each model.
const SnapshotFile = "training_data.yaml"

// Config controls training runs.
type Config struct {
	// Threshold is the number of corrections required before retraining.
	Threshold    int
	TestFraction float64
	Seed         int64
}

// DefaultConfig holds the standard gating and split settings.
var DefaultConfig = Config{
	Threshold:    50,
	TestFraction: 0.2,
	Seed:         42,
}

// Result describes a training run.
type Result struct {
	Status           Status                 `json:"status"`
	Reason           string                 `json:"reason,omitempty"`
	CorrectionsCount int                    `json:"corrections_count"`
	Version          string                 `json:"version,omitempty"`
	Path             string                 `json:"path,omitempty"`
	TrainSamples     int                    `json:"train_samples,omitempty"`
	TestSamples      int                    `json:"test_samples,omitempty"`
	TrainAccuracy    float64                `json:"train_accuracy"`
	TestAccuracy     float64                `json:"test_accuracy"`
	Report           *classifier.EvalReport `json:"report,omitempty"`
}

// Retrainer builds new classifier versions from the seed corpus and user
// corrections and installs them in a Registry. One run at a time per process.
type Retrainer struct {
	registry *classifier.Registry
	seed     []Sample
	cfg      Config
	now      func() time.Time

	mu sync.Mutex
}

// NewRetrainer creates a Retrainer. A nil clock uses time.Now.
func NewRetrainer(registry *classifier.Registry, seed []Sample, cfg Config, now func() time.Time) *Retrainer {
	if now == nil {
		now = time.Now
	}
	return &Retrainer{
		registry: registry,
		seed:     seed,
		cfg:      cfg,
		now:      now,
	}
}

// Threshold is the configured number of corrections required to retrain.
func (r *Retrainer) Threshold() int {
	return r.cfg.Threshold
}

// Retrain trains a new version from the seed corpus merged with corrections.
// Below the threshold it returns a skipped Result without side effects.
func (r *Retrainer) Retrain(ctx context.Context, corrections []Sample) (*Result, error) {
	if !r.mu.TryLock() {
		return nil, ErrRetrainInProgress
	}
	defer r.mu.Unlock()

	if len(corrections) < r.cfg.Threshold {
		slog.Info("Skipping retrain", "corrections", len(corrections), "threshold", r.cfg.Threshold)
		return &Result{
			Status:           StatusSkipped,
			Reason:           ReasonInsufficientCorrections,
			CorrectionsCount: len(corrections),
		}, nil
	}
	return r.run(ctx, KindRetrained, Merge(r.seed, corrections), len(corrections))
}

// TrainInitial trains a version from the seed corpus alone.
func (r *Retrainer) TrainInitial(ctx context.Context) (*Result, error) {
	if !r.mu.TryLock() {
		return nil, ErrRetrainInProgress
	}
	defer r.mu.Unlock()

	return r.run(ctx, KindInitial, Merge(r.seed, nil), 0)
}

func (r *Retrainer) run(ctx context.Context, kind Kind, corpus []Sample, corrections int) (*Result, error) {
	started := r.now()
	texts, labels := Split(corpus)

	split, err := classifier.StratifiedSplit(texts, labels, r.cfg.TestFraction, r.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("splitting corpus: %w", err)
	}

	clf := r.registry.NewClassifier()
	trained, err := clf.Fit(ctx, split.TrainTexts, split.TrainLabels)
	if err != nil {
		return nil, fmt.Errorf("fitting classifier: %w", err)
	}

	report, err := classifier.Evaluate(ctx, clf, split.TestTexts, split.TestLabels)
	if err != nil {
		return nil, fmt.Errorf("evaluating classifier: %w", err)
	}
	clf.SetTestAccuracy(report.Accuracy, report.Samples)

	snapshot, err := MarshalCorpus(corpus)
	if err != nil {
		return nil, err
	}

	dir := r.registry.Dir()
	path, err := clf.SaveNext(dir, started, kind == KindRetrained, classifier.File{Name: SnapshotFile, Data: snapshot})
	if err != nil {
		return nil, fmt.Errorf("saving model: %w", err)
	}
	version := clf.Info().Version

	meta := Metadata{
		Version:         version,
		Type:            kind,
		CreatedAt:       started,
		TrainAccuracy:   trained.TrainAccuracy,
		TestAccuracy:    report.Accuracy,
		TrainSamples:    trained.TrainedSamples,
		TestSamples:     report.Samples,
		CorrectionsUsed: corrections,
		CorpusHash:      Hash(corpus),
		EmbeddingConfig: clf.Info().EmbeddingConfig,
	}
	if err := AppendMetadata(dir, meta); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			slog.Error("Failed to remove unrecorded model", "path", path, "error", rmErr)
		}
		return nil, err
	}

	r.registry.Swap(clf)

	slog.Info("Trained classifier",
		"version", version,
		"type", kind,
		"train_samples", trained.TrainedSamples,
		"test_samples", report.Samples,
		"train_accuracy", trained.TrainAccuracy,
		"test_accuracy", report.Accuracy,
		"corrections", corrections,
		"duration", r.now().Sub(started),
	)

	return &Result{
		Status:           StatusSuccess,
		CorrectionsCount: corrections,
		Version:          version,
		Path:             path,
		TrainSamples:     trained.TrainedSamples,
		TestSamples:      report.Samples,
		TrainAccuracy:    trained.TrainAccuracy,
		TestAccuracy:     report.Accuracy,
		Report:           report,
	}, nil
}
