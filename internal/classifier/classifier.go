package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotReady is returned when predicting before a model is fitted or loaded.
	ErrNotReady = errors.New("classifier not ready: no model trained or loaded")
	// ErrInsufficientData is returned when there is not enough data to fit or split.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrUnknownLabel is returned when a training label is outside the category set.
	ErrUnknownLabel = errors.New("label not in category set")
	// ErrLabelSetMismatch is returned when a stored model was trained on another vocabulary.
	ErrLabelSetMismatch = errors.New("model label set does not match configured categories")
	// ErrEmbeddingMismatch is returned when a stored model used another embedding configuration.
	ErrEmbeddingMismatch = errors.New("model embedding config does not match embedder")
)

// DefaultThreshold is the minimum probability for a non-fallback prediction.
const DefaultThreshold = 0.6

// Prediction is the outcome of classifying one text.
type Prediction struct {
	Category      string             `json:"category"`
	Confidence    float64            `json:"confidence"`
	Argmax        string             `json:"argmax"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// TrainResult summarizes a Fit call.
type TrainResult struct {
	TrainedSamples int      `json:"trained_samples"`
	TrainAccuracy  float64  `json:"train_accuracy"`
	LabelSet       []string `json:"label_set"`
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithThreshold sets the fallback probability threshold.
func WithThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

// WithTrainOptions overrides gradient descent settings.
func WithTrainOptions(o TrainOptions) Option {
	return func(c *Classifier) { c.train = o }
}

// Classifier maps receipt text to a category using an Embedder and a
// multinomial logistic model over the full category vocabulary.
type Classifier struct {
	categories *Categories
	embedder   Embedder
	threshold  float64
	train      TrainOptions

	mu    sync.RWMutex
	model *logisticModel
	info  ModelInfo
}

// New creates an untrained Classifier.
func New(categories *Categories, embedder Embedder, opts ...Option) *Classifier {
	c := &Classifier{
		categories: categories,
		embedder:   embedder,
		threshold:  DefaultThreshold,
		train:      DefaultTrainOptions,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildInput combines OCR text, merchant and items into a single classifier
// input. The merchant is repeated to weigh it more heavily.
func BuildInput(rawText, merchant string, items []string) string {
	parts := []string{strings.TrimSpace(rawText)}
	if m := strings.TrimSpace(merchant); m != "" {
		parts = append(parts, m, m)
	}
	if len(items) > 0 {
		parts = append(parts, strings.Join(items, " "))
	}
	return strings.Join(parts, " ")
}

// Ready reports whether a model is available for prediction.
func (c *Classifier) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model != nil
}

// Info returns metadata about the current model.
func (c *Classifier) Info() ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Threshold returns the fallback threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Categories returns the vocabulary this classifier predicts over.
func (c *Classifier) Categories() *Categories {
	return c.categories
}

// Fit trains a new model on texts and labels, replacing any existing one.
func (c *Classifier) Fit(ctx context.Context, texts, labels []string) (TrainResult, error) {
	if len(texts) != len(labels) {
		return TrainResult{}, fmt.Errorf("%w: %d texts but %d labels", ErrInsufficientData, len(texts), len(labels))
	}
	if len(texts) < 2 {
		return TrainResult{}, fmt.Errorf("%w: need at least 2 samples, got %d", ErrInsufficientData, len(texts))
	}

	y := make([]int, len(labels))
	distinct := make(map[int]struct{})
	for i, l := range labels {
		idx := c.categories.Index(l)
		if idx < 0 {
			return TrainResult{}, fmt.Errorf("%w: %q", ErrUnknownLabel, l)
		}
		y[i] = idx
		distinct[idx] = struct{}{}
	}
	if len(distinct) < 2 {
		return TrainResult{}, fmt.Errorf("%w: need at least 2 distinct labels, got %d", ErrInsufficientData, len(distinct))
	}

	x, err := c.embed(ctx, texts)
	if err != nil {
		return TrainResult{}, err
	}

	model := trainLogistic(x, y, c.categories.Len(), c.train)

	correct := 0
	for i, xi := range x {
		if argmax(model.probabilities(xi)) == y[i] {
			correct++
		}
	}
	accuracy := float64(correct) / float64(len(x))

	c.mu.Lock()
	c.model = model
	c.info = ModelInfo{
		EmbeddingConfig:     c.embedder.Config(),
		LabelSet:            c.categories.Labels(),
		Fallback:            c.categories.Fallback(),
		Threshold:           c.threshold,
		TrainingSampleCount: len(x),
		TrainAccuracy:       accuracy,
	}
	c.mu.Unlock()

	return TrainResult{
		TrainedSamples: len(x),
		TrainAccuracy:  accuracy,
		LabelSet:       c.categories.Labels(),
	}, nil
}

// Predict classifies a single text.
func (c *Classifier) Predict(ctx context.Context, text string) (Prediction, error) {
	preds, err := c.PredictBatch(ctx, []string{text})
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

// PredictBatch classifies several texts with one embedding call.
func (c *Classifier) PredictBatch(ctx context.Context, texts []string) ([]Prediction, error) {
	c.mu.RLock()
	model := c.model
	c.mu.RUnlock()
	if model == nil {
		return nil, ErrNotReady
	}

	x, err := c.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	preds := make([]Prediction, len(x))
	for i, xi := range x {
		preds[i] = c.decide(model.probabilities(xi))
	}
	return preds, nil
}

// decide applies the argmax rule with the low-confidence fallback.
func (c *Classifier) decide(probs []float64) Prediction {
	best := argmax(probs)
	p := Prediction{
		Argmax:        c.categories.Label(best),
		Confidence:    probs[best],
		Probabilities: make(map[string]float64, len(probs)),
	}
	for k, v := range probs {
		p.Probabilities[c.categories.Label(k)] = v
	}
	if p.Confidence < c.threshold {
		p.Category = c.categories.Fallback()
	} else {
		p.Category = p.Argmax
	}
	return p
}

func (c *Classifier) embed(ctx context.Context, texts []string) ([][]float64, error) {
	x, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding texts: %w", err)
	}
	if len(x) != len(texts) {
		return nil, fmt.Errorf("embedding texts: got %d vectors for %d texts", len(x), len(texts))
	}
	if err := checkDimensions(x, c.embedder.Config().Dimension); err != nil {
		return nil, fmt.Errorf("embedding texts: %w", err)
	}
	return x, nil
}

// setVersion records identity fields once the model is persisted.
func (c *Classifier) setVersion(version string, createdAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Version = version
	c.info.CreatedAt = createdAt
}

// SetTestAccuracy records held-out accuracy before the model is saved.
func (c *Classifier) SetTestAccuracy(accuracy float64, samples int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.TestAccuracy = accuracy
	c.info.TestSampleCount = samples
}
