package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Registry owns the live classifier for a process. Swapping in a new model
// is a single pointer store, so in-flight predictions finish on the old one.
type Registry struct {
	dir        string
	categories *Categories
	embedder   Embedder
	opts       []Option

	current atomic.Pointer[Classifier]
}

// NewRegistry creates an empty Registry over a models directory.
func NewRegistry(dir string, categories *Categories, embedder Embedder, opts ...Option) *Registry {
	return &Registry{
		dir:        dir,
		categories: categories,
		embedder:   embedder,
		opts:       opts,
	}
}

// Dir is the models directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Categories is the configured vocabulary.
func (r *Registry) Categories() *Categories {
	return r.categories
}

// NewClassifier returns an untrained classifier with the registry's settings.
func (r *Registry) NewClassifier() *Classifier {
	return New(r.categories, r.embedder, r.opts...)
}

// Current returns the live classifier or ErrNotReady.
func (r *Registry) Current() (*Classifier, error) {
	c := r.current.Load()
	if c == nil {
		return nil, ErrNotReady
	}
	return c, nil
}

// Version is the live model version, or "" when none is loaded.
func (r *Registry) Version() string {
	if c := r.current.Load(); c != nil {
		return c.Info().Version
	}
	return ""
}

// Swap installs c as the live classifier.
func (r *Registry) Swap(c *Classifier) {
	r.current.Store(c)
	slog.Info("Classifier installed", "version", c.Info().Version)
}

// LoadLatest resolves the newest saved version and installs it. It returns
// the installed version.
func (r *Registry) LoadLatest() (string, error) {
	path, err := LatestVersion(r.dir)
	if err != nil {
		return "", err
	}
	c, err := Load(path, r.categories, r.embedder, r.opts...)
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", path, err)
	}
	if cur := r.current.Load(); cur != nil && cur.Info().Version == c.Info().Version {
		return c.Info().Version, nil
	}
	r.Swap(c)
	return c.Info().Version, nil
}

// Predict classifies text with the live classifier.
func (r *Registry) Predict(ctx context.Context, text string) (Prediction, error) {
	c, err := r.Current()
	if err != nil {
		return Prediction{}, err
	}
	return c.Predict(ctx, text)
}

// Versions lists saved model metadata, oldest first.
func (r *Registry) Versions() ([]ModelInfo, error) {
	return ListVersions(r.dir)
}
