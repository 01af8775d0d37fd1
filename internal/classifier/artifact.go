package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// VersionPrefix starts every model directory name.
	VersionPrefix = "category_clf_v"
	// RetrainedSuffix marks versions produced from user corrections.
	RetrainedSuffix = "_retrained"

	modelFile     = "model.json"
	versionLayout = "20060102_150405"
)

// ErrVersionExists is returned by Save when the target version is already on disk.
var ErrVersionExists = errors.New("model version already exists")

// ErrNoModel is returned when a models directory has no saved versions.
var ErrNoModel = errors.New("no saved model found")

// ModelInfo describes a trained model.
type ModelInfo struct {
	Version             string          `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	EmbeddingConfig     EmbeddingConfig `json:"embedding_config"`
	LabelSet            []string        `json:"label_set"`
	Fallback            string          `json:"fallback"`
	Threshold           float64         `json:"threshold"`
	TrainingSampleCount int             `json:"training_sample_count"`
	TrainAccuracy       float64         `json:"train_accuracy"`
	TestSampleCount     int             `json:"test_sample_count"`
	TestAccuracy        float64         `json:"test_accuracy"`
}

type artifact struct {
	ModelInfo
	Model *logisticModel `json:"model"`
}

// File is an extra file written next to the model inside its version directory.
type File struct {
	Name string
	Data []byte
}

// VersionName derives a version identifier from t. Names sort in creation order.
func VersionName(t time.Time, retrained bool) string {
	v := VersionPrefix + t.UTC().Format(versionLayout)
	if retrained {
		v += RetrainedSuffix
	}
	return v
}

// NextVersion returns the name the next model created at t should use. A
// second model in the same second gets a sequence number after the
// timestamp so names stay unique and ordered.
func NextVersion(dir string, t time.Time, retrained bool) (string, error) {
	stamp := t.UTC().Format(versionLayout)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading models directory: %w", err)
	}
	seq := 1
	for _, e := range entries {
		if ts, n, ok := parseVersion(e.Name()); ok && ts == stamp && n >= seq {
			seq = n + 1
		}
	}

	v := VersionPrefix + stamp
	if seq > 1 {
		v += "_" + strconv.Itoa(seq)
	}
	if retrained {
		v += RetrainedSuffix
	}
	return v, nil
}

// SaveNext saves the model under NextVersion, retrying when a concurrent
// writer takes the same name. It returns the version directory.
func (c *Classifier) SaveNext(dir string, createdAt time.Time, retrained bool, extra ...File) (string, error) {
	for range 5 {
		version, err := NextVersion(dir, createdAt, retrained)
		if err != nil {
			return "", err
		}
		path, err := c.Save(dir, version, createdAt, extra...)
		if !errors.Is(err, ErrVersionExists) {
			return path, err
		}
	}
	return "", fmt.Errorf("%w: no free name for %s", ErrVersionExists, createdAt.UTC().Format(versionLayout))
}

// parseVersion splits a version name into its timestamp and sequence number.
func parseVersion(name string) (string, int, bool) {
	rest, ok := strings.CutPrefix(name, VersionPrefix)
	if !ok || len(rest) < len(versionLayout) {
		return "", 0, false
	}
	stamp := rest[:len(versionLayout)]
	rest = strings.TrimSuffix(rest[len(versionLayout):], RetrainedSuffix)
	if rest == "" {
		return stamp, 1, true
	}
	digits, ok := strings.CutPrefix(rest, "_")
	n, err := strconv.Atoi(digits)
	if !ok || err != nil {
		return stamp, 1, true
	}
	return stamp, n, true
}

func versionLess(a, b string) bool {
	ta, na, _ := parseVersion(a)
	tb, nb, _ := parseVersion(b)
	if ta != tb {
		return ta < tb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

// Save writes the model to dir/version. Files are staged in a temporary
// directory inside dir and renamed into place, so readers never see a
// partially written version.
func (c *Classifier) Save(dir, version string, createdAt time.Time, extra ...File) (string, error) {
	c.mu.RLock()
	model := c.model
	info := c.info
	c.mu.RUnlock()
	if model == nil {
		return "", ErrNotReady
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating models directory: %w", err)
	}
	final := filepath.Join(dir, version)
	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("%w: %s", ErrVersionExists, version)
	}

	info.Version = version
	info.CreatedAt = createdAt
	data, err := json.Marshal(artifact{ModelInfo: info, Model: model})
	if err != nil {
		return "", fmt.Errorf("marshaling model: %w", err)
	}

	tmp, err := os.MkdirTemp(dir, ".tmp-"+version+"-")
	if err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.RemoveAll(tmp)
		}
	}()

	if err := os.WriteFile(filepath.Join(tmp, modelFile), data, 0644); err != nil {
		return "", fmt.Errorf("writing model: %w", err)
	}
	for _, f := range extra {
		if err := os.WriteFile(filepath.Join(tmp, f.Name), f.Data, 0644); err != nil {
			return "", fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("finalizing model directory: %w", err)
	}
	cleanup = false

	c.setVersion(version, createdAt)
	return final, nil
}

// Load restores a model saved by Save. The stored label set must equal
// categories and the stored embedding config must equal embedder's.
func Load(path string, categories *Categories, embedder Embedder, opts ...Option) (*Classifier, error) {
	data, err := os.ReadFile(filepath.Join(path, modelFile))
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if a.Model == nil || len(a.Model.Weights) != len(a.LabelSet) || len(a.Model.Bias) != len(a.LabelSet) {
		return nil, fmt.Errorf("decoding model: weights do not match label set")
	}

	if !categories.Equal(a.LabelSet) {
		return nil, fmt.Errorf("%w: model has %v, configured %v", ErrLabelSetMismatch, a.LabelSet, categories.Labels())
	}
	if a.EmbeddingConfig != embedder.Config() {
		return nil, fmt.Errorf("%w: model has %+v, embedder has %+v", ErrEmbeddingMismatch, a.EmbeddingConfig, embedder.Config())
	}
	for _, w := range a.Model.Weights {
		if len(w) != a.EmbeddingConfig.Dimension {
			return nil, fmt.Errorf("decoding model: weight dimension %d, want %d", len(w), a.EmbeddingConfig.Dimension)
		}
	}

	c := New(categories, embedder, append([]Option{WithThreshold(a.Threshold)}, opts...)...)
	c.model = a.Model
	c.info = a.ModelInfo
	return c, nil
}

// ListVersions returns metadata for every saved version in dir, oldest first.
func ListVersions(dir string) ([]ModelInfo, error) {
	names, err := versionDirs(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name, modelFile))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		var info ModelInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// LatestVersion returns the path of the newest version in dir, ordered by
// timestamp and then sequence number.
func LatestVersion(dir string) (string, error) {
	names, err := versionDirs(dir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoModel, dir)
	}
	return filepath.Join(dir, names[len(names)-1]), nil
}

func versionDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading models directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), VersionPrefix) {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Name(), modelFile)); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Slice(names, func(i, j int) bool { return versionLess(names[i], names[j]) })
	return names, nil
}
