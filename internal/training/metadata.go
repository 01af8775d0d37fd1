package training

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zombor/receipt-scanner/internal/classifier"
)

// MetadataFile is the append-only log of trained versions inside the models directory.
const MetadataFile = "models_metadata.jsonl"

// Metadata records one trained version.
type Metadata struct {
	Version         string                     `json:"version"`
	Type            Kind                       `json:"type"`
	CreatedAt       time.Time                  `json:"created_at"`
	TrainAccuracy   float64                    `json:"train_accuracy"`
	TestAccuracy    float64                    `json:"test_accuracy"`
	TrainSamples    int                        `json:"train_samples"`
	TestSamples     int                        `json:"test_samples"`
	CorrectionsUsed int                        `json:"corrections_used"`
	CorpusHash      string                     `json:"corpus_hash"`
	EmbeddingConfig classifier.EmbeddingConfig `json:"embedding_config"`
}

// AppendMetadata adds m as a new line of the log in dir.
func AppendMetadata(dir string, m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, MetadataFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening metadata log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("writing metadata log: %w", err)
	}
	return f.Close()
}

// ReadMetadata returns every entry of the log in dir, oldest first. A missing
// log is empty.
func ReadMetadata(dir string) ([]Metadata, error) {
	f, err := os.Open(filepath.Join(dir, MetadataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening metadata log: %w", err)
	}
	defer f.Close()

	var out []Metadata
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var m Metadata
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("decoding metadata line %d: %w", line, err)
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading metadata log: %w", err)
	}
	return out, nil
}
