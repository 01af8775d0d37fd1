package training

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// Sample is one labeled classifier input.
type Sample struct {
	Label string `yaml:"category"`
	Text  string `yaml:"text"`
}

type corpusFile struct {
	Samples []Sample `yaml:"samples"`
}

// DefaultSeed returns the embedded base corpus.
func DefaultSeed() []Sample {
	samples, err := ParseSeed(defaultSeed)
	if err != nil {
		panic(fmt.Sprintf("embedded seed corpus: %v", err))
	}
	return samples
}

// LoadSeed reads a seed corpus from a YAML file.
func LoadSeed(path string) ([]Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed corpus: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML corpus document.
func ParseSeed(data []byte) ([]Sample, error) {
	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed corpus: %w", err)
	}
	for i, s := range f.Samples {
		if strings.TrimSpace(s.Text) == "" || strings.TrimSpace(s.Label) == "" {
			return nil, fmt.Errorf("parsing seed corpus: sample %d needs text and category", i)
		}
	}
	return f.Samples, nil
}

// MarshalCorpus renders samples in the seed corpus format.
func MarshalCorpus(samples []Sample) ([]byte, error) {
	data, err := yaml.Marshal(corpusFile{Samples: samples})
	if err != nil {
		return nil, fmt.Errorf("marshaling corpus: %w", err)
	}
	return data, nil
}
