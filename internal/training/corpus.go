package training

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/zombor/receipt-scanner/internal/extraction"
)

// Merge unions base and corrections, deduplicating by normalized text. A
// later sample replaces the label of an earlier one with the same key, so
// corrections override the seed corpus and newer corrections override older.
// Output order follows first appearance.
func Merge(base, corrections []Sample) []Sample {
	index := make(map[string]int, len(base)+len(corrections))
	out := make([]Sample, 0, len(base)+len(corrections))
	for _, set := range [][]Sample{base, corrections} {
		for _, s := range set {
			k := dedupKey(s.Text)
			if k == "" {
				continue
			}
			if i, ok := index[k]; ok {
				out[i] = s
				continue
			}
			index[k] = len(out)
			out = append(out, s)
		}
	}
	return out
}

func dedupKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(extraction.NormalizeText(text)), " "))
}

// Split separates samples into parallel text and label slices.
func Split(samples []Sample) (texts, labels []string) {
	texts = make([]string, len(samples))
	labels = make([]string, len(samples))
	for i, s := range samples {
		texts[i] = s.Text
		labels[i] = s.Label
	}
	return texts, labels
}

// Hash fingerprints a corpus so identical training sets can be recognized in
// the metadata log.
func Hash(samples []Sample) string {
	h := sha256.New()
	for _, s := range samples {
		h.Write([]byte(s.Label))
		h.Write([]byte{'\t'})
		h.Write([]byte(s.Text))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
