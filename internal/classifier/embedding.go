package classifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EmbeddingConfig identifies how texts were turned into vectors. Models
// trained with one configuration cannot be used with another.
type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// Embedder maps texts to fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Config() EmbeddingConfig
}

// DefaultHashingDimension is the vector size used by NewHashingEmbedder when
// given a non-positive dimension.
const DefaultHashingDimension = 1024

// HashingEmbedder is an offline, deterministic embedder. It hashes word
// unigrams, word bigrams and character trigrams into a signed feature vector
// and L2-normalizes it. Every token is also added in a diacritic-free form so
// "Thịt bò" and "Thit bo" share features.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates a HashingEmbedder with dim buckets.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &HashingEmbedder{dim: dim}
}

// Config implements Embedder.
func (h *HashingEmbedder) Config() EmbeddingConfig {
	return EmbeddingConfig{Provider: "hashing", Model: "fnv1a-uni-bi-tri", Dimension: h.dim}
}

// Embed implements Embedder.
func (h *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashingEmbedder) vector(text string) []float64 {
	v := make([]float64, h.dim)
	tokens := tokenize(text)

	for i, tok := range tokens {
		h.add(v, "w:"+tok, 1)
		if folded := foldDiacritics(tok); folded != tok {
			h.add(v, "w:"+folded, 1)
		}
		if i > 0 {
			h.add(v, "b:"+tokens[i-1]+" "+tok, 0.5)
		}
		padded := []rune(" " + foldDiacritics(tok) + " ")
		for j := 0; j+3 <= len(padded); j++ {
			h.add(v, "c:"+string(padded[j:j+3]), 0.25)
		}
	}

	var norm2 float64
	for _, x := range v {
		norm2 += x * x
	}
	if norm2 == 0 {
		return v
	}
	inv := 1 / math.Sqrt(norm2)
	for i := range v {
		v[i] *= inv
	}
	return v
}

func (h *HashingEmbedder) add(v []float64, feature string, weight float64) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// tokenize lowercases NFC text and splits it on anything that is not a
// letter, mark or digit.
func tokenize(text string) []string {
	text = strings.ToLower(norm.NFC.String(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

// foldDiacritics strips combining marks and maps đ to d. Chains carry
// buffers, so each call builds its own.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return strings.NewReplacer("đ", "d", "Đ", "D").Replace(out)
}

func checkDimensions(vectors [][]float64, dim int) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}
