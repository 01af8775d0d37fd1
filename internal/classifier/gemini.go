package classifier

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// GeminiEmbedder embeds texts with a Google embedding model.
type GeminiEmbedder struct {
	client      *genai.Client
	model       *genai.EmbeddingModel
	modelName   string
	dimension   int
	concurrency int
}

// NewGeminiEmbedder creates a GeminiEmbedder. dimension must match what the
// model returns; it is recorded with every trained artifact.
func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dimension, concurrency int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	if dimension <= 0 {
		dimension = 768
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.EmbeddingModel(modelName)
	model.TaskType = genai.TaskTypeClassification

	return &GeminiEmbedder{
		client:      client,
		model:       model,
		modelName:   modelName,
		dimension:   dimension,
		concurrency: concurrency,
	}, nil
}

// Config implements Embedder.
func (g *GeminiEmbedder) Config() EmbeddingConfig {
	return EmbeddingConfig{Provider: "gemini", Model: g.modelName, Dimension: g.dimension}
}

// Embed implements Embedder. Requests run in parallel up to the configured
// concurrency; the first failure cancels the rest.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, text := range texts {
		eg.Go(func() error {
			resp, err := g.model.EmbedContent(ctx, genai.Text(text))
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			if resp.Embedding == nil {
				return fmt.Errorf("embedding text %d: empty response", i)
			}
			vec := make([]float64, len(resp.Embedding.Values))
			for j, x := range resp.Embedding.Values {
				vec[j] = float64(x)
			}
			out[i] = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if err := checkDimensions(out, g.dimension); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the Gemini client.
func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}
