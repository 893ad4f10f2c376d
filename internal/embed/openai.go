// Package embed groups surviving chunks into fixed-size batches, calls the
// external embedding service, and persists vectors with page references.
package embed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbedder implements pipeline.Embedder against the OpenAI API.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

// Defaults used when config leaves model/dimension unset.
const (
	DefaultModel     = "text-embedding-3-small"
	DefaultDimension = 1536
)

// maxServiceBatch is the provider-side input limit per call.
const maxServiceBatch = 100

// NewOpenAIEmbedder builds an embedder client.
func NewOpenAIEmbedder(apiKey, model string, dimension int) *OpenAIEmbedder {
	if model == "" {
		model = DefaultModel
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		dimension: dimension,
	}
}

// Embed generates one vector per input text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > maxServiceBatch {
		return nil, fmt.Errorf("batch size %d exceeds service maximum %d", len(texts), maxServiceBatch)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Dimensions: openai.Int(int64(e.dimension)),
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embedding call: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding call: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Model returns the model identifier used for ModelVersion stamping.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Dimension returns the configured vector width.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}
