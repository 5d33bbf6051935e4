package embedding

import (
	"context"
	"strings"

	"github.com/loomchat/loom-memory/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is the OpenAI model used for generating embeddings.
// text-embedding-3 models accept a requested output dimension, which lets
// the remote backend match the local model's 384-dim contract.
const DefaultOpenAIModel = openai.SmallEmbedding3

// embeddingAPI is the slice of the OpenAI client the backend needs.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIClient generates embeddings through the OpenAI API.
type OpenAIClient struct {
	api        embeddingAPI
	model      openai.EmbeddingModel
	dimensions int
}

// OpenAIConfig configures the OpenAI embedding backend.
type OpenAIConfig struct {
	APIKey string
	Model  openai.EmbeddingModel
}

// NewOpenAIClient creates an OpenAI-backed embedding client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{
		api:        openai.NewClient(cfg.APIKey),
		model:      model,
		dimensions: domain.EmbeddingDimensions,
	}
}

// Dimensions returns the fixed output dimension.
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

// GenerateEmbedding embeds a single text as a unit vector.
func (c *OpenAIClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyText
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{normalizeText(text)},
		Model:      c.model,
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeModelUnavailable, "openai embedding request failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeModelUnavailable, "no embedding data returned")
	}

	vec := resp.Data[0].Embedding
	if len(vec) != c.dimensions {
		return nil, domain.ErrInvalidEmbeddingLength
	}
	return l2Normalize(vec), nil
}

// GenerateEmbeddings embeds texts in sequential sub-batches of BatchSize.
func (c *OpenAIClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += BatchSize {
		end := start + BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		for _, text := range texts[start:end] {
			vec, err := c.GenerateEmbedding(ctx, text)
			if err != nil {
				return nil, err
			}
			out = append(out, vec)
		}
	}
	return out, nil
}
