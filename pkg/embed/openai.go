package embed

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAI embeds text with the OpenAI embeddings API.
type OpenAI struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAI creates an OpenAI embedder. Empty Model and Dimensions default to
// text-embedding-3-small at 1536 dimensions.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		dims:   cfg.Dimensions,
	}
}

// Embed implements Embedder.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dims,
	})
	if err != nil {
		return nil, unavailable("openai embeddings", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, unavailable("openai embeddings", errEmptyVector)
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions implements Embedder.
func (o *OpenAI) Dimensions() int { return o.dims }
