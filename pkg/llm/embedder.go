package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/harlee/ragpdf/pkg/config"
)

// EmbeddingProvider turns text into vectors. Implementations issue network
// calls that may take seconds; callers own batching and must not hold
// exclusive resources across a call.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, same order and length as the
	// input. Errors are classified (ErrAuthentication, ErrModelUnavailable,
	// ErrTransient, ErrMalformedResponse).
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the vector length produced by the configured model,
	// constant for the provider's lifetime.
	Dimension() int
}

// NewEmbedder selects the embedding provider variant once at configuration
// time. Everything downstream depends only on the interface.
func NewEmbedder(ctx context.Context, cfg *config.Config) (EmbeddingProvider, error) {
	dim := cfg.EmbeddingDimension()

	switch cfg.Providers.Embedding {
	case config.ProviderOllama:
		return NewOllamaEmbedder(OllamaEmbedderConfig{
			BaseURL:   cfg.LLM.OllamaBaseURL,
			Model:     cfg.Embedding.OllamaModel,
			Dimension: dim,
			Timeout:   cfg.Embedding.Timeout,
		}), nil

	case config.ProviderOpenAI:
		client, err := openai.New(
			openai.WithToken(cfg.LLM.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.Embedding.OpenAIModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		return &openaiEmbedder{client: client, dimension: dim}, nil

	case config.ProviderGoogle:
		client, err := googleai.New(ctx,
			googleai.WithAPIKey(cfg.LLM.GoogleAPIKey),
			googleai.WithDefaultEmbeddingModel(cfg.Embedding.GoogleModel),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google embedder: %w", err)
		}
		return &googleEmbedder{client: client, dimension: dim}, nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Providers.Embedding)
	}
}

type openaiEmbedder struct {
	client    *openai.LLM
	dimension int
}

func (e *openaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.client.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", classifyErr(err))
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("openai embedding: got %d vectors for %d texts: %w",
			len(vecs), len(texts), ErrMalformedResponse)
	}
	return vecs, nil
}

func (e *openaiEmbedder) Dimension() int { return e.dimension }

type googleEmbedder struct {
	client    *googleai.GoogleAI
	dimension int
}

func (e *googleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.client.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("google embedding: %w", classifyErr(err))
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("google embedding: got %d vectors for %d texts: %w",
			len(vecs), len(texts), ErrMalformedResponse)
	}
	return vecs, nil
}

func (e *googleEmbedder) Dimension() int { return e.dimension }
