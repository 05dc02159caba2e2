package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ollamaEmbedFields is the documented two-attempt fallback for the Ollama
// embed endpoint: newer servers take "input", older ones take "prompt" and
// answer 404 to the former. The order is part of the contract.
var ollamaEmbedFields = [2]string{"input", "prompt"}

type OllamaEmbedderConfig struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// OllamaEmbedder talks to a local Ollama server. It embeds one text per
// request; the /api/embed endpoint has no reliable batch form across server
// versions.
type OllamaEmbedder struct {
	config OllamaEmbedderConfig
	client *http.Client
}

func NewOllamaEmbedder(config OllamaEmbedderConfig) *OllamaEmbedder {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "embeddinggemma:latest"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &OllamaEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (e *OllamaEmbedder) Dimension() int { return e.config.Dimension }

func (e *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for _, field := range ollamaEmbedFields {
		vec, retryable, err := e.tryField(ctx, field, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("ollama embedding: model %q failed with both request formats: %w",
		e.config.Model, lastErr)
}

// tryField issues one embed request using the given request field. The
// second return value reports whether the next field name is worth trying:
// only a 404 or an OK response without an embedding qualifies.
func (e *OllamaEmbedder) tryField(ctx context.Context, field, text string) ([]float32, bool, error) {
	body, _ := json.Marshal(map[string]string{
		"model": e.config.Model,
		field:   text,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.config.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("ollama embedding: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("ollama embedding: cannot reach %s: %w",
			e.config.BaseURL, classifyErr(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, true, fmt.Errorf("ollama embedding: HTTP 404 with field %q: %s: %w",
			field, detail, ErrModelUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		err := fmt.Errorf("ollama embedding: HTTP %d: %s", resp.StatusCode, detail)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, false, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		if resp.StatusCode >= 500 {
			return nil, false, fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return nil, false, err
	}

	var result struct {
		Embeddings [][]float32 `json:"embeddings"`
		Embedding  []float32   `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, fmt.Errorf("ollama embedding: %w: %w", ErrMalformedResponse, err)
	}

	// Current servers return "embeddings" (plural, one row per input);
	// older ones return a single "embedding".
	if len(result.Embeddings) > 0 && len(result.Embeddings[0]) > 0 {
		return result.Embeddings[0], false, nil
	}
	if len(result.Embedding) > 0 {
		return result.Embedding, false, nil
	}

	return nil, true, fmt.Errorf("ollama embedding: OK response without embedding (field %q, model %q): %w",
		field, e.config.Model, ErrMalformedResponse)
}
