package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/harlee/ragpdf/pkg/config"
)

// SystemPrompt pins the model to the retrieved context. Paired with the
// assembler's instruction block it is the grounding contract for answers.
const SystemPrompt = "You answer questions using only the provided context."

// ChatEngine generates answers with the configured LLM backend. The backend
// variant is chosen once at construction; callers only see llms.Model
// semantics plus the configured generation limits.
type ChatEngine struct {
	llm         llms.Model
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// NewChatEngine builds the chat backend named by cfg.Providers.LLM.
func NewChatEngine(ctx context.Context, cfg *config.Config) (*ChatEngine, error) {
	var (
		model llms.Model
		err   error
	)

	switch cfg.Providers.LLM {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLM.OllamaModel),
			ollama.WithServerURL(cfg.LLM.OllamaBaseURL),
		)
	case config.ProviderOpenAI:
		model, err = openai.New(
			openai.WithToken(cfg.LLM.OpenAIAPIKey),
			openai.WithModel(cfg.LLM.OpenAIModel),
		)
	case config.ProviderGoogle:
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.LLM.GoogleAPIKey),
			googleai.WithDefaultModel(cfg.LLM.GoogleModel),
		)
	case config.ProviderAnthropic:
		model, err = anthropic.New(
			anthropic.WithToken(cfg.LLM.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLM.AnthropicModel),
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Providers.LLM)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		llm:         model,
		maxTokens:   cfg.LLM.MaxTokens,
		temperature: cfg.LLM.Temperature,
		timeout:     cfg.LLM.Timeout,
	}, nil
}

// Generate produces one complete answer for the given user prompt.
func (ce *ChatEngine) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ce.timeout)
	defer cancel()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithMaxTokens(ce.maxTokens),
		llms.WithTemperature(ce.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", classifyErr(err))
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("chat error: empty response: %w", ErrMalformedResponse)
	}

	return response.Choices[0].Content, nil
}

// GenerateStream produces the answer incrementally on the returned channel.
// The channel is closed when the generation finishes; a trailing error, if
// any, is delivered on the error channel.
func (ce *ChatEngine) GenerateStream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		ctx, cancel := context.WithTimeout(ctx, ce.timeout)
		defer cancel()

		content := []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		}

		_, err := ce.llm.GenerateContent(ctx, content,
			llms.WithMaxTokens(ce.maxTokens),
			llms.WithTemperature(ce.temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case chunks <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			errc <- fmt.Errorf("chat error: %w", classifyErr(err))
		}
	}()

	return chunks, errc
}
