package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validLLMProviders = map[string]bool{
	ProviderOllama:    true,
	ProviderOpenAI:    true,
	ProviderGoogle:    true,
	ProviderAnthropic: true,
}

var validEmbeddingProviders = map[string]bool{
	ProviderOllama: true,
	ProviderOpenAI: true,
	ProviderGoogle: true,
}

var validStoreProviders = map[string]bool{
	StoreQdrant:   true,
	StorePGVector: true,
	StoreMemory:   true,
}

// Validate checks the configuration for startup-time errors. Anything
// reported here must abort startup; no validation happens again at request
// time.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if !validLLMProviders[c.Providers.LLM] {
		errors = append(errors, ValidationError{
			Field:   "providers.llm",
			Message: fmt.Sprintf("unsupported LLM provider: %s", c.Providers.LLM),
		})
	}

	if !validEmbeddingProviders[c.Providers.Embedding] {
		errors = append(errors, ValidationError{
			Field:   "providers.embedding",
			Message: fmt.Sprintf("unsupported embedding provider: %s", c.Providers.Embedding),
		})
	}

	// Hosted providers need their key before any request runs.
	if c.Providers.LLM == ProviderOpenAI && c.LLM.OpenAIAPIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "llm",
			Message: "OPENAI_API_KEY is required when providers.llm is openai",
		})
	}
	if c.Providers.LLM == ProviderGoogle && c.LLM.GoogleAPIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "llm",
			Message: "GOOGLE_API_KEY is required when providers.llm is google",
		})
	}
	if c.Providers.LLM == ProviderAnthropic && c.LLM.AnthropicAPIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "llm",
			Message: "ANTHROPIC_API_KEY is required when providers.llm is anthropic",
		})
	}
	if c.Providers.Embedding == ProviderOpenAI && c.LLM.OpenAIAPIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding",
			Message: "OPENAI_API_KEY is required when providers.embedding is openai",
		})
	}
	if c.Providers.Embedding == ProviderGoogle && c.LLM.GoogleAPIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding",
			Message: "GOOGLE_API_KEY is required when providers.embedding is google",
		})
	}

	if c.LLM.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be positive",
		})
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}
	if _, err := url.Parse(c.LLM.OllamaBaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "llm.ollama_base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.EmbeddingDimension() < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dimension",
			Message: "dimension must be positive",
		})
	}

	if !validStoreProviders[c.Store.Provider] {
		errors = append(errors, ValidationError{
			Field:   "store.provider",
			Message: fmt.Sprintf("unsupported store provider: %s", c.Store.Provider),
		})
	}
	if c.Store.Provider == StoreQdrant && c.Store.QdrantURL == "" {
		errors = append(errors, ValidationError{
			Field:   "store.qdrant_url",
			Message: "Qdrant URL is required",
		})
	}
	if c.Store.Provider == StorePGVector && c.Store.DatabaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "store.database_url",
			Message: "DATABASE_URL is required when store.provider is pgvector",
		})
	}
	if c.Store.PageSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.page_size",
			Message: "page_size must be positive",
		})
	}

	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}
	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	return errors
}
