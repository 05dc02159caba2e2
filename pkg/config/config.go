package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in the providers section. Selection happens once at
// startup; everything downstream works against interfaces.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
)

// Store backend names.
const (
	StoreQdrant   = "qdrant"
	StorePGVector = "pgvector"
	StoreMemory   = "memory"
)

type ProvidersConfig struct {
	LLM       string `yaml:"llm"`
	Embedding string `yaml:"embedding"`
}

type LLMConfig struct {
	OllamaBaseURL  string        `yaml:"ollama_base_url"`
	OllamaModel    string        `yaml:"ollama_model"`
	OpenAIModel    string        `yaml:"openai_model"`
	GoogleModel    string        `yaml:"google_model"`
	AnthropicModel string        `yaml:"anthropic_model"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	Timeout        time.Duration `yaml:"timeout"`

	// API keys come from the environment only, never from the config file.
	OpenAIAPIKey    string `yaml:"-"`
	GoogleAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
}

type EmbeddingConfig struct {
	OllamaModel string        `yaml:"ollama_model"`
	OpenAIModel string        `yaml:"openai_model"`
	GoogleModel string        `yaml:"google_model"`
	Dimension   int           `yaml:"dimension"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"` // embedding calls per second
}

type StoreConfig struct {
	Provider   string        `yaml:"provider"`
	Collection string        `yaml:"collection"`
	PageSize   int           `yaml:"page_size"`
	Timeout    time.Duration `yaml:"timeout"`

	QdrantURL    string `yaml:"qdrant_url"`
	QdrantAPIKey string `yaml:"-"`

	DatabaseURL string `yaml:"database_url"`
	TableName   string `yaml:"table_name"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type JobsConfig struct {
	DataDir     string  `yaml:"data_dir"`
	MaxAttempts int     `yaml:"max_attempts"`
	Throttle    float64 `yaml:"throttle"` // job starts per second per kind
}

type WebloaderConfig struct {
	MaxDepth  int     `yaml:"max_depth"`
	RateLimit float64 `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port       string `yaml:"port"`
	UploadsDir string `yaml:"uploads_dir"`
	TopK       int    `yaml:"top_k"`
}

type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Processor ProcessorConfig `yaml:"processor"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Webloader WebloaderConfig `yaml:"webloader"`
	Server    ServerConfig    `yaml:"server"`
}

// LoadConfig reads the YAML config at path, falling back to the default
// locations when path is empty, then merges environment variables on top and
// fills remaining defaults. A missing file is not an error: the environment
// plus defaults is a complete configuration.
func LoadConfig(path string) (*Config, error) {
	// Best effort; a missing .env file is fine.
	_ = godotenv.Load()

	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/ragpdf/config.yaml"),
			"/etc/ragpdf/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %v", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %v", err)
		}
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

// EmbeddingDimension returns the configured dimension, falling back to the
// selected provider's default model dimension when unset.
func (c *Config) EmbeddingDimension() int {
	if c.Embedding.Dimension > 0 {
		return c.Embedding.Dimension
	}
	switch c.Providers.Embedding {
	case ProviderOllama:
		return 768 // embeddinggemma
	case ProviderOpenAI:
		return 3072 // text-embedding-3-large
	case ProviderGoogle:
		return 768 // embedding-001
	default:
		return 0
	}
}

func applyDefaults(config *Config) {
	if config.Providers.LLM == "" {
		config.Providers.LLM = ProviderOpenAI
	}
	if config.Providers.Embedding == "" {
		config.Providers.Embedding = ProviderOpenAI
	}

	if config.LLM.OllamaBaseURL == "" {
		config.LLM.OllamaBaseURL = "http://localhost:11434"
	}
	if config.LLM.OllamaModel == "" {
		config.LLM.OllamaModel = "llama3:8b"
	}
	if config.LLM.OpenAIModel == "" {
		config.LLM.OpenAIModel = "gpt-4o-mini"
	}
	if config.LLM.GoogleModel == "" {
		config.LLM.GoogleModel = "gemini-pro"
	}
	if config.LLM.AnthropicModel == "" {
		config.LLM.AnthropicModel = "claude-3-5-sonnet-20241022"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.Timeout == 0 {
		// Local models can take minutes on a long context.
		config.LLM.Timeout = 240 * time.Second
	}

	if config.Embedding.OllamaModel == "" {
		config.Embedding.OllamaModel = "embeddinggemma:latest"
	}
	if config.Embedding.OpenAIModel == "" {
		config.Embedding.OpenAIModel = "text-embedding-3-large"
	}
	if config.Embedding.GoogleModel == "" {
		config.Embedding.GoogleModel = "models/embedding-001"
	}
	if config.Embedding.Timeout == 0 {
		config.Embedding.Timeout = 60 * time.Second
	}
	if config.Embedding.RateLimit == 0 {
		config.Embedding.RateLimit = 5
	}

	if config.Store.Provider == "" {
		config.Store.Provider = StoreQdrant
	}
	if config.Store.Collection == "" {
		config.Store.Collection = "docs"
	}
	if config.Store.PageSize == 0 {
		config.Store.PageSize = 1000
	}
	if config.Store.Timeout == 0 {
		config.Store.Timeout = 30 * time.Second
	}
	if config.Store.QdrantURL == "" {
		config.Store.QdrantURL = "http://localhost:6333"
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "points"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}

	if config.Jobs.DataDir == "" {
		config.Jobs.DataDir = "data"
	}
	if config.Jobs.MaxAttempts == 0 {
		config.Jobs.MaxAttempts = 3
	}
	if config.Jobs.Throttle == 0 {
		config.Jobs.Throttle = 2
	}

	if config.Webloader.MaxDepth == 0 {
		config.Webloader.MaxDepth = 1
	}
	if config.Webloader.RateLimit == 0 {
		config.Webloader.RateLimit = 2.0
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if config.Server.UploadsDir == "" {
		config.Server.UploadsDir = "uploads"
	}
	if config.Server.TopK == 0 {
		config.Server.TopK = 5
	}
}

func mergeWithEnv(config *Config) {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		config.Providers.LLM = v
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		config.Providers.Embedding = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		config.LLM.OllamaBaseURL = v
	}
	if v := os.Getenv("OLLAMA_LLM_MODEL"); v != "" {
		config.LLM.OllamaModel = v
	}
	if v := os.Getenv("OLLAMA_EMBEDDING_MODEL"); v != "" {
		config.Embedding.OllamaModel = v
	}
	if v := os.Getenv("OPENAI_LLM_MODEL"); v != "" {
		config.LLM.OpenAIModel = v
	}
	if v := os.Getenv("OPENAI_EMBEDDING_MODEL"); v != "" {
		config.Embedding.OpenAIModel = v
	}
	if v := os.Getenv("GOOGLE_LLM_MODEL"); v != "" {
		config.LLM.GoogleModel = v
	}
	if v := os.Getenv("GOOGLE_EMBEDDING_MODEL"); v != "" {
		config.Embedding.GoogleModel = v
	}
	if v := os.Getenv("ANTHROPIC_LLM_MODEL"); v != "" {
		config.LLM.AnthropicModel = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		fmt.Sscanf(v, "%d", &config.Embedding.Dimension)
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		config.Store.QdrantURL = v
	}
	if v := os.Getenv("QDRANT_COLLECTION"); v != "" {
		config.Store.Collection = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Store.DatabaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		config.Server.Port = v
	}

	config.LLM.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	config.LLM.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	config.LLM.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	config.Store.QdrantAPIKey = os.Getenv("QDRANT_API_KEY")
}
