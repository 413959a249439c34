package config

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pdfchat/internal/models"
)

type Config struct {
	LogLevel    string            `yaml:"log_level"`
	RAG         RAGConfig         `yaml:"rag"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	ChatLLM     LLMConfig         `yaml:"chat_llm"`
	Generation  GenerationConfig  `yaml:"generation"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	History     HistoryConfig     `yaml:"history"`
}

// RAGConfig holds the retrieval parameters.
type RAGConfig struct {
	TopK           int      `yaml:"top_k"`
	ChunkSize      int      `yaml:"chunk_size"`
	ChunkOverlap   int      `yaml:"chunk_overlap"`
	Separators     []string `yaml:"separators"`
	Tokenizer      string   `yaml:"tokenizer"`
	Encoding       string   `yaml:"encoding"`
	PassagePrefix  string   `yaml:"passage_prefix"`
	QueryPrefix    string   `yaml:"query_prefix"`
	PromptTemplate string   `yaml:"prompt_template"`
}

// LLMConfig describes how to reach a model server.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type GenerationConfig struct {
	MaxNewTokens      int     `yaml:"max_new_tokens"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
	Temperature       float64 `yaml:"temperature"`
	StreamBuffer      int     `yaml:"stream_buffer"`
}

type VectorStoreConfig struct {
	Type           string `yaml:"type"`
	Path           string `yaml:"path"`
	Collection     string `yaml:"collection"`
	InMemory       bool   `yaml:"in_memory"`
	Compress       bool   `yaml:"compress"`
	EncryptionKey  string `yaml:"encryption_key"`
	ExportFilePath string `yaml:"export_file_path"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	Driver    string `yaml:"driver"`
	Table     string `yaml:"table"`
	Dimension int    `yaml:"dimension"`
	Debug     bool   `yaml:"debug"`
}

type HistoryConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// Default returns the configuration the application ships with.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		RAG: RAGConfig{
			TopK:           models.DefaultTopK,
			ChunkSize:      models.DefaultChunkSize,
			ChunkOverlap:   models.DefaultChunkOverlap,
			Separators:     append([]string(nil), models.DefaultSeparators...),
			Tokenizer:      models.TokenizerTiktoken,
			Encoding:       models.DefaultEncoding,
			PassagePrefix:  models.PassagePrefix,
			QueryPrefix:    models.QueryPrefix,
			PromptTemplate: models.PromptTemplate,
		},
		EmbedLLM: LLMConfig{
			Provider: models.ProviderOpenAI,
			BaseURL:  "http://localhost:8080/v1",
			Model:    models.DefaultEmbedModel,
		},
		ChatLLM: LLMConfig{
			Provider: models.ProviderOpenAI,
			BaseURL:  "http://localhost:8000/v1",
			Model:    models.DefaultChatModel,
		},
		Generation: GenerationConfig{
			MaxNewTokens:      models.DefaultMaxNewTokens,
			RepetitionPenalty: models.DefaultRepetitionPenalty,
			Temperature:       0,
			StreamBuffer:      models.DefaultStreamBuffer,
		},
		VectorStore: VectorStoreConfig{
			Type:       models.StoreFlat,
			Path:       "./chromemdb",
			Collection: "pdf_segments",
			InMemory:   true,
		},
		Database: DatabaseConfig{
			Driver:    "pgdriver",
			Table:     "segments",
			Dimension: models.DefaultDimension,
		},
		History: HistoryConfig{
			Type: "memory",
			Path: "./data/history.db",
		},
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = def.RAG.ChunkSize
	}
	if cfg.RAG.ChunkOverlap < 0 || cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		cfg.RAG.ChunkOverlap = min(def.RAG.ChunkOverlap, cfg.RAG.ChunkSize-1)
	}
	if len(cfg.RAG.Separators) == 0 {
		cfg.RAG.Separators = def.RAG.Separators
	}
	if cfg.RAG.Tokenizer == "" {
		cfg.RAG.Tokenizer = def.RAG.Tokenizer
	}
	if cfg.RAG.PromptTemplate == "" {
		cfg.RAG.PromptTemplate = def.RAG.PromptTemplate
	}
	if cfg.Generation.MaxNewTokens <= 0 {
		cfg.Generation.MaxNewTokens = def.Generation.MaxNewTokens
	}
	if cfg.Generation.RepetitionPenalty == 0 {
		cfg.Generation.RepetitionPenalty = def.Generation.RepetitionPenalty
	}
	if cfg.Generation.StreamBuffer <= 0 {
		cfg.Generation.StreamBuffer = def.Generation.StreamBuffer
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = def.VectorStore.Type
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = def.VectorStore.Collection
	}
	if cfg.Database.Table == "" {
		cfg.Database.Table = def.Database.Table
	}
	if cfg.Database.Dimension <= 0 {
		cfg.Database.Dimension = def.Database.Dimension
	}
	if cfg.History.Type == "" {
		cfg.History.Type = def.History.Type
	}
}

// applyEnv lets secrets live outside the YAML file.
func applyEnv(cfg *Config) {
	if cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.ChatLLM.Key == "" {
		cfg.ChatLLM.Key = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if v := strings.TrimSpace(os.Getenv("PDFCHAT_DATABASE_URL")); v != "" {
		cfg.Database.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("PDFCHAT_ENCRYPTION_KEY")); v != "" {
		cfg.VectorStore.EncryptionKey = v
	}
}
