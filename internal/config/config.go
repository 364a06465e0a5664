package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"medical-qa-rag/internal/models"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	StoreChromem  = "chromem"
	StorePGVector = "pgvector"

	DriverPG = "pgdriver"
	DriverPQ = "postgres"
)

type Config struct {
	ChatLLM    LLMConfig       `yaml:"chat_llm"`
	EmbedLLM   LLMConfig       `yaml:"embed_llm"`
	RAG        RAGConfig       `yaml:"rag"`
	Prompts    PromptConfig    `yaml:"prompts"`
	Database   DatabaseConfig  `yaml:"database"`
	Redis      RedisConfig     `yaml:"redis"`
	Server     ServerConfig    `yaml:"server"`
	Log        LogConfig       `yaml:"log"`
	References []ReferenceLink `yaml:"references"`
}

// LLMConfig describes one model endpoint. The chat model and the embedding
// model are configured separately so they can live on different providers.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
	Dimension int    `yaml:"dimension"`
}

type RAGConfig struct {
	Documents           []string `yaml:"documents"`
	IndexDir            string   `yaml:"index_dir"`
	Store               string   `yaml:"store"`
	ChunkSize           int      `yaml:"chunk_size"`
	ChunkOverlap        int      `yaml:"chunk_overlap"`
	TopK                int      `yaml:"top_k"`
	TranslateQuery      bool     `yaml:"translate_query"`
	ContextualizeChunks bool     `yaml:"contextualize_chunks"`
	EncryptionKey       string   `yaml:"encryption_key"`
	Workers             int      `yaml:"workers"`
	WatchDebounce       Duration `yaml:"watch_debounce"`
}

type PromptConfig struct {
	Contextualize string `yaml:"contextualize"`
	QA            string `yaml:"qa"`
	Translate     string `yaml:"translate"`
	Greeting      string `yaml:"greeting"`
}

type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

type RedisConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addr      string   `yaml:"addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	TTL       Duration `yaml:"ttl"`
	KeyPrefix string   `yaml:"key_prefix"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// LogConfig selects the zerolog level. Output is the console writer unless
// JSON is set.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ReferenceLink struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Duration decodes yaml strings such as "90s" or "1h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LoadConfig reads .env (if any), the yaml file at path, environment
// overrides and defaults, in that order.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default filled in. It is what
// LoadConfig produces for an empty file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.ChatLLM.Key == "" {
			cfg.ChatLLM.Key = key
		}
		if cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = key
		}
	}
	if key := os.Getenv("MEDQA_ENCRYPTION_KEY"); key != "" {
		cfg.RAG.EncryptionKey = key
	}
	if dsn := os.Getenv("MEDQA_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if addr := os.Getenv("MEDQA_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
}

func applyDefaults(cfg *Config) {
	applyLLMDefaults(&cfg.ChatLLM, "gpt-4o-mini")
	applyLLMDefaults(&cfg.EmbedLLM, "text-embedding-3-small")
	if cfg.EmbedLLM.BatchSize == 0 {
		cfg.EmbedLLM.BatchSize = 256
	}
	if cfg.EmbedLLM.Dimension == 0 {
		cfg.EmbedLLM.Dimension = 1536
	}

	if len(cfg.RAG.Documents) == 0 {
		cfg.RAG.Documents = []string{"./who.pdf"}
	}
	if cfg.RAG.IndexDir == "" {
		cfg.RAG.IndexDir = "./vector_index"
	}
	if cfg.RAG.Store == "" {
		cfg.RAG.Store = StoreChromem
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 100
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 4
	}
	if cfg.RAG.Workers == 0 {
		cfg.RAG.Workers = 4
	}
	if cfg.RAG.WatchDebounce.Duration == 0 {
		cfg.RAG.WatchDebounce.Duration = 2 * time.Second
	}

	if cfg.Prompts.Contextualize == "" {
		cfg.Prompts.Contextualize = models.ContextualizePrompt
	}
	if cfg.Prompts.QA == "" {
		cfg.Prompts.QA = models.QAPrompt
	}
	if cfg.Prompts.Translate == "" {
		cfg.Prompts.Translate = models.TranslatePrompt
	}
	if cfg.Prompts.Greeting == "" {
		cfg.Prompts.Greeting = models.Greeting
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPG
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.TTL.Duration == 0 {
		cfg.Redis.TTL.Duration = time.Hour
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "medqa:answer:"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout.Duration == 0 {
		cfg.Server.ReadTimeout.Duration = 15 * time.Second
	}
	if cfg.Server.WriteTimeout.Duration == 0 {
		cfg.Server.WriteTimeout.Duration = 300 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if len(cfg.References) == 0 {
		cfg.References = defaultReferences()
	}
}

func applyLLMDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case ProviderOllama:
			c.BaseURL = "http://localhost:11434"
		default:
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
}

// Validate reports every inconsistency found in c.
func (c *Config) Validate() error {
	var errs []error
	for name, l := range map[string]LLMConfig{"chat_llm": c.ChatLLM, "embed_llm": c.EmbedLLM} {
		if l.Provider != ProviderOpenAI && l.Provider != ProviderOllama {
			errs = append(errs, fmt.Errorf("%s: unknown provider %q", name, l.Provider))
		}
	}
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize))
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK))
	}
	if c.RAG.Store != StoreChromem && c.RAG.Store != StorePGVector {
		errs = append(errs, fmt.Errorf("rag.store: unknown store %q", c.RAG.Store))
	}
	if c.RAG.Store == StorePGVector && c.Database.DSN == "" {
		errs = append(errs, errors.New("rag.store pgvector requires database.dsn"))
	}
	if c.RAG.EncryptionKey != "" && len(c.RAG.EncryptionKey) != 32 {
		errs = append(errs, fmt.Errorf("rag.encryption_key must be 32 bytes, got %d", len(c.RAG.EncryptionKey)))
	}
	if c.Database.Driver != DriverPG && c.Database.Driver != DriverPQ {
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

// BearerKey returns the key without a leading "Bearer " prefix.
func (l *LLMConfig) BearerKey() string {
	return strings.TrimPrefix(l.Key, "Bearer ")
}

func defaultReferences() []ReferenceLink {
	return []ReferenceLink{
		{Name: "WHO model formulary 2008", URL: "https://iris.who.int/handle/10665/44053/"},
		{Name: "Basic principles of Korean medical terminology", URL: "https://www.kamje.or.kr/"},
	}
}
