package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel          = "llama-3.3-70b-versatile"
	DefaultBaseURL        = "https://api.groq.com/openai/v1"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultMaxTokens      = 2048
	DefaultTemperature    = 0.7
	DefaultMaxToolRounds  = 6
	DefaultLLMTimeoutMs   = 30000
	DefaultEmbedTimeoutMs = 10000
	DefaultToolTimeoutMs  = 15000
	DefaultRetrieveK      = 3
	DefaultDedupThreshold = 0.5
	DefaultBufSize        = 100
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Memory   MemoryConfig   `json:"memory"`
	Profile  ProfileConfig  `json:"profile"`
	Channels ChannelsConfig `json:"channels"`
	Tools    ToolsConfig    `json:"tools"`
}

type AgentConfig struct {
	Persona       string  `json:"persona"`
	Model         string  `json:"model"`
	MaxTokens     int     `json:"maxTokens"`
	Temperature   float64 `json:"temperature"`
	MaxToolRounds int     `json:"maxToolRounds"`
	LLMTimeoutMs  int     `json:"llmTimeoutMs,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type MemoryConfig struct {
	DBPath         string          `json:"dbPath,omitempty"`
	RetrieveK      int             `json:"retrieveK,omitempty"`
	DedupThreshold float64         `json:"dedupThreshold,omitempty"`
	Embedding      EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Model     string `json:"model,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type ProfileConfig struct {
	Path string `json:"path,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled    bool     `json:"enabled"`
	Token      string   `json:"token"`
	AllowFrom  []string `json:"allowFrom"`
	StickerSet string   `json:"stickerSet,omitempty"`
	Proxy      string   `json:"proxy,omitempty"`
}

type ToolsConfig struct {
	BraveAPIKey   string `json:"braveApiKey,omitempty"`
	ToolTimeoutMs int    `json:"toolTimeoutMs,omitempty"`
}

const defaultPersona = "You are Yui, a graceful anime girl with a lively, warm, and expressive personality. " +
	"Always stay in character as a caring and imaginative heroine, blending charm, humor, and empathy in your responses."

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Persona:       defaultPersona,
			Model:         DefaultModel,
			MaxTokens:     DefaultMaxTokens,
			Temperature:   DefaultTemperature,
			MaxToolRounds: DefaultMaxToolRounds,
			LLMTimeoutMs:  DefaultLLMTimeoutMs,
		},
		Provider: ProviderConfig{
			BaseURL: DefaultBaseURL,
		},
		Memory: MemoryConfig{
			RetrieveK:      DefaultRetrieveK,
			DedupThreshold: DefaultDedupThreshold,
			Embedding: EmbeddingConfig{
				Model:     DefaultEmbeddingModel,
				TimeoutMs: DefaultEmbedTimeoutMs,
			},
		},
		Channels: ChannelsConfig{},
		Tools: ToolsConfig{
			ToolTimeoutMs: DefaultToolTimeoutMs,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".yui")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("YUI_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("YUI_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("YUI_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if model := os.Getenv("YUI_MODEL"); model != "" {
		cfg.Agent.Model = model
	}
	if model := os.Getenv("YUI_EMBEDDING_MODEL"); model != "" {
		cfg.Memory.Embedding.Model = model
	}
	if url := os.Getenv("YUI_EMBEDDING_BASE_URL"); url != "" {
		cfg.Memory.Embedding.BaseURL = url
	}
	if key := os.Getenv("YUI_EMBEDDING_API_KEY"); key != "" {
		cfg.Memory.Embedding.APIKey = key
	}
	if dbPath := os.Getenv("YUI_MEMORY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if path := os.Getenv("YUI_PROFILE_PATH"); path != "" {
		cfg.Profile.Path = path
	}
	if key := os.Getenv("YUI_BRAVE_API_KEY"); key != "" {
		cfg.Tools.BraveAPIKey = key
	}
	if k := os.Getenv("YUI_MEMORY_RETRIEVE_K"); k != "" {
		if parsed, err := strconv.Atoi(k); err == nil {
			cfg.Memory.RetrieveK = parsed
		}
	}
	if threshold := os.Getenv("YUI_MEMORY_DEDUP_THRESHOLD"); threshold != "" {
		if parsed, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.Memory.DedupThreshold = parsed
		}
	}

	applyFallbacks(cfg)
	return cfg, nil
}

func applyFallbacks(cfg *Config) {
	if cfg.Agent.Persona == "" {
		cfg.Agent.Persona = defaultPersona
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.MaxToolRounds <= 0 {
		cfg.Agent.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Agent.LLMTimeoutMs <= 0 {
		cfg.Agent.LLMTimeoutMs = DefaultLLMTimeoutMs
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL
	}
	if cfg.Memory.RetrieveK <= 0 {
		cfg.Memory.RetrieveK = DefaultRetrieveK
	}
	if cfg.Memory.DedupThreshold <= 0 {
		cfg.Memory.DedupThreshold = DefaultDedupThreshold
	}
	if cfg.Memory.Embedding.Model == "" {
		cfg.Memory.Embedding.Model = DefaultEmbeddingModel
	}
	if cfg.Memory.Embedding.TimeoutMs <= 0 {
		cfg.Memory.Embedding.TimeoutMs = DefaultEmbedTimeoutMs
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(ConfigDir(), "data", "memory.db")
	}
	if cfg.Profile.Path == "" {
		cfg.Profile.Path = filepath.Join(ConfigDir(), "data", "profile.json")
	}
	if cfg.Tools.ToolTimeoutMs <= 0 {
		cfg.Tools.ToolTimeoutMs = DefaultToolTimeoutMs
	}
}

// Validate reports configuration errors that must prevent the gateway
// from serving turns at all. Per-call failures degrade downstream instead.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api key not set; run 'yui onboard' or set YUI_API_KEY / GROQ_API_KEY")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram channel enabled but token not set; set YUI_TELEGRAM_TOKEN")
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
