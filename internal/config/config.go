// Package config собирает настройки из .env, окружения и (опционально)
// YAML-файла FINBOT_CONFIG. Окружение всегда главнее файла.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`

	AI    AIConfig    `yaml:"ai"`
	Store StoreConfig `yaml:"store"`
}

type AIConfig struct {
	Provider    string        `yaml:"provider"` // openai | http | mock | none
	OpenAIKey   string        `yaml:"openai_api_key"`
	OpenAIURL   string        `yaml:"openai_base_url"`
	Model       string        `yaml:"model"`
	HTTPURL     string        `yaml:"http_url"`
	HTTPToken   string        `yaml:"http_token"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float32       `yaml:"temperature"`
	SettleDelay time.Duration `yaml:"-"`
	SettleRaw   string        `yaml:"settle_delay"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"` // bolt | postgres | sqlite | memory
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
	Key         string `yaml:"key"`
}

func defaults() *Config {
	return &Config{
		Port:        "8080",
		CORSOrigins: []string{"*"},
		AI: AIConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   800,
			Temperature: 0.7,
			SettleDelay: time.Second,
		},
		Store: StoreConfig{
			Backend: "bolt",
			Path:    "finbot.db",
			Key:     "finbot-messages",
		},
	}
}

// Load reads .env (if any), the optional YAML file and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("FINBOT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(m string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(m)[1])
	})

	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if c.AI.SettleRaw != "" {
		d, err := time.ParseDuration(c.AI.SettleRaw)
		if err != nil {
			return fmt.Errorf("invalid ai.settle_delay: %w", err)
		}
		c.AI.SettleDelay = d
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Port = getEnv("PORT", c.Port)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	c.AI.Provider = strings.ToLower(getEnv("AI_PROVIDER", c.AI.Provider))
	c.AI.OpenAIKey = getEnv("OPENAI_API_KEY", c.AI.OpenAIKey)
	c.AI.OpenAIURL = getEnv("OPENAI_BASE_URL", c.AI.OpenAIURL)
	c.AI.Model = getEnv("OPENAI_MODEL", c.AI.Model)
	c.AI.HTTPURL = getEnv("AI_HTTP_URL", c.AI.HTTPURL)
	c.AI.HTTPToken = getEnv("AI_HTTP_TOKEN", c.AI.HTTPToken)

	if v := os.Getenv("AI_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AI_MAX_TOKENS: %w", err)
		}
		c.AI.MaxTokens = n
	}
	if v := os.Getenv("AI_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("AI_TEMPERATURE: %w", err)
		}
		c.AI.Temperature = float32(f)
	}
	if v := os.Getenv("AI_SETTLE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AI_SETTLE_DELAY: %w", err)
		}
		c.AI.SettleDelay = d
	}

	c.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", c.Store.Backend))
	c.Store.Path = getEnv("STORE_PATH", c.Store.Path)
	c.Store.DatabaseURL = getEnv("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.Key = getEnv("STORE_KEY", c.Store.Key)
	return nil
}

func (c *Config) validate() error {
	switch c.AI.Provider {
	case "openai", "http", "mock", "none":
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AI.Provider)
	}

	switch c.Store.Backend {
	case "bolt", "sqlite", "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is not set")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	if c.AI.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.AI.MaxTokens)
	}
	if c.AI.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
