package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/funnel-agent/pkg/clickhouse"
	"github.com/malbeclabs/funnel-agent/pkg/pinot"
)

// Provider is the reasoning service backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// Engine is the analytics database backend.
type Engine string

const (
	EnginePinot      Engine = "pinot"
	EngineClickHouse Engine = "clickhouse"
)

const (
	DefaultTopK            = 3
	DefaultMaxOutputTokens = 4096
	DefaultOllamaURL       = "http://localhost:11434"
)

var defaultModels = map[Provider]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-haiku-4-5-20251001",
	ProviderOllama:    "llama3.1",
}

// Config holds the startup configuration of the agent.
type Config struct {
	// LLM configuration
	Provider        Provider
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaURL       string
	MaxOutputTokens int

	// Database configuration
	Engine     Engine
	Pinot      pinot.Config
	ClickHouse clickhouse.Config

	// Prompt configuration
	Dialect        string
	TopK           int
	PromptTemplate string
	MaxRounds      int
}

// Flags are command line values that take precedence over the environment.
// Zero values are unset.
type Flags struct {
	Provider       string
	Model          string
	Engine         string
	Dialect        string
	TopK           int
	PromptTemplate string
	MaxRounds      int
}

// LoadFromEnv loads configuration from the process environment and the
// optional env file, then applies flags. Variables already set in the
// environment win over the file. A missing env file is not an error.
func LoadFromEnv(envFile string, flags Flags) (*Config, error) {
	fileEnv := map[string]string{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileEnv = values
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("%w: failed to read %s: %w", ErrConfiguration, envFile, err)
		}
	}

	return Load(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileEnv[key]
	}, flags)
}

// Load builds and validates a Config from getenv and flags.
func Load(getenv func(string) string, flags Flags) (*Config, error) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg := &Config{
		Provider:        Provider(strings.ToLower(firstNonEmpty(flags.Provider, env("LLM_PROVIDER"), string(ProviderOpenAI)))),
		Model:           firstNonEmpty(flags.Model, env("LLM_MODEL")),
		OpenAIAPIKey:    env("OPENAI_API_KEY"),
		AnthropicAPIKey: env("ANTHROPIC_API_KEY"),
		OllamaURL:       firstNonEmpty(env("OLLAMA_URL"), DefaultOllamaURL),
		Engine:          Engine(strings.ToLower(firstNonEmpty(flags.Engine, env("DB_ENGINE"), string(EnginePinot)))),
		Dialect:         firstNonEmpty(flags.Dialect, env("SQL_DIALECT")),
		PromptTemplate:  firstNonEmpty(flags.PromptTemplate, env("PROMPT_TEMPLATE")),
		MaxRounds:       flags.MaxRounds,
	}

	var err error
	if cfg.TopK, err = intValue(flags.TopK, env("SQL_TOP_K"), "SQL_TOP_K", DefaultTopK); err != nil {
		return nil, err
	}
	if cfg.MaxOutputTokens, err = intValue(0, env("LLM_MAX_TOKENS"), "LLM_MAX_TOKENS", DefaultMaxOutputTokens); err != nil {
		return nil, err
	}
	if cfg.MaxRounds == 0 {
		if cfg.MaxRounds, err = intValue(0, env("LLM_MAX_ROUNDS"), "LLM_MAX_ROUNDS", 0); err != nil {
			return nil, err
		}
	}

	switch cfg.Engine {
	case EnginePinot:
		if err := loadPinot(cfg, env); err != nil {
			return nil, err
		}
	case EngineClickHouse:
		if err := loadClickHouse(cfg, env); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadPinot(cfg *Config, env func(string) string) error {
	if uri := env("PINOT_URI"); uri != "" {
		parsed, err := pinot.ParseURI(uri)
		if err != nil {
			return fmt.Errorf("%w: PINOT_URI: %w", ErrConfiguration, err)
		}
		cfg.Pinot = parsed
	}
	cfg.Pinot.BrokerURL = firstNonEmpty(env("PINOT_BROKER_URL"), cfg.Pinot.BrokerURL)
	cfg.Pinot.ControllerURL = firstNonEmpty(env("PINOT_CONTROLLER_URL"), cfg.Pinot.ControllerURL)
	cfg.Pinot.Database = firstNonEmpty(env("PINOT_DATABASE"), cfg.Pinot.Database)
	cfg.Pinot.Username = firstNonEmpty(env("PINOT_USERNAME"), cfg.Pinot.Username)
	cfg.Pinot.Password = firstNonEmpty(env("PINOT_PASSWORD"), cfg.Pinot.Password)
	cfg.Pinot.Token = env("PINOT_TOKEN")
	return nil
}

func loadClickHouse(cfg *Config, env func(string) string) error {
	cfg.ClickHouse = clickhouse.Config{
		Addr:     env("CLICKHOUSE_ADDR"),
		Database: env("CLICKHOUSE_DATABASE"),
		Username: env("CLICKHOUSE_USERNAME"),
		Password: env("CLICKHOUSE_PASSWORD"),
	}
	if v := env("CLICKHOUSE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: CLICKHOUSE_SECURE must be a boolean, got %q", ErrConfiguration, v)
		}
		cfg.ClickHouse.Secure = secure
	}
	return nil
}

// Validate checks required values and fills defaults. Every failure wraps
// ErrConfiguration.
func (cfg *Config) Validate() error {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for provider %s", ErrConfiguration, cfg.Provider)
		}
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("%w: ANTHROPIC_API_KEY is required for provider %s", ErrConfiguration, cfg.Provider)
		}
	case ProviderOllama:
		if cfg.OllamaURL == "" {
			return fmt.Errorf("%w: OLLAMA_URL is required for provider %s", ErrConfiguration, cfg.Provider)
		}
	default:
		return fmt.Errorf("%w: provider must be one of openai, anthropic, ollama, got: %s", ErrConfiguration, cfg.Provider)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}

	switch cfg.Engine {
	case EnginePinot:
		if cfg.Pinot.BrokerURL == "" {
			return fmt.Errorf("%w: PINOT_BROKER_URL is required (or set PINOT_URI)", ErrConfiguration)
		}
		if cfg.Pinot.ControllerURL == "" {
			return fmt.Errorf("%w: PINOT_CONTROLLER_URL is required (or set PINOT_URI)", ErrConfiguration)
		}
		if cfg.Pinot.Token != "" && cfg.Pinot.Username != "" {
			return fmt.Errorf("%w: PINOT_TOKEN and PINOT_USERNAME are mutually exclusive", ErrConfiguration)
		}
		if cfg.Dialect == "" {
			cfg.Dialect = pinot.Dialect
		}
	case EngineClickHouse:
		if cfg.ClickHouse.Addr == "" {
			return fmt.Errorf("%w: CLICKHOUSE_ADDR is required", ErrConfiguration)
		}
		if cfg.Dialect == "" {
			cfg.Dialect = clickhouse.Dialect
		}
	default:
		return fmt.Errorf("%w: engine must be one of pinot, clickhouse, got: %s", ErrConfiguration, cfg.Engine)
	}

	if cfg.TopK < 1 {
		return fmt.Errorf("%w: top k must be at least 1, got %d", ErrConfiguration, cfg.TopK)
	}
	if cfg.MaxOutputTokens < 1 {
		return fmt.Errorf("%w: LLM_MAX_TOKENS must be at least 1, got %d", ErrConfiguration, cfg.MaxOutputTokens)
	}
	if cfg.MaxRounds < 0 {
		return fmt.Errorf("%w: max rounds must not be negative, got %d", ErrConfiguration, cfg.MaxRounds)
	}
	return nil
}

func intValue(flag int, raw, name string, def int) (int, error) {
	if flag != 0 {
		return flag, nil
	}
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrConfiguration, name, raw)
	}
	return v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
