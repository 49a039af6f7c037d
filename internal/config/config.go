package config

import (
	"fmt"
	"strings"
	"time"
)

// Service is the keychain service name for fitreg secrets.
const Service = "fitreg"

// LLM providers.
const (
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server       ServerConfig
	LLM          LLMConfig
	Ollama       OllamaConfig
	Gemini       GeminiConfig
	OpenRouter   OpenRouterConfig
	Storage      StorageConfig
	Log          LogConfig
	Registration RegistrationConfig
	Tracing      TracingConfig
}

type ServerConfig struct {
	Port int
}

type LLMConfig struct {
	Provider string
	Model    string
	Timeout  time.Duration
}

type OllamaConfig struct {
	BaseURL string
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	PostgresDSN string
}

type LogConfig struct {
	Level string
}

type RegistrationConfig struct {
	Locale string
}

type TracingConfig struct {
	Enabled bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		LLM: LLMConfig{
			Provider: ProviderOllama,
			Model:    "phi3.5",
			Timeout:  10 * time.Second,
		},
		Ollama:       OllamaConfig{BaseURL: "http://localhost:11434"},
		OpenRouter:   OpenRouterConfig{BaseURL: "https://openrouter.ai/api/v1"},
		Storage:      StorageConfig{Driver: DriverSQLite, DataDir: defaultDataDir()},
		Log:          LogConfig{Level: "info"},
		Registration: RegistrationConfig{Locale: "en"},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.fitreg.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a YAML file at $XDG_CONFIG_HOME/fitreg/config.yaml
// (or $FITREG_CONFIG) and secrets fall back to
// $XDG_DATA_HOME/fitreg/secrets.json (or $FITREG_SECRETS_FILE).
//
// Environment variables (FITREG_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain stores secrets by service and account.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applySecrets fills empty secret keys from the keychain.
func applySecrets(cfg *Config, kc Keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := kc.Get(Service, s.account()); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case ProviderOllama:
	case ProviderGemini:
		if cfg.Gemini.APIKey == "" {
			return missingSecret("Gemini API key", "gemini.api_key")
		}
	case ProviderOpenRouter:
		if cfg.OpenRouter.APIKey == "" {
			return missingSecret("OpenRouter API key", "openrouter.api_key")
		}
	default:
		return fmt.Errorf("unknown llm.provider %q: want %s, %s or %s",
			cfg.LLM.Provider, ProviderOllama, ProviderGemini, ProviderOpenRouter)
	}

	switch cfg.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return missingSecret("PostgreSQL DSN", "storage.postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q: want %s or %s", cfg.Storage.Driver, DriverSQLite, DriverPostgres)
	}

	if cfg.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %s", cfg.LLM.Timeout)
	}
	return nil
}

func missingSecret(what, key string) error {
	s, _ := lookup(key)
	return fmt.Errorf("missing required config: %s. Set it via environment variable %s%s", what, s.env, apiKeyHint(s.account()))
}

// platformKeychain reads secrets from the OS store.
type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
