package engine

import (
	"context"
	"fmt"
)

// Backend names accepted by Detect.
const (
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider          string
	OllamaBaseURL     string
	GeminiAPIKey      string
	GeminiBaseURL     string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
}

// Detect returns the Engine for the configured provider. An empty provider
// selects Ollama.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider needs an API key (set FITREG_GEMINI_API_KEY)")
		}
		return NewGeminiEngine(ctx, cfg.GeminiAPIKey, cfg.GeminiBaseURL)
	case ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter provider needs an API key (set FITREG_OPENROUTER_API_KEY)")
		}
		return NewOpenRouterEngine(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
