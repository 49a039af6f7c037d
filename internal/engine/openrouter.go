package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/kalambet/fitreg/internal/openrouter"
)

// OpenRouterEngine serves chat through the hosted OpenRouter API. The JSON
// schema is not forwarded; the model is asked for a JSON object instead and
// the prompt carries the field list.
type OpenRouterEngine struct {
	client *openrouter.Client
}

// NewOpenRouterEngine creates an engine authenticated with apiKey. An empty
// baseURL selects the public endpoint.
func NewOpenRouterEngine(apiKey, baseURL string) *OpenRouterEngine {
	return &OpenRouterEngine{client: openrouter.NewClient(apiKey, openrouter.WithBaseURL(baseURL))}
}

func (e *OpenRouterEngine) Name() string { return "openrouter" }

func (e *OpenRouterEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	req := openrouter.ChatRequest{
		Model:    model,
		Messages: make([]openrouter.Message, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openrouter.Message{Role: m.Role, Content: m.Content}
	}
	if jsonSchema != nil {
		temp := 0.0
		req.Temperature = &temp
		req.ResponseFormat = openrouter.JSONObject
	}
	out, err := e.client.Complete(ctx, req)
	var apiErr *openrouter.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s: %v", ErrModelNotFound, model, err)
	}
	return out, err
}

func (e *OpenRouterEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenRouterEngine) ListModels(ctx context.Context) ([]string, error) {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenRouterEngine) HasModel(ctx context.Context, name string) bool {
	names, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	return slices.Contains(names, name)
}

func (e *OpenRouterEngine) PullModel(context.Context, string, func(PullProgress)) error {
	return ErrPullUnsupported
}
