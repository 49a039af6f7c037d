package engine

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiEngine serves chat through Google's Gemini API.
type GeminiEngine struct {
	client *genai.Client
}

// NewGeminiEngine creates a Gemini-backed engine. baseURL overrides the API
// endpoint and is empty in production.
func NewGeminiEngine(ctx context.Context, apiKey, baseURL string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiEngine{client: client}, nil
}

func (e *GeminiEngine) Name() string { return "gemini" }

// Chat folds system messages into the system instruction and sends the rest
// as conversation turns.
func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if jsonSchema != nil {
		cfg.Temperature = genai.Ptr[float32](0)
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toGenAISchema(jsonSchema)
	}

	resp, err := e.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	return resp.Text(), nil
}

func toGenAISchema(s *Schema) *genai.Schema {
	out := &genai.Schema{
		Type:       genai.Type(strings.ToUpper(s.Type)),
		Properties: make(map[string]*genai.Schema, len(s.Properties)),
		Required:   s.Required,
	}
	for name, p := range s.Properties {
		prop := &genai.Schema{
			Type:        genai.Type(strings.ToUpper(p.Type)),
			Description: p.Description,
			Enum:        p.Enum,
		}
		if p.Nullable {
			prop.Nullable = genai.Ptr(true)
		}
		out.Properties[name] = prop
	}
	return out
}

func (e *GeminiEngine) IsRunning(ctx context.Context) bool {
	_, err := e.ListModels(ctx)
	return err == nil
}

func (e *GeminiEngine) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	for m, err := range e.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("listing Gemini models: %w", err)
		}
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}

func (e *GeminiEngine) HasModel(ctx context.Context, name string) bool {
	_, err := e.client.Models.Get(ctx, name, nil)
	return err == nil
}

func (e *GeminiEngine) PullModel(context.Context, string, func(PullProgress)) error {
	return ErrPullUnsupported
}
