package engine

import (
	"context"
	"fmt"

	"github.com/kalambet/fitreg/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at
// baseURL. Generation runs at temperature 0 so extraction is repeatable, and
// the model stays loaded between the sparse turns of a registration.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	temp := 0.0
	return &OllamaEngine{client: ollama.New(baseURL, &ollama.Options{Temperature: &temp, KeepAlive: "10m"})}
}

func (e *OllamaEngine) Name() string { return "ollama" }

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	out, err := e.client.Chat(ctx, model, msgs, toOllamaSchema(jsonSchema))
	if ollama.IsNotFound(err) {
		return "", fmt.Errorf("%w: %s: %v", ErrModelNotFound, model, err)
	}
	return out, err
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{
		Type:     s.Type,
		Required: s.Required,
	}
	if s.Properties != nil {
		out.Properties = make(map[string]ollama.SchemaProperty, len(s.Properties))
		for k, v := range s.Properties {
			var typ any = v.Type
			if v.Nullable {
				typ = []string{v.Type, "null"}
			}
			out.Properties[k] = ollama.SchemaProperty{Type: typ, Description: v.Description, Enum: v.Enum}
		}
	}
	return out
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

// Version returns the Ollama server version.
func (e *OllamaEngine) Version(ctx context.Context) (string, error) {
	return e.client.Version(ctx)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
