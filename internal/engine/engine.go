package engine

import (
	"context"
	"errors"
)

// ErrPullUnsupported is returned by hosted backends that cannot download models.
var ErrPullUnsupported = errors.New("backend does not support pulling models")

// ErrModelNotFound is returned by Chat when the backend does not know the model.
var ErrModelNotFound = errors.New("model not found")

// Engine abstracts an LLM backend (Ollama, Gemini, OpenRouter). Field
// extraction talks to this interface instead of a concrete client.
type Engine interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of the models the backend can serve.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
