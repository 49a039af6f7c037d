// Package extract turns free-text user messages into validated profile field
// values with a single LLM call.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kalambet/fitreg/internal/engine"
	"github.com/kalambet/fitreg/internal/metrics"
	"github.com/kalambet/fitreg/internal/profile"
	"github.com/kalambet/fitreg/internal/prompt"
)

// DefaultTimeout bounds a single extraction call.
const DefaultTimeout = 10 * time.Second

var tracer = otel.GetTracerProvider().Tracer("fitreg/extract")

// Chatter is the interface for chat completion. engine.Engine satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// ChatFunc adapts a plain function to Chatter.
type ChatFunc func(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)

func (f ChatFunc) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	return f(ctx, model, messages, jsonSchema)
}

// ErrInvalidInput matches every InvalidInputError.
var ErrInvalidInput = errors.New("invalid extraction input")

// InvalidInputError reports a caller bug, such as extracting from an empty
// message. It is never caused by model output.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return "extract: " + e.Reason }

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// Extractor asks an LLM for profile fields and validates the answer.
type Extractor struct {
	client  Chatter
	model   string
	timeout time.Duration
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewExtractor creates an Extractor using the given client and model name.
func NewExtractor(client Chatter, model string, opts ...Option) *Extractor {
	e := &Extractor{client: client, model: model, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the values of the scope fields that are still missing on
// user, as found in text. An empty scope means every field. Fields the model
// could not supply, or supplied invalid values for, are absent from the
// result.
func (e *Extractor) Extract(ctx context.Context, user profile.Profile, text string, scope ...profile.Field) (profile.SparseFields, error) {
	return e.ExtractFields(ctx, user, text, user.Missing(scope...))
}

// ExtractFields is Extract with explicit targets, including fields that are
// already set. It is used when the user revisits collected values.
//
// Model failures never surface as errors: a timeout, backend error or
// malformed completion yields empty SparseFields. The only error is
// InvalidInputError for an empty message.
func (e *Extractor) ExtractFields(ctx context.Context, user profile.Profile, text string, targets []profile.Field) (profile.SparseFields, error) {
	if strings.TrimSpace(text) == "" {
		return profile.SparseFields{}, &InvalidInputError{Reason: "message text is empty"}
	}
	if len(targets) == 0 {
		return profile.SparseFields{}, nil
	}

	ctx, span := tracer.Start(ctx, "extract.fields")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", user.ID),
		attribute.Int("extract.targets", len(targets)),
	)

	outcome := e.call(ctx, text, targets, user.Known())
	metrics.ExtractionOutcomesTotal.WithLabelValues(string(outcome.Kind)).Inc()
	span.SetAttributes(attribute.String("extract.outcome", string(outcome.Kind)))

	switch outcome.Kind {
	case Failed:
		if errors.Is(outcome.Err, engine.ErrModelNotFound) {
			// Every turn will fail the same way until the config is fixed.
			slog.Error("extraction model missing", "model", e.model, "error", outcome.Err)
		} else {
			slog.Warn("field extraction chat failed", "user_id", user.ID, "error", outcome.Err)
		}
		return profile.SparseFields{}, nil
	case Malformed:
		slog.Warn("malformed extraction response", "user_id", user.ID, "error", outcome.Err)
		return profile.SparseFields{}, nil
	}

	fields, rejected := profile.ParseFields(outcome.Fields, targets)
	for _, f := range fields.Present() {
		metrics.ExtractedFieldsTotal.WithLabelValues(string(f), "accepted").Inc()
	}
	for _, f := range rejected {
		metrics.ExtractedFieldsTotal.WithLabelValues(string(f), "rejected").Inc()
		slog.Debug("extracted value rejected", "user_id", user.ID, "field", f, "value", outcome.Fields[string(f)])
	}
	span.SetAttributes(attribute.Int("extract.accepted", len(fields.Present())))
	return fields, nil
}

func (e *Extractor) call(ctx context.Context, text string, targets []profile.Field, known map[profile.Field]any) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	messages := prompt.ExtractionMessages(text, targets, known)
	raw, err := e.client.Chat(ctx, e.model, messages, prompt.ExtractionSchema(targets))
	if err != nil {
		return Outcome{Kind: Failed, Err: err}
	}
	return ParseCompletion(raw)
}
