// Package registration drives the profile registration dialogue: a state
// machine over profile.Step that asks for missing fields, feeds replies
// through field extraction and ends with an explicit confirmation.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kalambet/fitreg/internal/profile"
	"github.com/kalambet/fitreg/internal/prompt"
)

var tracer = otel.GetTracerProvider().Tracer("fitreg/registration")

var (
	// ErrInvalidInput is returned for an empty or whitespace-only message.
	ErrInvalidInput = errors.New("message text is empty")
	// ErrInvalidProfile is returned for a profile without id or with an
	// unknown registration step.
	ErrInvalidProfile = errors.New("invalid profile")
)

// FieldExtractor finds profile field values in free text.
// Implemented by extract.Extractor.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, user profile.Profile, text string, targets []profile.Field) (profile.SparseFields, error)
}

// Result is the outcome of one dialogue turn.
type Result struct {
	Profile    profile.Profile `json:"profile"`
	Response   string          `json:"response"`
	IsComplete bool            `json:"is_complete"`
	// Extracted lists the fields accepted from this message.
	Extracted []profile.Field `json:"extracted,omitempty"`
}

// Engine is the registration state machine. It never touches storage: the
// caller persists Result.Profile.
type Engine struct {
	extractor FieldExtractor
	prompts   *prompt.Builder
	classify  ReplyClassifier
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier replaces ClassifyConfirmationReply.
func WithClassifier(c ReplyClassifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classify = c
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(extractor FieldExtractor, prompts *prompt.Builder, opts ...Option) *Engine {
	e := &Engine{extractor: extractor, prompts: prompts, classify: ClassifyConfirmationReply}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func checkProfile(user profile.Profile) error {
	if user.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidProfile)
	}
	if !user.RegistrationStep.Valid() {
		return fmt.Errorf("%w: unknown step %q", ErrInvalidProfile, user.RegistrationStep)
	}
	return nil
}

// ProcessMessage advances the dialogue of user by one message. Set fields
// are never cleared except when the confirmation re-check finds them
// invalid.
func (e *Engine) ProcessMessage(ctx context.Context, user profile.Profile, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrInvalidInput
	}
	if err := checkProfile(user); err != nil {
		return Result{}, err
	}

	ctx, span := tracer.Start(ctx, "registration.process_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", user.ID),
		attribute.String("registration.step", string(user.RegistrationStep)),
	)

	p := user.Clone()
	var (
		res Result
		err error
	)
	switch p.RegistrationStep {
	case profile.StepGreeting:
		p.RegistrationStep = profile.StepCollectingBasic
		res = e.result(p, e.prompts.Welcome(), nil)
	case profile.StepCollectingBasic:
		res, err = e.collectBasic(ctx, p, text)
	case profile.StepCollectingLevel:
		res, err = e.collectLevel(ctx, p, text)
	case profile.StepCollectingGoals:
		res, err = e.collectGoal(ctx, p, text)
	case profile.StepConfirmation:
		res = e.confirm(p, text)
	case profile.StepComplete:
		res = e.result(p, e.prompts.AlreadyComplete(), nil)
	}
	if err != nil {
		return Result{}, err
	}

	span.SetAttributes(attribute.String("registration.next_step", string(res.Profile.RegistrationStep)))
	return res, nil
}

// BeginEdit re-enters collection from confirmation or complete, keeping the
// set fields as defaults. Before confirmation it only repeats the current
// question.
func (e *Engine) BeginEdit(user profile.Profile) (Result, error) {
	if err := checkProfile(user); err != nil {
		return Result{}, err
	}
	p := user.Clone()
	if p.RegistrationStep.Index() < profile.StepConfirmation.Index() {
		return e.result(p, e.question(p.RegistrationStep, p), nil), nil
	}
	p.RegistrationStep = profile.StepCollectingBasic
	return e.result(p, e.prompts.EditInstructions(p), nil), nil
}

// extract asks for the missing fields of scope, or for all of scope when
// none are missing, which only happens when revisiting after an edit.
func (e *Engine) extract(ctx context.Context, p profile.Profile, text string, scope []profile.Field) (profile.SparseFields, error) {
	targets := p.Missing(scope...)
	if len(targets) == 0 {
		targets = scope
	}
	found, err := e.extractor.ExtractFields(ctx, p, text, targets)
	if err != nil {
		return profile.SparseFields{}, fmt.Errorf("extracting %v: %w", targets, err)
	}
	return found, nil
}

func (e *Engine) collectBasic(ctx context.Context, p profile.Profile, text string) (Result, error) {
	found, err := e.extract(ctx, p, text, profile.BasicFields)
	if err != nil {
		return Result{}, err
	}

	merged := p.Merge(found)
	missing := merged.Missing(profile.BasicFields...)
	switch {
	case len(missing) == 0:
		merged.RegistrationStep = profile.StepCollectingLevel
		return e.result(merged, join(e.prompts.BasicCollected(merged), e.question(profile.StepCollectingLevel, merged)), found.Present()), nil
	case found.IsEmpty():
		return e.result(p, e.prompts.Welcome(), nil), nil
	default:
		return e.result(merged, e.prompts.BasicMissing(missing), found.Present()), nil
	}
}

func (e *Engine) collectLevel(ctx context.Context, p profile.Profile, text string) (Result, error) {
	found, err := e.extract(ctx, p, text, []profile.Field{profile.FieldFitnessLevel})
	if err != nil {
		return Result{}, err
	}

	merged := p.Merge(found)
	if !merged.IsSet(profile.FieldFitnessLevel) {
		return e.result(p, e.prompts.LevelQuestion(), nil), nil
	}
	merged.RegistrationStep = profile.StepCollectingGoals
	return e.result(merged, join(e.prompts.LevelCollected(*merged.FitnessLevel), e.prompts.GoalQuestion()), found.Present()), nil
}

func (e *Engine) collectGoal(ctx context.Context, p profile.Profile, text string) (Result, error) {
	found, err := e.extract(ctx, p, text, []profile.Field{profile.FieldFitnessGoal})
	if err != nil {
		return Result{}, err
	}

	merged := p.Merge(found)
	if !merged.IsSet(profile.FieldFitnessGoal) {
		return e.result(p, e.prompts.GoalQuestion(), nil), nil
	}
	merged.RegistrationStep = profile.StepConfirmation
	return e.result(merged, e.prompts.Confirmation(merged), found.Present()), nil
}

// confirm re-checks all fields before classifying the reply. A profile with
// missing or invalid fields is sent back to the earliest collecting step that
// owns one, rather than repeating the confirmation prompt, so the next message
// is extracted against the right fields. It never advances in that case.
func (e *Engine) confirm(p profile.Profile, text string) Result {
	if missing := p.Missing(); len(missing) > 0 {
		return e.regress(p, missing)
	}

	switch e.classify(text) {
	case ReplyAffirm:
		p.RegistrationStep = profile.StepComplete
		return e.result(p, e.prompts.Completed(p), nil)
	case ReplyEdit:
		p.RegistrationStep = profile.StepCollectingBasic
		return e.result(p, e.prompts.EditInstructions(p), nil)
	default:
		return e.result(p, e.prompts.Confirmation(p), nil)
	}
}

// regress drops invalid values and moves back to the earliest collecting
// step that owns a missing field.
func (e *Engine) regress(p profile.Profile, missing []profile.Field) Result {
	for _, f := range p.Invalid() {
		p.Clear(f)
	}
	p.RegistrationStep = stepFor(missing[0])
	return e.result(p, join(e.prompts.ConfirmationMissing(missing), e.question(p.RegistrationStep, p)), nil)
}

// stepFor returns the collecting step that asks for f. missing is always in
// canonical order, so the first missing field has the earliest step.
func stepFor(f profile.Field) profile.Step {
	switch f {
	case profile.FieldFitnessLevel:
		return profile.StepCollectingLevel
	case profile.FieldFitnessGoal:
		return profile.StepCollectingGoals
	}
	return profile.StepCollectingBasic
}

// question is the prompt that opens step for p.
func (e *Engine) question(step profile.Step, p profile.Profile) string {
	switch step {
	case profile.StepCollectingBasic:
		missing := p.Missing(profile.BasicFields...)
		if len(missing) == len(profile.BasicFields) {
			return e.prompts.Welcome()
		}
		return e.prompts.BasicMissing(missing)
	case profile.StepCollectingLevel:
		return e.prompts.LevelQuestion()
	case profile.StepCollectingGoals:
		return e.prompts.GoalQuestion()
	case profile.StepConfirmation:
		return e.prompts.Confirmation(p)
	case profile.StepComplete:
		return e.prompts.AlreadyComplete()
	}
	return e.prompts.Welcome()
}

func (e *Engine) result(p profile.Profile, response string, extracted []profile.Field) Result {
	return Result{
		Profile:    p,
		Response:   response,
		IsComplete: p.RegistrationStep == profile.StepComplete && p.IsComplete(),
		Extracted:  extracted,
	}
}

func join(parts ...string) string {
	return strings.Join(parts, "\n\n")
}
