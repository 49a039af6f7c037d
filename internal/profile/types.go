package profile

import (
	"slices"
	"time"
)

// Field names a collectable profile attribute. The string values are part of
// the JSON contract with stored records and must not change.
type Field string

const (
	FieldAge          Field = "age"
	FieldGender       Field = "gender"
	FieldHeight       Field = "height"
	FieldWeight       Field = "weight"
	FieldFitnessLevel Field = "fitnessLevel"
	FieldFitnessGoal  Field = "fitnessGoal"
)

// AllFields lists every collectable field in canonical order.
var AllFields = []Field{FieldAge, FieldGender, FieldHeight, FieldWeight, FieldFitnessLevel, FieldFitnessGoal}

// BasicFields are collected together in the first collecting step.
var BasicFields = []Field{FieldAge, FieldGender, FieldHeight, FieldWeight}

// Gender of the user.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// FitnessLevel is the self-reported training experience.
type FitnessLevel string

const (
	LevelBeginner     FitnessLevel = "beginner"
	LevelIntermediate FitnessLevel = "intermediate"
	LevelAdvanced     FitnessLevel = "advanced"
)

// Step is a registration dialogue state.
type Step string

const (
	StepGreeting        Step = "greeting"
	StepCollectingBasic Step = "collecting_basic"
	StepCollectingLevel Step = "collecting_level"
	StepCollectingGoals Step = "collecting_goals"
	StepConfirmation    Step = "confirmation"
	StepComplete        Step = "complete"
)

// Steps lists the registration steps in dialogue order.
var Steps = []Step{StepGreeting, StepCollectingBasic, StepCollectingLevel, StepCollectingGoals, StepConfirmation, StepComplete}

// Valid reports whether s is a known step.
func (s Step) Valid() bool { return slices.Contains(Steps, s) }

// Index returns the position of s in dialogue order, or -1.
func (s Step) Index() int { return slices.Index(Steps, s) }

// Profile is the persisted registration record of one user. Nil pointers mean
// the attribute has not been collected.
type Profile struct {
	ID               string        `json:"id"`
	ExternalID       string        `json:"externalId,omitempty"`
	Age              *int          `json:"age"`
	Gender           *Gender       `json:"gender"`
	Height           *int          `json:"height"`
	Weight           *int          `json:"weight"`
	FitnessLevel     *FitnessLevel `json:"fitnessLevel"`
	FitnessGoal      *string       `json:"fitnessGoal"`
	RegistrationStep Step          `json:"registrationStep"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// New returns an empty profile at the greeting step.
func New(id string) Profile {
	return Profile{ID: id, RegistrationStep: StepGreeting}
}

// Value returns the raw value of f as int or string. The second result is
// false when f is absent.
func (p Profile) Value(f Field) (any, bool) {
	switch f {
	case FieldAge:
		return intValue(p.Age)
	case FieldGender:
		if p.Gender != nil {
			return string(*p.Gender), true
		}
	case FieldHeight:
		return intValue(p.Height)
	case FieldWeight:
		return intValue(p.Weight)
	case FieldFitnessLevel:
		if p.FitnessLevel != nil {
			return string(*p.FitnessLevel), true
		}
	case FieldFitnessGoal:
		if p.FitnessGoal != nil {
			return *p.FitnessGoal, true
		}
	}
	return nil, false
}

func intValue(v *int) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

// IsSet reports whether f is present and passes its validation rule.
func (p Profile) IsSet(f Field) bool {
	v, ok := p.Value(f)
	if !ok {
		return false
	}
	_, ok = RuleFor(f).Apply(v)
	return ok
}

// Missing returns the fields of scope that are absent or invalid, in the
// order given. An empty scope means AllFields.
func (p Profile) Missing(scope ...Field) []Field {
	if len(scope) == 0 {
		scope = AllFields
	}
	var missing []Field
	for _, f := range scope {
		if !p.IsSet(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Invalid returns the fields that are present but fail validation.
func (p Profile) Invalid() []Field {
	var bad []Field
	for _, f := range AllFields {
		if _, ok := p.Value(f); ok && !p.IsSet(f) {
			bad = append(bad, f)
		}
	}
	return bad
}

// IsComplete reports whether every field is set.
func (p Profile) IsComplete() bool {
	return len(p.Missing()) == 0
}

// Known returns the set fields and their values.
func (p Profile) Known() map[Field]any {
	known := make(map[Field]any)
	for _, f := range AllFields {
		if p.IsSet(f) {
			v, _ := p.Value(f)
			known[f] = v
		}
	}
	return known
}

// Clear removes f from the profile.
func (p *Profile) Clear(f Field) {
	switch f {
	case FieldAge:
		p.Age = nil
	case FieldGender:
		p.Gender = nil
	case FieldHeight:
		p.Height = nil
	case FieldWeight:
		p.Weight = nil
	case FieldFitnessLevel:
		p.FitnessLevel = nil
	case FieldFitnessGoal:
		p.FitnessGoal = nil
	}
}

// Merge returns a copy of p with every present value of s applied. Fields
// absent from s are left untouched, so merging never loses data.
func (p Profile) Merge(s SparseFields) Profile {
	out := p.Clone()
	for _, f := range s.Present() {
		v, _ := s.Value(f)
		out.setValue(f, v)
	}
	return out
}

// setValue assigns a raw int or string value without validation.
func (p *Profile) setValue(f Field, v any) {
	switch f {
	case FieldAge:
		p.Age = intPtr(v)
	case FieldGender:
		if s, ok := v.(string); ok {
			g := Gender(s)
			p.Gender = &g
		}
	case FieldHeight:
		p.Height = intPtr(v)
	case FieldWeight:
		p.Weight = intPtr(v)
	case FieldFitnessLevel:
		if s, ok := v.(string); ok {
			l := FitnessLevel(s)
			p.FitnessLevel = &l
		}
	case FieldFitnessGoal:
		if s, ok := v.(string); ok {
			p.FitnessGoal = &s
		}
	}
}

func intPtr(v any) *int {
	n, ok := v.(int)
	if !ok {
		return nil
	}
	return &n
}

// Clone returns a deep copy of p.
func (p Profile) Clone() Profile {
	cp := p
	cp.Age = clonePtr(p.Age)
	cp.Gender = clonePtr(p.Gender)
	cp.Height = clonePtr(p.Height)
	cp.Weight = clonePtr(p.Weight)
	cp.FitnessLevel = clonePtr(p.FitnessLevel)
	cp.FitnessGoal = clonePtr(p.FitnessGoal)
	return cp
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
