package profile

import (
	"github.com/kalambet/fitreg/internal/validate"
)

// MaxGoalLength bounds the free-text fitness goal, in characters.
const MaxGoalLength = 100

var rules = map[Field]validate.Rule{
	FieldAge:          validate.Integer(10, 100),
	FieldGender:       validate.Enum(string(GenderMale), string(GenderFemale)),
	FieldHeight:       validate.Integer(120, 220),
	FieldWeight:       validate.Integer(30, 200),
	FieldFitnessLevel: validate.Enum(string(LevelBeginner), string(LevelIntermediate), string(LevelAdvanced)),
	FieldFitnessGoal:  validate.Text(MaxGoalLength, nil),
}

// RuleFor returns the validation rule of f. Unknown fields get a rule that
// rejects everything.
func RuleFor(f Field) validate.Rule {
	return rules[f]
}

// ParseFields runs the raw value of every target through its rule. Keys that
// are not targets are ignored. A null or missing key yields no value; a value
// that fails its rule is reported in rejected and dropped.
func ParseFields(raw map[string]any, targets []Field) (fields SparseFields, rejected []Field) {
	for _, f := range targets {
		v, ok := raw[string(f)]
		if !ok || v == nil {
			continue
		}
		norm, ok := RuleFor(f).Apply(v)
		if !ok {
			rejected = append(rejected, f)
			continue
		}
		fields.set(f, norm)
	}
	return fields, rejected
}

// SparseFields holds the values extracted from a single message. Each slot is
// either absent or already validated.
type SparseFields struct {
	Age          *int          `json:"age,omitempty"`
	Gender       *Gender       `json:"gender,omitempty"`
	Height       *int          `json:"height,omitempty"`
	Weight       *int          `json:"weight,omitempty"`
	FitnessLevel *FitnessLevel `json:"fitnessLevel,omitempty"`
	FitnessGoal  *string       `json:"fitnessGoal,omitempty"`
}

// Value returns the raw value of f as int or string.
func (s SparseFields) Value(f Field) (any, bool) {
	p := Profile{
		Age: s.Age, Gender: s.Gender, Height: s.Height, Weight: s.Weight,
		FitnessLevel: s.FitnessLevel, FitnessGoal: s.FitnessGoal,
	}
	return p.Value(f)
}

// Has reports whether f carries a value.
func (s SparseFields) Has(f Field) bool {
	_, ok := s.Value(f)
	return ok
}

// Present lists the fields carrying a value, in canonical order.
func (s SparseFields) Present() []Field {
	var out []Field
	for _, f := range AllFields {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// IsEmpty reports whether no field carries a value.
func (s SparseFields) IsEmpty() bool {
	return len(s.Present()) == 0
}

func (s *SparseFields) set(f Field, v any) {
	var p Profile
	p.setValue(f, v)
	switch f {
	case FieldAge:
		s.Age = p.Age
	case FieldGender:
		s.Gender = p.Gender
	case FieldHeight:
		s.Height = p.Height
	case FieldWeight:
		s.Weight = p.Weight
	case FieldFitnessLevel:
		s.FitnessLevel = p.FitnessLevel
	case FieldFitnessGoal:
		s.FitnessGoal = p.FitnessGoal
	}
}
