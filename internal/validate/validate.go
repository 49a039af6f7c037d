// Package validate coerces untrusted values, typically decoded from LLM JSON
// output, into typed domain values. A rule either returns a normalized value
// or rejects the input; it never clamps or guesses.
package validate

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Kind identifies the family of a Rule.
type Kind string

const (
	KindInteger Kind = "integer"
	KindEnum    Kind = "enum"
	KindText    Kind = "text"
	KindBoolean Kind = "boolean"
)

// Rule describes the accepted domain of a single value.
type Rule struct {
	Kind Kind

	// Integer bounds, inclusive.
	Min, Max int

	// Enum members, compared case-sensitively.
	Values []string

	// Text constraints. MaxLen counts runes.
	MaxLen  int
	Pattern *regexp.Regexp
}

// Integer returns a rule accepting JSON numbers within [min, max]. Accepted
// values are rounded to the nearest integer.
func Integer(min, max int) Rule {
	return Rule{Kind: KindInteger, Min: min, Max: max}
}

// Enum returns a rule accepting exactly one of values.
func Enum(values ...string) Rule {
	return Rule{Kind: KindEnum, Values: values}
}

// Text returns a rule accepting a non-empty trimmed string of at most maxLen
// runes. A nil pattern disables pattern matching.
func Text(maxLen int, pattern *regexp.Regexp) Rule {
	return Rule{Kind: KindText, MaxLen: maxLen, Pattern: pattern}
}

// Boolean returns a rule accepting JSON booleans only.
func Boolean() Rule {
	return Rule{Kind: KindBoolean}
}

// Apply validates raw and returns the normalized value: int for integer rules,
// string for enum and text rules, bool for boolean rules. The second result is
// false when raw is rejected.
func (r Rule) Apply(raw any) (any, bool) {
	switch r.Kind {
	case KindInteger:
		n, ok := r.integer(raw)
		return n, ok
	case KindEnum:
		s, ok := raw.(string)
		if !ok || !slices.Contains(r.Values, s) {
			return nil, false
		}
		return s, true
	case KindText:
		return r.text(raw)
	case KindBoolean:
		b, ok := raw.(bool)
		return b, ok
	}
	return nil, false
}

func (r Rule) integer(raw any) (int, bool) {
	f, ok := number(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f < float64(r.Min) || f > float64(r.Max) {
		return 0, false
	}
	return int(math.Round(f)), true
}

func (r Rule) text(raw any) (any, bool) {
	s, ok := raw.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if r.MaxLen > 0 && utf8.RuneCountInString(s) > r.MaxLen {
		return nil, false
	}
	if r.Pattern != nil && !r.Pattern.MatchString(s) {
		return nil, false
	}
	return s, true
}

// number reports raw as a float64 when it is a Go numeric value. Strings that
// look numeric are rejected: the value must arrive typed.
func number(raw any) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	v := reflect.ValueOf(raw)
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	}
	return 0, false
}

// String describes the rule for prompts and error messages.
func (r Rule) String() string {
	switch r.Kind {
	case KindInteger:
		return fmt.Sprintf("integer %d-%d", r.Min, r.Max)
	case KindEnum:
		return "one of " + strings.Join(r.Values, ", ")
	case KindText:
		return fmt.Sprintf("text up to %d characters", r.MaxLen)
	case KindBoolean:
		return "true or false"
	}
	return string(r.Kind)
}
