package extract

import (
	"encoding/json"
	"strings"
)

// OutcomeKind classifies a model completion.
type OutcomeKind string

const (
	// Valid means the completion decoded to a JSON object of field values.
	Valid OutcomeKind = "valid"
	// Malformed means the completion was not a usable JSON object.
	Malformed OutcomeKind = "malformed"
	// Failed means the model call itself returned an error.
	Failed OutcomeKind = "failed"
)

// Outcome is the parsed result of one model call. Only Valid outcomes carry
// Fields; raw completion text never leaves this package.
type Outcome struct {
	Kind   OutcomeKind
	Fields map[string]any
	Err    error
}

// ParseCompletion decodes a model completion. It accepts a flat object of
// field values or the envelope {"hasData": bool, "data": {"fields": {...}}},
// and tolerates markdown code fences or prose around a single object.
func ParseCompletion(raw string) Outcome {
	obj, ok := jsonObject(raw)
	if !ok {
		return Outcome{Kind: Malformed}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return Outcome{Kind: Malformed, Err: err}
	}

	hasData, enveloped := fields["hasData"]
	if !enveloped {
		return Outcome{Kind: Valid, Fields: fields}
	}

	flag, ok := hasData.(bool)
	if !ok {
		return Outcome{Kind: Malformed}
	}
	if !flag {
		return Outcome{Kind: Valid, Fields: map[string]any{}}
	}
	data, ok := fields["data"].(map[string]any)
	if !ok {
		return Outcome{Kind: Malformed}
	}
	inner, ok := data["fields"].(map[string]any)
	if !ok {
		return Outcome{Kind: Malformed}
	}
	return Outcome{Kind: Valid, Fields: inner}
}

// jsonObject returns the text from the first '{' to the last '}' after
// stripping a surrounding markdown code fence. An object inside a JSON array
// is not a top-level object and is rejected.
func jsonObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	if strings.HasPrefix(s, "[") || strings.HasSuffix(strings.TrimSpace(s[:start]), "[") {
		return "", false
	}
	return s[start : end+1], true
}
