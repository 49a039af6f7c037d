package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/fitreg/internal/engine"
	"github.com/kalambet/fitreg/internal/profile"
)

// mockChatter implements Chatter for testing.
type mockChatter struct {
	response string
	err      error
	delay    time.Duration

	calls    int
	messages []engine.Message
	schema   *engine.Schema
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error) {
	m.calls++
	m.messages = messages
	m.schema = jsonSchema
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func ptr[T any](v T) *T { return &v }

func TestExtract_AllBasicFields(t *testing.T) {
	mock := &mockChatter{response: `{"age":28,"gender":"male","height":180,"weight":75}`}
	e := NewExtractor(mock, "phi3.5")

	got, err := e.Extract(context.Background(), profile.New("u1"), "I'm 28, male, 180 cm, 75 kg", profile.BasicFields...)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := profile.SparseFields{Age: ptr(28), Gender: ptr(profile.GenderMale), Height: ptr(180), Weight: ptr(75)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_TargetsOnlyMissing(t *testing.T) {
	mock := &mockChatter{response: `{"age":28,"gender":"male","height":190,"weight":90}`}
	e := NewExtractor(mock, "phi3.5")

	user := profile.New("u1")
	user.Height = ptr(175)
	user.Weight = ptr(75)

	got, err := e.Extract(context.Background(), user, "I am 28, male", profile.BasicFields...)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if !slices.Equal(got.Present(), []profile.Field{profile.FieldAge, profile.FieldGender}) {
		t.Errorf("Present() = %v, want only the missing fields", got.Present())
	}
	if len(mock.schema.Properties) != 2 {
		t.Errorf("schema asks for %d fields, want 2", len(mock.schema.Properties))
	}
	if !strings.Contains(mock.messages[1].Content, "height: 175") {
		t.Error("known values not passed to the prompt")
	}
}

func TestExtract_OutOfRangeDropped(t *testing.T) {
	mock := &mockChatter{response: `{"age":150,"gender":"male"}`}
	got, err := NewExtractor(mock, "m").Extract(context.Background(), profile.New("u1"), "I'm 150", profile.FieldAge, profile.FieldGender)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Has(profile.FieldAge) {
		t.Error("out-of-range age kept")
	}
	if !got.Has(profile.FieldGender) {
		t.Error("valid gender dropped along with invalid age")
	}
}

func TestExtract_InRangeKept(t *testing.T) {
	mock := &mockChatter{response: `{"age":55}`}
	got, _ := NewExtractor(mock, "m").Extract(context.Background(), profile.New("u1"), "55 years", profile.FieldAge)
	if got.Age == nil || *got.Age != 55 {
		t.Errorf("Age = %v, want 55", got.Age)
	}
}

func TestExtract_ModelFailureIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		mock *mockChatter
	}{
		{"malformed json", &mockChatter{response: `{"age": 28,`}},
		{"prose", &mockChatter{response: "I could not find anything."}},
		{"backend error", &mockChatter{err: errors.New("connection refused")}},
		{"missing model", &mockChatter{err: fmt.Errorf("%w: phi9", engine.ErrModelNotFound)}},
		{"bad envelope", &mockChatter{response: `{"hasData":"yes"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewExtractor(tt.mock, "m").Extract(context.Background(), profile.New("u1"), "hello")
			if err != nil {
				t.Fatalf("Extract returned error %v, want swallowed failure", err)
			}
			if !got.IsEmpty() {
				t.Errorf("Extract() = %+v, want empty", got)
			}
		})
	}
}

func TestExtract_Timeout(t *testing.T) {
	mock := &mockChatter{response: `{"age":30}`, delay: 5 * time.Second}
	e := NewExtractor(mock, "m", WithTimeout(50*time.Millisecond))

	start := time.Now()
	got, err := e.Extract(context.Background(), profile.New("u1"), "I'm 30")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("extraction took %v, want timeout near 50ms", elapsed)
	}
	if !got.IsEmpty() {
		t.Errorf("Extract() = %+v, want empty on timeout", got)
	}
}

func TestExtract_EmptyTextIsInvalidInput(t *testing.T) {
	mock := &mockChatter{}
	_, err := NewExtractor(mock, "m").Extract(context.Background(), profile.New("u1"), "   ")

	var inv *InvalidInputError
	if !errors.As(err, &inv) || !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want InvalidInputError", err)
	}
	if mock.calls != 0 {
		t.Error("model called for empty text")
	}
}

func TestExtract_NothingMissingSkipsCall(t *testing.T) {
	mock := &mockChatter{}
	user := profile.New("u1")
	user.FitnessLevel = ptr(profile.LevelBeginner)

	got, err := NewExtractor(mock, "m").Extract(context.Background(), user, "advanced", profile.FieldFitnessLevel)
	if err != nil || !got.IsEmpty() {
		t.Fatalf("Extract = %+v, %v", got, err)
	}
	if mock.calls != 0 {
		t.Errorf("model called %d times, want 0", mock.calls)
	}
}

func TestExtractFields_OverwritesSetField(t *testing.T) {
	mock := &mockChatter{response: `{"age":29}`}
	user := profile.New("u1")
	user.Age = ptr(28)

	got, err := NewExtractor(mock, "m").ExtractFields(context.Background(), user, "actually I'm 29", []profile.Field{profile.FieldAge})
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if got.Age == nil || *got.Age != 29 {
		t.Errorf("Age = %v, want 29", got.Age)
	}
}

func TestChatFunc(t *testing.T) {
	var called bool
	fn := ChatFunc(func(_ context.Context, model string, _ []engine.Message, _ *engine.Schema) (string, error) {
		called = true
		return fmt.Sprintf(`{"fitnessGoal":"%s"}`, model), nil
	})

	got, _ := NewExtractor(fn, "lose weight").Extract(context.Background(), profile.New("u1"), "goal", profile.FieldFitnessGoal)
	if !called || got.FitnessGoal == nil || *got.FitnessGoal != "lose weight" {
		t.Errorf("ChatFunc result = %+v", got)
	}
}
