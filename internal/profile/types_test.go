package profile

import (
	"encoding/json"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ptr[T any](v T) *T { return &v }

func fullProfile() Profile {
	p := New("u1")
	p.Age = ptr(28)
	p.Gender = ptr(GenderMale)
	p.Height = ptr(175)
	p.Weight = ptr(75)
	p.FitnessLevel = ptr(LevelIntermediate)
	p.FitnessGoal = ptr("run a marathon")
	return p
}

func TestStepOrder(t *testing.T) {
	if !StepGreeting.Valid() || Step("bogus").Valid() {
		t.Fatal("Valid() misclassifies steps")
	}
	for i := 1; i < len(Steps); i++ {
		if Steps[i].Index() <= Steps[i-1].Index() {
			t.Errorf("step %s not after %s", Steps[i], Steps[i-1])
		}
	}
	if Step("bogus").Index() != -1 {
		t.Error("unknown step should have index -1")
	}
}

func TestMissing(t *testing.T) {
	p := New("u1")
	if got := p.Missing(); !slices.Equal(got, AllFields) {
		t.Errorf("Missing() on empty profile = %v", got)
	}

	p.Height = ptr(175)
	p.Weight = ptr(75)
	want := []Field{FieldAge, FieldGender}
	if got := p.Missing(BasicFields...); !slices.Equal(got, want) {
		t.Errorf("Missing(basic) = %v, want %v", got, want)
	}
}

func TestMissing_InvalidCountsAsMissing(t *testing.T) {
	p := fullProfile()
	p.Age = ptr(150)
	p.Gender = ptr(Gender("other"))

	want := []Field{FieldAge, FieldGender}
	if got := p.Missing(); !slices.Equal(got, want) {
		t.Errorf("Missing() = %v, want %v", got, want)
	}
	if got := p.Invalid(); !slices.Equal(got, want) {
		t.Errorf("Invalid() = %v, want %v", got, want)
	}
	if p.IsComplete() {
		t.Error("profile with invalid values reported complete")
	}
}

func TestIsComplete_RandomCombinations(t *testing.T) {
	full := fullProfile()
	rng := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		p := full.Clone()
		var cleared []Field
		for _, f := range AllFields {
			if rng.IntN(2) == 0 {
				p.Clear(f)
				cleared = append(cleared, f)
			}
		}
		if got := p.IsComplete(); got != (len(cleared) == 0) {
			t.Fatalf("IsComplete() = %v with cleared %v", got, cleared)
		}
		if got := p.Missing(); !slices.Equal(got, cleared) {
			t.Fatalf("Missing() = %v, want %v", got, cleared)
		}
	}
}

func TestMerge_Monotonic(t *testing.T) {
	p := New("u1")
	p.Height = ptr(175)
	p.Weight = ptr(75)

	merged := p.Merge(SparseFields{Age: ptr(28), Gender: ptr(GenderMale)})
	for _, f := range BasicFields {
		if !merged.IsSet(f) {
			t.Errorf("field %s lost or missing after merge", f)
		}
	}

	again := merged.Merge(SparseFields{})
	if diff := cmp.Diff(merged, again); diff != "" {
		t.Errorf("empty merge changed profile (-want +got):\n%s", diff)
	}
	if p.Age != nil {
		t.Error("Merge mutated its receiver")
	}
}

func TestClone_Deep(t *testing.T) {
	p := fullProfile()
	cp := p.Clone()
	*cp.Age = 50
	*cp.FitnessGoal = "other"
	if *p.Age != 28 || *p.FitnessGoal != "run a marathon" {
		t.Error("Clone shares pointers with the original")
	}
}

func TestKnown(t *testing.T) {
	p := New("u1")
	p.Age = ptr(28)
	p.Weight = ptr(500)

	want := map[Field]any{FieldAge: 28}
	if diff := cmp.Diff(want, p.Known()); diff != "" {
		t.Errorf("Known() mismatch (-want +got):\n%s", diff)
	}
}

func TestProfileJSON(t *testing.T) {
	p := New("u1")
	p.Gender = ptr(GenderFemale)

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["registrationStep"] != "greeting" || m["gender"] != "female" {
		t.Errorf("unexpected JSON: %s", b)
	}
	if v, ok := m["fitnessLevel"]; !ok || v != nil {
		t.Errorf("absent fitnessLevel should encode as null: %s", b)
	}
}
