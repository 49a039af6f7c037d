package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/fitreg/internal/profile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) || len(v1) != 2 {
		t.Errorf("migrations = %v then %v, want 2 both times", v1, v2)
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_users_created", "idx_turns_user_created"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "tg:1")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.ID == "" {
		t.Fatal("empty id")
	}
	if created.RegistrationStep != profile.StepGreeting {
		t.Errorf("step = %s, want greeting", created.RegistrationStep)
	}

	got, err := s.GetUser(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("GetUser mismatch (-want +got):\n%s", diff)
	}

	byExt, err := s.GetUserByExternalID(ctx, "tg:1")
	if err != nil {
		t.Fatalf("GetUserByExternalID: %v", err)
	}
	if byExt.ID != created.ID {
		t.Errorf("GetUserByExternalID id = %s, want %s", byExt.ID, created.ID)
	}
}

func TestCreateUser_Conflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "tg:1"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, "tg:1"); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate err = %v, want ErrConflict", err)
	}

	// Users without external id never conflict.
	for range 2 {
		if _, err := s.CreateUser(ctx, ""); err != nil {
			t.Fatalf("CreateUser(\"\"): %v", err)
		}
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetUser(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetUserByExternalID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserByExternalID err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateProfileData(ctx, "nope", profile.Patch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProfileData err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteUser(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteUser err = %v, want ErrNotFound", err)
	}
}

func TestUpdateProfileData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	u, err := s.CreateUser(ctx, "")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	step := profile.StepCollectingLevel
	s.now = func() time.Time { return base.Add(time.Minute) }
	err = s.UpdateProfileData(ctx, u.ID, profile.Patch{
		Set: profile.SparseFields{
			Age: ptr(28), Gender: ptr(profile.GenderMale), Height: ptr(175), Weight: ptr(75),
		},
		Step: &step,
	})
	if err != nil {
		t.Fatalf("UpdateProfileData: %v", err)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	want := u
	want.Age, want.Gender, want.Height, want.Weight = ptr(28), ptr(profile.GenderMale), ptr(175), ptr(75)
	want.RegistrationStep = profile.StepCollectingLevel
	want.UpdatedAt = base.Add(time.Minute)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}

	// Clearing touches only the named field.
	if err := s.UpdateProfileData(ctx, u.ID, profile.Patch{Clear: []profile.Field{profile.FieldHeight}}); err != nil {
		t.Fatalf("UpdateProfileData clear: %v", err)
	}
	got, err = s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Height != nil {
		t.Errorf("height = %d, want nil", *got.Height)
	}
	if got.Weight == nil || *got.Weight != 75 {
		t.Errorf("weight changed: %v", got.Weight)
	}
}

func TestUpdateProfileData_DiffRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before, err := s.CreateUser(ctx, "")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	after := before.Clone()
	after.FitnessLevel = ptr(profile.LevelAdvanced)
	after.FitnessGoal = ptr("run a marathon")
	after.RegistrationStep = profile.StepConfirmation

	if err := s.UpdateProfileData(ctx, before.ID, profile.Diff(before, after)); err != nil {
		t.Fatalf("UpdateProfileData: %v", err)
	}
	got, err := s.GetUser(ctx, before.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if diff := cmp.Diff(profile.Patch{}, profile.Diff(after, got)); diff != "" {
		t.Errorf("stored profile differs (-want +got):\n%s", diff)
	}
}

func TestListAndCountUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 5 {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		u, err := s.CreateUser(ctx, fmt.Sprintf("tg:%d", i))
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		ids = append(ids, u.ID)
	}

	page, err := s.ListUsers(ctx, 2, 1)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[1] || page[1].ID != ids[2] {
		t.Errorf("page = %v, want ids %v", page, ids[1:3])
	}

	all, err := s.ListUsers(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("len = %d, want 5", len(all))
	}

	step := profile.StepComplete
	if err := s.UpdateProfileData(ctx, ids[0], profile.Patch{Step: &step}); err != nil {
		t.Fatalf("UpdateProfileData: %v", err)
	}
	counts, err := s.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	want := map[profile.Step]int{profile.StepGreeting: 4, profile.StepComplete: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestTurns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	turns := []profile.Turn{
		{UserID: u.ID, StepBefore: profile.StepGreeting, StepAfter: profile.StepCollectingBasic, UserText: "/start", Reply: "Hi!", CreatedAt: base},
		{UserID: u.ID, StepBefore: profile.StepCollectingBasic, StepAfter: profile.StepCollectingBasic, UserText: "175 cm", Reply: "Thanks!",
			Extracted: []profile.Field{profile.FieldHeight}, CreatedAt: base.Add(time.Second)},
	}
	for _, turn := range turns {
		if err := s.SaveTurn(ctx, turn); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}

	got, err := s.ListTurns(ctx, u.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID == "" {
		t.Error("turn id not generated")
	}
	if got[0].UserText != "/start" || got[1].UserText != "175 cm" {
		t.Errorf("turn order wrong: %q, %q", got[0].UserText, got[1].UserText)
	}
	if diff := cmp.Diff([]profile.Field{profile.FieldHeight}, got[1].Extracted); diff != "" {
		t.Errorf("Extracted mismatch (-want +got):\n%s", diff)
	}
	if !got[1].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("CreatedAt = %v", got[1].CreatedAt)
	}

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	got, err = s.ListTurns(ctx, u.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListTurns after delete: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("turns survived user deletion: %d", len(got))
	}
}

func TestSaveTurn_UnknownUser(t *testing.T) {
	s := openTestStore(t)

	err := s.SaveTurn(context.Background(), profile.Turn{UserID: "ghost", StepBefore: profile.StepGreeting, StepAfter: profile.StepGreeting})
	if err == nil {
		t.Error("expected foreign key error")
	}
}
