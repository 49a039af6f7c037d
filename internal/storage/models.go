package storage

import (
	"database/sql"
	"errors"

	"github.com/kalambet/fitreg/internal/profile"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an external id is already registered.
	ErrConflict = errors.New("already exists")
)

// DefaultListLimit caps list queries when the caller passes no limit.
const DefaultListLimit = 50

// Columns maps profile fields to users table columns.
var Columns = map[profile.Field]string{
	profile.FieldAge:          "age",
	profile.FieldGender:       "gender",
	profile.FieldHeight:       "height",
	profile.FieldWeight:       "weight",
	profile.FieldFitnessLevel: "fitness_level",
	profile.FieldFitnessGoal:  "fitness_goal",
}

// Assignment is one column update derived from a profile.Patch. A nil Value
// writes NULL.
type Assignment struct {
	Column string
	Value  any
}

// Assignments turns patch into column updates in a stable order: set fields,
// cleared fields, then the registration step.
func Assignments(patch profile.Patch) []Assignment {
	var out []Assignment
	for _, f := range patch.Set.Present() {
		v, _ := patch.Set.Value(f)
		out = append(out, Assignment{Column: Columns[f], Value: v})
	}
	for _, f := range patch.Clear {
		out = append(out, Assignment{Column: Columns[f], Value: nil})
	}
	if patch.Step != nil {
		out = append(out, Assignment{Column: "registration_step", Value: string(*patch.Step)})
	}
	return out
}

// ProfileColumns receives the nullable attribute columns of a users row.
type ProfileColumns struct {
	Age, Height, Weight               sql.NullInt64
	Gender, FitnessLevel, FitnessGoal sql.NullString
}

// Dest returns scan destinations in the order age, gender, height, weight,
// fitness_level, fitness_goal.
func (c *ProfileColumns) Dest() []any {
	return []any{&c.Age, &c.Gender, &c.Height, &c.Weight, &c.FitnessLevel, &c.FitnessGoal}
}

// ApplyTo copies the scanned values into p.
func (c ProfileColumns) ApplyTo(p *profile.Profile) {
	p.Age = nullInt(c.Age)
	p.Height = nullInt(c.Height)
	p.Weight = nullInt(c.Weight)
	if c.Gender.Valid {
		g := profile.Gender(c.Gender.String)
		p.Gender = &g
	}
	if c.FitnessLevel.Valid {
		l := profile.FitnessLevel(c.FitnessLevel.String)
		p.FitnessLevel = &l
	}
	if c.FitnessGoal.Valid {
		s := c.FitnessGoal.String
		p.FitnessGoal = &s
	}
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ClampPage normalizes list paging arguments.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
