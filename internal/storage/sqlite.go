package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalambet/fitreg/internal/profile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat sorts lexicographically in UTC.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// Store wraps a SQLite database holding user profiles and their dialogue turns.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "fitreg.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate applies the embedded SQL migrations that have not been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Users ---

const userColumns = `id, external_id, age, gender, height, weight, fitness_level, fitness_goal, registration_step, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (profile.Profile, error) {
	var (
		p                    profile.Profile
		externalID           sql.NullString
		cols                 ProfileColumns
		step                 string
		createdAt, updatedAt string
	)
	dest := append([]any{&p.ID, &externalID}, cols.Dest()...)
	dest = append(dest, &step, &createdAt, &updatedAt)
	if err := row.Scan(dest...); err != nil {
		return profile.Profile{}, err
	}

	p.ExternalID = externalID.String
	cols.ApplyTo(&p)
	p.RegistrationStep = profile.Step(step)

	var err error
	if p.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return profile.Profile{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return profile.Profile{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

func (s *Store) timestamp() (time.Time, string) {
	t := s.now().UTC().Truncate(time.Microsecond)
	return t, t.Format(timeFormat)
}

// CreateUser inserts an empty profile at the greeting step. An empty
// externalID stores NULL; a duplicate returns ErrConflict.
func (s *Store) CreateUser(ctx context.Context, externalID string) (profile.Profile, error) {
	p := profile.New(uuid.NewString())
	p.ExternalID = externalID
	t, ts := s.timestamp()
	p.CreatedAt, p.UpdatedAt = t, t

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, external_id, registration_step, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, NullString(externalID), string(p.RegistrationStep), ts, ts,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return profile.Profile{}, fmt.Errorf("external id %s: %w", externalID, ErrConflict)
		}
		return profile.Profile{}, fmt.Errorf("inserting user: %w", err)
	}
	return p, nil
}

// GetUser returns the profile with id, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (profile.Profile, error) {
	p, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, ErrNotFound
	}
	return p, err
}

// GetUserByExternalID returns the profile registered under externalID, or
// ErrNotFound.
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (profile.Profile, error) {
	p, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Profile{}, ErrNotFound
	}
	return p, err
}

// UpdateProfileData writes the fields named in patch and nothing else.
func (s *Store) UpdateProfileData(ctx context.Context, id string, patch profile.Patch) error {
	assignments := Assignments(patch)
	_, ts := s.timestamp()

	sets := make([]string, 0, len(assignments)+1)
	args := make([]any, 0, len(assignments)+2)
	for _, a := range assignments {
		sets = append(sets, a.Column+" = ?")
		args = append(args, a.Value)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, ts, id)

	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns profiles ordered by creation time.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]profile.Profile, error) {
	limit, offset = ClampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []profile.Profile
	for rows.Next() {
		p, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// CountUsers returns the number of users by registration step.
func (s *Store) CountUsers(ctx context.Context) (map[profile.Step]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT registration_step, COUNT(*) FROM users GROUP BY registration_step`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[profile.Step]int)
	for rows.Next() {
		var (
			step string
			n    int
		)
		if err := rows.Scan(&step, &n); err != nil {
			return nil, err
		}
		counts[profile.Step(step)] = n
	}
	return counts, rows.Err()
}

// DeleteUser removes a user and its turns.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("deleting turns of %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// --- Turns ---

// SaveTurn appends a dialogue turn. Missing id and timestamp are filled in.
func (s *Store) SaveTurn(ctx context.Context, t profile.Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	ts := t.CreatedAt.UTC().Format(timeFormat)
	if t.CreatedAt.IsZero() {
		_, ts = s.timestamp()
	}
	extracted, err := json.Marshal(fieldsOrEmpty(t.Extracted))
	if err != nil {
		return fmt.Errorf("encoding extracted fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO turns (id, user_id, step_before, step_after, user_text, reply, extracted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.StepBefore), string(t.StepAfter), t.UserText, t.Reply, string(extracted), ts,
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

// ListTurns returns the turns of userID, oldest first.
func (s *Store) ListTurns(ctx context.Context, userID string, limit, offset int) ([]profile.Turn, error) {
	limit, offset = ClampPage(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, step_before, step_after, user_text, reply, extracted, created_at
		FROM turns WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`, userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []profile.Turn
	for rows.Next() {
		var (
			t                    profile.Turn
			before, after        string
			extracted, createdAt string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &before, &after, &t.UserText, &t.Reply, &extracted, &createdAt); err != nil {
			return nil, err
		}
		t.StepBefore, t.StepAfter = profile.Step(before), profile.Step(after)
		if err := json.Unmarshal([]byte(extracted), &t.Extracted); err != nil {
			return nil, fmt.Errorf("decoding extracted fields of turn %s: %w", t.ID, err)
		}
		if t.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func fieldsOrEmpty(fs []profile.Field) []profile.Field {
	if fs == nil {
		return []profile.Field{}
	}
	return fs
}
