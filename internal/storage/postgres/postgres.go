// Package postgres is the PostgreSQL implementation of the profile store. It
// offers the same methods and errors as the SQLite store in package storage.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalambet/fitreg/internal/profile"
	"github.com/kalambet/fitreg/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultQueryTimeout bounds queries whose context has no deadline.
const DefaultQueryTimeout = 30 * time.Second

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// Pool is the subset of *pgxpool.Pool used by Store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store keeps profiles and turns in PostgreSQL.
type Store struct {
	pool Pool
}

// Open connects to dsn, forces UTC and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"
	poolConfig.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// New wraps an open pool without running migrations.
func New(pool Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

// Migrate applies the embedded migrations that have not been run yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS fitreg_schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fitreg_schema_version WHERE version = $1)`, version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if err := s.applyMigration(ctx, version, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version int, content string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, content); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO fitreg_schema_version (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

const userColumns = `id, external_id, age, gender, height, weight, fitness_level, fitness_goal, registration_step, created_at, updated_at`

func scanUser(row pgx.Row) (profile.Profile, error) {
	var (
		p          profile.Profile
		externalID sql.NullString
		cols       storage.ProfileColumns
		step       string
	)
	dest := append([]any{&p.ID, &externalID}, cols.Dest()...)
	dest = append(dest, &step, &p.CreatedAt, &p.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return profile.Profile{}, err
	}
	p.ExternalID = externalID.String
	cols.ApplyTo(&p)
	p.RegistrationStep = profile.Step(step)
	return p, nil
}

// CreateUser inserts an empty profile at the greeting step.
func (s *Store) CreateUser(ctx context.Context, externalID string) (profile.Profile, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p := profile.New(uuid.NewString())
	p.ExternalID = externalID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO fitreg_users (id, external_id, registration_step)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		p.ID, storage.NullString(externalID), string(p.RegistrationStep),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return profile.Profile{}, fmt.Errorf("external id %s: %w", externalID, storage.ErrConflict)
		}
		return profile.Profile{}, fmt.Errorf("inserting user: %w", err)
	}
	return p, nil
}

// GetUser returns the profile with id, or storage.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (profile.Profile, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM fitreg_users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return profile.Profile{}, storage.ErrNotFound
	}
	return p, err
}

// GetUserByExternalID returns the profile registered under externalID.
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (profile.Profile, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM fitreg_users WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return profile.Profile{}, storage.ErrNotFound
	}
	return p, err
}

// UpdateProfileData writes the fields named in patch and nothing else.
func (s *Store) UpdateProfileData(ctx context.Context, id string, patch profile.Patch) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	assignments := storage.Assignments(patch)
	sets := make([]string, 0, len(assignments)+1)
	args := make([]any, 0, len(assignments)+1)
	for i, a := range assignments {
		sets = append(sets, fmt.Sprintf("%s = $%d", a.Column, i+1))
		args = append(args, a.Value)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE fitreg_users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListUsers returns profiles ordered by creation time.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]profile.Profile, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	limit, offset = storage.ClampPage(limit, offset)
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM fitreg_users
		ORDER BY created_at ASC, id ASC LIMIT $1 OFFSET $2`, limit, offset)
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
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT registration_step, COUNT(*) FROM fitreg_users GROUP BY registration_step`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[profile.Step]int)
	for rows.Next() {
		var (
			step string
			n    int64
		)
		if err := rows.Scan(&step, &n); err != nil {
			return nil, err
		}
		counts[profile.Step(step)] = int(n)
	}
	return counts, rows.Err()
}

// DeleteUser removes a user. Its turns go with it through ON DELETE CASCADE.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM fitreg_users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveTurn appends a dialogue turn. Missing id and timestamp are filled in.
func (s *Store) SaveTurn(ctx context.Context, t profile.Turn) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	extracted := t.Extracted
	if extracted == nil {
		extracted = []profile.Field{}
	}
	data, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("encoding extracted fields: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO fitreg_turns (id, user_id, step_before, step_after, user_text, reply, extracted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UserID, string(t.StepBefore), string(t.StepAfter), t.UserText, t.Reply, string(data), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

// ListTurns returns the turns of userID, oldest first.
func (s *Store) ListTurns(ctx context.Context, userID string, limit, offset int) ([]profile.Turn, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	limit, offset = storage.ClampPage(limit, offset)
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, step_before, step_after, user_text, reply, extracted, created_at
		FROM fitreg_turns WHERE user_id = $1
		ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []profile.Turn
	for rows.Next() {
		var (
			t                        profile.Turn
			before, after, extracted string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &before, &after, &t.UserText, &t.Reply, &extracted, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.StepBefore, t.StepAfter = profile.Step(before), profile.Step(after)
		if err := json.Unmarshal([]byte(extracted), &t.Extracted); err != nil {
			return nil, fmt.Errorf("decoding extracted fields of turn %s: %w", t.ID, err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}
