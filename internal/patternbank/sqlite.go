package patternbank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/foundry/internal/request"
)

const schema = `
CREATE TABLE IF NOT EXISTS patterns (
	id             TEXT PRIMARY KEY,
	source_role    TEXT NOT NULL,
	description    TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	success        INTEGER NOT NULL,
	frequency      INTEGER NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	false_memory   INTEGER NOT NULL DEFAULT 0,
	contradictions INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_patterns_role ON patterns(source_role);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	request_name  TEXT NOT NULL,
	completed_at  TEXT NOT NULL,
	overall_score REAL NOT NULL,
	feature_count INTEGER NOT NULL,
	waves         INTEGER NOT NULL
);
`

// LocalStore is the sqlite-backed Store used when no shared backend is
// configured, and always kept as the fallback when one is.
type LocalStore struct {
	db *sql.DB
}

// OpenLocal opens (or creates) the sqlite database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func OpenLocal(path string) (*LocalStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// sqlite works best with a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &LocalStore{db: db}, nil
}

func (s *LocalStore) GetPattern(ctx context.Context, id string) (*Pattern, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_role, description, outcome, success, frequency,
		       created_at, updated_at, false_memory, contradictions
		FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *LocalStore) PutPattern(ctx context.Context, p *Pattern) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (id, source_role, description, outcome, success,
		                      frequency, created_at, updated_at, false_memory, contradictions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			outcome = excluded.outcome,
			success = excluded.success,
			frequency = excluded.frequency,
			updated_at = excluded.updated_at,
			false_memory = excluded.false_memory,
			contradictions = excluded.contradictions`,
		p.ID, string(p.SourceRole), p.Description, p.Outcome, boolInt(p.Success),
		p.Frequency, p.CreatedAt.UTC().Format(time.RFC3339Nano),
		p.UpdatedAt.UTC().Format(time.RFC3339Nano), boolInt(p.FalseMemory), p.Contradictions)
	if err != nil {
		return fmt.Errorf("put pattern %s: %w", p.ID, err)
	}
	return nil
}

func (s *LocalStore) DeletePattern(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM patterns WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete pattern %s: %w", id, err)
	}
	return nil
}

func (s *LocalStore) ListPatterns(ctx context.Context, role request.Role) ([]*Pattern, error) {
	query := `
		SELECT id, source_role, description, outcome, success, frequency,
		       created_at, updated_at, false_memory, contradictions
		FROM patterns`
	args := []any{}
	if role != "" {
		query += ` WHERE source_role = ?`
		args = append(args, string(role))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []*Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *LocalStore) PutRun(ctx context.Context, r *RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, request_name, completed_at, overall_score, feature_count, waves)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			overall_score = excluded.overall_score,
			feature_count = excluded.feature_count,
			waves = excluded.waves`,
		r.ID, r.RequestName, r.CompletedAt.UTC().Format(time.RFC3339Nano),
		r.OverallScore, r.FeatureCount, r.Waves)
	if err != nil {
		return fmt.Errorf("put run %s: %w", r.ID, err)
	}
	return nil
}

func (s *LocalStore) ListRuns(ctx context.Context) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_name, completed_at, overall_score, feature_count, waves
		FROM runs ORDER BY completed_at`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		var r RunRecord
		var completed string
		if err := rows.Scan(&r.ID, &r.RequestName, &completed, &r.OverallScore, &r.FeatureCount, &r.Waves); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
			return nil, fmt.Errorf("parse run timestamp: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *LocalStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*Pattern, error) {
	var (
		p                  Pattern
		role               string
		success, falseMem  int
		created, updated   string
	)
	err := row.Scan(&p.ID, &role, &p.Description, &p.Outcome, &success,
		&p.Frequency, &created, &updated, &falseMem, &p.Contradictions)
	if err != nil {
		return nil, err
	}
	p.SourceRole = request.Role(role)
	p.Success = success != 0
	p.FalseMemory = falseMem != 0
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
