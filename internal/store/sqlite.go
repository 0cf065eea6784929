package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arbiterlabs/specd/internal/idgen"
	"github.com/arbiterlabs/specd/internal/model"
)

// SQLite is a durable Store backed by modernc.org/sqlite (pure Go, no
// cgo), grounded on internal/db/sqlite.go's Open (WAL mode, foreign keys,
// numbered migrations) and internal/db/store.go's convention of storing
// struct-valued fields (Counters, Data, Metadata) as JSON text columns
// rather than a normalized side table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates a database at path and runs migrations.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return err
	}
	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

var migrations = []struct {
	version int
	sql     string
}{
	{1, `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	counters TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS fragments (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	path TEXT NOT NULL,
	content TEXT NOT NULL,
	author TEXT,
	message TEXT,
	content_hash TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(project_id, path)
);
CREATE TABLE IF NOT EXISTS versions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	spec_hash TEXT NOT NULL,
	resolved_json TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(project_id, spec_hash)
);
CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	description TEXT,
	language TEXT,
	framework TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	file_path TEXT
);
CREATE INDEX IF NOT EXISTS idx_artifacts_project ON artifacts(project_id);
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	type TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_events_project_time ON events(project_id, created_at);
`},
}

func (s *SQLite) EnsureProject(ctx context.Context, id, name string) (model.Project, error) {
	if p, ok, err := s.GetProject(ctx, id); err != nil {
		return model.Project{}, err
	} else if ok {
		return p, nil
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO projects (id, name, counters, created_at, updated_at) VALUES (?, ?, '{}', ?, ?)`,
		id, name, now, now)
	if err != nil {
		return model.Project{}, err
	}
	return model.Project{ID: id, Name: name, CreatedAt: now, UpdatedAt: now, Counters: map[string]int{}}, nil
}

func (s *SQLite) GetProject(ctx context.Context, id string) (model.Project, bool, error) {
	var p model.Project
	var counters string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, counters, created_at, updated_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &counters, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.Project{}, false, nil
	}
	if err != nil {
		return model.Project{}, false, err
	}
	if err := json.Unmarshal([]byte(counters), &p.Counters); err != nil {
		return model.Project{}, false, err
	}
	return p, true, nil
}

func (s *SQLite) UpdateCounters(ctx context.Context, id string, counters map[string]int) error {
	b, err := json.Marshal(counters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE projects SET counters = ?, updated_at = ? WHERE id = ?`, string(b), time.Now(), id)
	return err
}

func (s *SQLite) UpsertFragment(ctx context.Context, f model.Fragment) (model.Fragment, error) {
	existing, ok, err := s.GetFragment(ctx, f.ProjectID, f.Path)
	if err != nil {
		return model.Fragment{}, err
	}
	now := time.Now()
	if ok {
		f.ID = existing.ID
		f.CreatedAt = existing.CreatedAt
		f.UpdatedAt = now
		_, err = s.db.ExecContext(ctx, `UPDATE fragments SET content=?, author=?, message=?, content_hash=?, updated_at=? WHERE id=?`,
			f.Content, f.Author, f.Message, f.ContentHash, f.UpdatedAt, f.ID)
		return f, err
	}
	f.ID = idgen.New()
	f.CreatedAt = now
	f.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `INSERT INTO fragments (id, project_id, path, content, author, message, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProjectID, f.Path, f.Content, f.Author, f.Message, f.ContentHash, f.CreatedAt, f.UpdatedAt)
	return f, err
}

func (s *SQLite) GetFragment(ctx context.Context, projectID, path string) (model.Fragment, bool, error) {
	var f model.Fragment
	err := s.db.QueryRowContext(ctx, `SELECT id, project_id, path, content, author, message, content_hash, created_at, updated_at
		FROM fragments WHERE project_id = ? AND path = ?`, projectID, path).
		Scan(&f.ID, &f.ProjectID, &f.Path, &f.Content, &f.Author, &f.Message, &f.ContentHash, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.Fragment{}, false, nil
	}
	return f, err == nil, err
}

func (s *SQLite) ListFragments(ctx context.Context, projectID string) ([]model.Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, path, content, author, message, content_hash, created_at, updated_at
		FROM fragments WHERE project_id = ? ORDER BY path`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Fragment
	for rows.Next() {
		var f model.Fragment
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Path, &f.Content, &f.Author, &f.Message, &f.ContentHash, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLite) EnsureVersion(ctx context.Context, v model.Version) (model.Version, error) {
	if existing, ok, err := s.GetVersion(ctx, v.ProjectID, v.SpecHash); err != nil {
		return model.Version{}, err
	} else if ok {
		return existing, nil
	}
	v.ID = idgen.New()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO versions (id, project_id, spec_hash, resolved_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.ProjectID, v.SpecHash, v.ResolvedJSON, v.CreatedAt)
	return v, err
}

func (s *SQLite) GetVersion(ctx context.Context, projectID, specHash string) (model.Version, bool, error) {
	var v model.Version
	err := s.db.QueryRowContext(ctx, `SELECT id, project_id, spec_hash, resolved_json, created_at FROM versions WHERE project_id = ? AND spec_hash = ?`,
		projectID, specHash).Scan(&v.ID, &v.ProjectID, &v.SpecHash, &v.ResolvedJSON, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Version{}, false, nil
	}
	return v, err == nil, err
}

func (s *SQLite) ReplaceArtifacts(ctx context.Context, projectID string, artifacts []model.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	for _, a := range artifacts {
		meta, err := json.Marshal(a.Metadata)
		if err != nil {
			return err
		}
		id := a.ID
		if id == "" {
			id = idgen.New()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO artifacts (id, project_id, name, type, description, language, framework, metadata, file_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, projectID, a.Name, string(a.Type), a.Description, a.Language, a.Framework, string(meta), a.FilePath); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) ListArtifacts(ctx context.Context, projectID string) ([]model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, name, type, description, language, framework, metadata, file_path
		FROM artifacts WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var typ, meta string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Name, &typ, &a.Description, &a.Language, &a.Framework, &meta, &a.FilePath); err != nil {
			return nil, err
		}
		a.Type = model.ArtifactType(typ)
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendEvent(ctx context.Context, e model.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return err
	}
	active := 0
	if e.IsActive {
		active = 1
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO events (id, project_id, type, data, created_at, is_active) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, string(e.Type), string(data), e.CreatedAt, active)
	return err
}

func (s *SQLite) ListEvents(ctx context.Context, projectID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, type, data, created_at, is_active FROM events WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var e model.Event
		var typ, data string
		var active int
		if err := rows.Scan(&e.ID, &e.ProjectID, &typ, &data, &e.CreatedAt, &active); err != nil {
			return nil, err
		}
		e.Type = model.EventType(typ)
		e.IsActive = active != 0
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) SetEventsActive(ctx context.Context, projectID string, eventIDs []string, active bool) error {
	if len(eventIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range eventIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE events SET is_active = ? WHERE id = ? AND project_id = ?`, active, id, projectID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
