package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is executed on every open (idempotent via IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    key            TEXT PRIMARY KEY,
    current_branch TEXT NOT NULL DEFAULT '',
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS branches (
    conversation_key TEXT NOT NULL,
    id               TEXT NOT NULL,
    name             TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    parent_id        TEXT NOT NULL DEFAULT '',
    sort_order       INTEGER NOT NULL DEFAULT 0,
    created_by       TEXT NOT NULL DEFAULT '',
    created_at       TEXT NOT NULL,
    PRIMARY KEY (conversation_key, id)
);
CREATE INDEX IF NOT EXISTS idx_branches_parent ON branches(conversation_key, parent_id);
`

// SQLiteStore persists branch labels and branch trees in a SQLite file so
// they survive restarts. Conversation history is never stored.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLite opens (or creates) the state database at path. It enables WAL
// mode and creates all tables.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "./data/relaybot.db"
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory %q: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	// A single connection serialises writers and keeps WAL happy.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) ensure(ctx context.Context, key string) error {
	ts := s.timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (key, current_branch, created_at, updated_at) VALUES (?, '', ?, ?)`,
		key, ts, ts)
	if err != nil {
		return fmt.Errorf("create context %q: %w", key, err)
	}
	return nil
}

// Get returns key's context, creating it if needed.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(ctx, key); err != nil {
		return nil, err
	}

	var c Context
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT key, current_branch, created_at, updated_at FROM conversations WHERE key = ?`, key,
	).Scan(&c.Key, &c.CurrentBranch, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("load context %q: %w", key, err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &c, nil
}

// SetCurrentBranch updates the branch label for key.
func (s *SQLiteStore) SetCurrentBranch(ctx context.Context, key, branch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(ctx, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET current_branch = ?, updated_at = ? WHERE key = ?`,
		branch, s.timestamp(), key)
	if err != nil {
		return fmt.Errorf("set branch for %q: %w", key, err)
	}
	return nil
}

// CreateBranch adds a branch to key's tree.
func (s *SQLiteStore) CreateBranch(ctx context.Context, key string, b Branch) (Branch, error) {
	if err := validateBranch(b); err != nil {
		return Branch{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(ctx, key); err != nil {
		return Branch{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Branch{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM branches WHERE conversation_key = ? AND id = ?`, key, b.ID,
	).Scan(&n); err != nil {
		return Branch{}, fmt.Errorf("check branch: %w", err)
	}
	if n > 0 {
		return Branch{}, fmt.Errorf("%w: %q", ErrBranchExists, b.ID)
	}

	if b.ParentID != "" {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM branches WHERE conversation_key = ? AND id = ?`, key, b.ParentID,
		).Scan(&n); err != nil {
			return Branch{}, fmt.Errorf("check parent: %w", err)
		}
		if n == 0 {
			return Branch{}, fmt.Errorf("%w: parent %q", ErrBranchNotFound, b.ParentID)
		}
	}

	var maxOrder int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order), 0) FROM branches WHERE conversation_key = ? AND parent_id = ?`,
		key, b.ParentID,
	).Scan(&maxOrder); err != nil {
		return Branch{}, fmt.Errorf("sort order: %w", err)
	}

	if b.Name == "" {
		b.Name = b.ID
	}
	b.SortOrder = maxOrder + 1
	b.CreatedAt = s.now().UTC()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO branches (conversation_key, id, name, description, parent_id, sort_order, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key, b.ID, b.Name, b.Description, b.ParentID, b.SortOrder, b.CreatedBy,
		b.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Branch{}, fmt.Errorf("insert branch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Branch{}, fmt.Errorf("commit: %w", err)
	}
	return b, nil
}

// Branches lists key's branches.
func (s *SQLiteStore) Branches(ctx context.Context, key string) ([]Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, parent_id, sort_order, created_by, created_at
		 FROM branches WHERE conversation_key = ? ORDER BY parent_id, sort_order`, key)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		var b Branch
		var created string
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.ParentID, &b.SortOrder, &b.CreatedBy, &created); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortBranches(out)
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
