// internal/commitcache/cache.go

// Package commitcache mirrors fetched commit summaries into a local SQLite
// store so project views reload without re-hitting the GitHub API. The cache
// is best-effort acceleration: if the store cannot be opened, every operation
// degrades to a no-op rather than failing the caller.
package commitcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"repo-docs-service/internal/model"
)

// schemaVersion marks the current cache layout. The legacy flat-JSON import
// runs once, the first time the store reaches this version.
const schemaVersion = 1

// Cache is the project-partitioned commit store. The zero-value-like no-op
// form (db == nil) is what Open returns when the store is unusable.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string][]chan struct{}
}

// Open creates (or opens) the cache under dir and runs the one-time legacy
// import. Open never fails: an unusable path yields a disabled cache.
func Open(dir string, logger *slog.Logger) *Cache {
	c := &Cache{logger: logger, subs: map[string][]chan struct{}{}}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Warn("Commit cache disabled: cannot create directory", "dir", dir, "error", err)
		return c
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "commits.db")+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		logger.Warn("Commit cache disabled: cannot open store", "error", err)
		return c
	}

	if err := initSchema(db); err != nil {
		logger.Warn("Commit cache disabled: cannot initialize schema", "error", err)
		db.Close()
		return c
	}
	c.db = db

	if err := c.importLegacy(dir); err != nil {
		logger.Warn("Legacy commit import failed", "error", err)
	}
	return c
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS commit_cache (
			project_id   TEXT NOT NULL,
			hash         TEXT NOT NULL,
			position     INTEGER NOT NULL,
			data         TEXT NOT NULL,
			PRIMARY KEY (project_id, hash)
		);
		CREATE INDEX IF NOT EXISTS idx_commit_cache_project
			ON commit_cache (project_id, position);
	`)
	return err
}

// Enabled reports whether a backing store is available.
func (c *Cache) Enabled() bool { return c.db != nil }

// Save fully replaces the cached set for projectID in one transaction, so no
// stale commit from a previous branch or URL can linger after a refresh.
// Subscribers for the project are notified on success.
func (c *Cache) Save(ctx context.Context, projectID string, commits []model.CommitSummary) error {
	if c.db == nil {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commitcache: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM commit_cache WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("commitcache: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO commit_cache (project_id, hash, position, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("commitcache: prepare: %w", err)
	}
	defer stmt.Close()

	for i, commit := range commits {
		data, err := json.Marshal(commit)
		if err != nil {
			return fmt.Errorf("commitcache: encode %s: %w", commit.Hash, err)
		}
		if _, err := stmt.ExecContext(ctx, projectID, commit.Hash, i, string(data)); err != nil {
			return fmt.Errorf("commitcache: insert %s: %w", commit.Hash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commitcache: commit: %w", err)
	}

	c.notify(projectID)
	return nil
}

// Load returns the cached commits for projectID in their saved order.
// A disabled cache returns an empty set.
func (c *Cache) Load(ctx context.Context, projectID string) ([]model.CommitSummary, error) {
	if c.db == nil {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT data FROM commit_cache WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("commitcache: load: %w", err)
	}
	defer rows.Close()

	var out []model.CommitSummary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var commit model.CommitSummary
		if err := json.Unmarshal([]byte(data), &commit); err != nil {
			// A corrupt row is dropped, not fatal.
			c.logger.Warn("Dropping corrupt cache row", "project_id", projectID, "error", err)
			continue
		}
		out = append(out, commit)
	}
	return out, rows.Err()
}

// Subscribe returns a channel that receives a signal whenever the cached set
// for projectID is replaced, so other in-process consumers re-read the cache
// without polling.
func (c *Cache) Subscribe(projectID string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subs[projectID] = append(c.subs[projectID], ch)
	c.mu.Unlock()
	return ch
}

func (c *Cache) notify(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs[projectID] {
		select {
		case ch <- struct{}{}:
		default: // subscriber hasn't drained the last signal
		}
	}
}

// Close releases the backing store.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// importLegacy migrates the older flat-JSON files (commits-<project>.json)
// into the store. Runs once, guarded by a version marker; entries missing
// required fields are dropped defensively; imported files are removed.
func (c *Cache) importLegacy(dir string) error {
	var version string
	err := c.db.QueryRow(`SELECT value FROM cache_meta WHERE key = 'schema_version'`).Scan(&version)
	if err == nil && version == fmt.Sprint(schemaVersion) {
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "commits-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		projectID := strings.TrimSuffix(strings.TrimPrefix(name, "commits-"), ".json")
		path := filepath.Join(dir, name)

		raw, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("Skipping unreadable legacy file", "path", path, "error", err)
			continue
		}
		var legacy []model.CommitSummary
		if err := json.Unmarshal(raw, &legacy); err != nil {
			c.logger.Warn("Skipping malformed legacy file", "path", path, "error", err)
			continue
		}

		valid := legacy[:0]
		for _, commit := range legacy {
			if commit.Hash == "" || commit.Message == "" || commit.Author == "" || commit.Date.IsZero() {
				continue
			}
			valid = append(valid, commit)
		}

		if err := c.Save(context.Background(), projectID, valid); err != nil {
			c.logger.Warn("Legacy import save failed", "project_id", projectID, "error", err)
			continue
		}
		if err := os.Remove(path); err != nil {
			c.logger.Warn("Could not remove imported legacy file", "path", path, "error", err)
		}
		c.logger.Info("Imported legacy commit cache", "project_id", projectID, "commits", len(valid))
	}

	_, err = c.db.Exec(
		`INSERT INTO cache_meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, fmt.Sprint(schemaVersion))
	return err
}
