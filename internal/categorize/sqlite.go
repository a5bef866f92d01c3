package categorize

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache persists classification results in a local SQLite database,
// keyed by signature. last_used is touched on every hit so Prune can evict
// least-recently-used entries.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens (and if needed creates) the cache database at path.
func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLiteCache: open %q: %w", path, err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS category_cache (
			signature  TEXT PRIMARY KEY,
			category   TEXT NOT NULL,
			tags       TEXT NOT NULL,
			confidence REAL NOT NULL,
			last_used  TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_category_cache_last_used
			ON category_cache (last_used);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("OpenSQLiteCache: creating schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// Get implements Cache. A hit refreshes last_used.
func (c *SQLiteCache) Get(ctx context.Context, signature string) (*Result, bool, error) {
	var (
		res      Result
		tagsJSON string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT category, tags, confidence FROM category_cache WHERE signature = ?`,
		signature,
	).Scan(&res.Category, &tagsJSON, &res.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("SQLiteCache.Get: %w", err)
	}

	if err := json.Unmarshal([]byte(tagsJSON), &res.Tags); err != nil {
		return nil, false, fmt.Errorf("SQLiteCache.Get: decoding tags: %w", err)
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE category_cache SET last_used = ? WHERE signature = ?`,
		time.Now().UTC(), signature,
	); err != nil {
		// A stale last_used only weakens eviction ordering; the hit stands.
		return &res, true, nil
	}
	return &res, true, nil
}

// Put implements Cache.
func (c *SQLiteCache) Put(ctx context.Context, signature string, res Result) error {
	tags := res.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("SQLiteCache.Put: encoding tags: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO category_cache (signature, category, tags, confidence, last_used)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (signature) DO UPDATE SET
			category   = excluded.category,
			tags       = excluded.tags,
			confidence = excluded.confidence,
			last_used  = excluded.last_used
	`, signature, res.Category, string(tagsJSON), res.Confidence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("SQLiteCache.Put: %w", err)
	}
	return nil
}

// Prune evicts least-recently-used entries until at most maxEntries remain.
// Returns the number of evicted rows.
func (c *SQLiteCache) Prune(ctx context.Context, maxEntries int) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM category_cache WHERE signature NOT IN (
			SELECT signature FROM category_cache
			ORDER BY last_used DESC
			LIMIT ?
		)
	`, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("SQLiteCache.Prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
