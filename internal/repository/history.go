package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Retrieval is one recorded retrieval outcome.
type Retrieval struct {
	ID         int64     `json:"id"`
	Shortcode  string    `json:"shortcode"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryRepository persists retrieval outcomes in SQLite.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository opens (creating if needed) the history database.
func NewHistoryRepository(path string) (*HistoryRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// WAL and a busy timeout keep concurrent request handlers from
	// tripping over each other.
	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS retrievals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			shortcode TEXT NOT NULL,
			outcome TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_retrievals_created_at ON retrievals(created_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &HistoryRepository{db: db}, nil
}

// Record inserts one retrieval outcome.
func (r *HistoryRepository) Record(ctx context.Context, rec Retrieval) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retrievals (shortcode, outcome, attempts, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Shortcode, rec.Outcome, rec.Attempts, rec.DurationMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert retrieval: %w", err)
	}
	return nil
}

// ListRecent returns the newest retrievals, newest first.
func (r *HistoryRepository) ListRecent(ctx context.Context, limit int) ([]Retrieval, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, shortcode, outcome, attempts, duration_ms, created_at
		FROM retrievals
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query retrievals: %w", err)
	}
	defer rows.Close()

	var result []Retrieval
	for rows.Next() {
		var rec Retrieval
		if err := rows.Scan(&rec.ID, &rec.Shortcode, &rec.Outcome, &rec.Attempts, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan retrieval: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Close releases the underlying database handle.
func (r *HistoryRepository) Close() error {
	return r.db.Close()
}
