// Package store persists scan history in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one saved scan result.
type Entry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	ScanType  string          `json:"scan_type"`
	Target    string          `json:"target"`
	Result    json.RawMessage `json:"result"`
	RiskScore int             `json:"risk_score"`
	RiskLabel string          `json:"risk_label"`
	CreatedAt time.Time       `json:"created_at"`
}

// History is the scan history store backed by SQLite.
type History struct {
	db  *sql.DB
	log *zap.Logger
}

// Open initializes the history database at path, creating the file and
// parent directory as needed.
func Open(path string, log *zap.Logger) (*History, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	h := &History{db: db, log: log}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// migrate creates the schema. Statements are additive so re-running on an
// existing database is safe.
func (h *History) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS scan_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scan_type TEXT NOT NULL,
		target TEXT NOT NULL,
		result TEXT NOT NULL,
		risk_score INTEGER NOT NULL,
		risk_label TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_scan_history_user ON scan_history(user_id, created_at);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Save stores a scan result and returns the assigned entry ID.
func (h *History) Save(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Result == nil {
		e.Result = json.RawMessage("{}")
	}

	_, err := h.db.ExecContext(ctx,
		`INSERT INTO scan_history (id, user_id, scan_type, target, result, risk_score, risk_label, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ScanType, e.Target, string(e.Result), e.RiskScore, e.RiskLabel, e.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert scan history: %w", err)
	}
	h.log.Debug("scan saved",
		zap.String("id", e.ID),
		zap.String("user_id", e.UserID),
		zap.String("scan_type", e.ScanType))
	return e.ID, nil
}

// ListByUser returns a user's scan history, newest first.
func (h *History) ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, user_id, scan_type, target, result, risk_score, risk_label, created_at
		 FROM scan_history
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id
		 LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var result string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ScanType, &e.Target, &result,
			&e.RiskScore, &e.RiskLabel, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Result = json.RawMessage(result)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (h *History) Close() error {
	return h.db.Close()
}
