package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores the document as a single row in a local SQLite database.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens a new connection to the SQLite database.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteBackend, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteBackend{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

func (r *SQLiteBackend) Name() string { return "sqlite" }

// Close releases the database connection.
func (r *SQLiteBackend) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RunMigrations applies the sqlite migration files in lexicographical order.
func (r *SQLiteBackend) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return walkMigrations(filesystem, func(name, sqlText string) error {
		if _, err := r.db.ExecContext(ctx, sqlText); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		return nil
	})
}

// Load reads the stored document.
func (r *SQLiteBackend) Load(ctx context.Context) (*Document, error) {
	const q = `SELECT body FROM documents WHERE name = ? LIMIT 1;`
	var body string
	err := r.db.QueryRowContext(ctx, q, documentName).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("load document: %w", err)
	}
	doc := NewDocument()
	if err := json.Unmarshal([]byte(body), doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc.normalize()
	return doc, nil
}

// Save replaces the stored document.
func (r *SQLiteBackend) Save(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	const q = `
INSERT INTO documents (name, body, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (name) DO UPDATE SET
    body = excluded.body,
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := r.db.ExecContext(ctx, q, documentName, string(body)); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}
