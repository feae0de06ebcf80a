package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores the document as a jsonb row.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// NewPostgres opens a new connection pool to the database with the desired search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresBackend{
		pool:   pool,
		logger: logger.With("component", "repo_postgres"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresBackend) Name() string { return "postgres" }

// Close releases the connection pool.
func (r *PostgresBackend) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

// Ping ensures the database is reachable.
func (r *PostgresBackend) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresBackend) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// Load reads the stored document.
func (r *PostgresBackend) Load(ctx context.Context) (*Document, error) {
	const q = `SELECT body FROM documents WHERE name = $1 LIMIT 1;`
	var body []byte
	err := r.pool.QueryRow(ctx, q, documentName).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("load document: %w", err)
	}
	doc := NewDocument()
	if err := json.Unmarshal(body, doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc.normalize()
	return doc, nil
}

// Save replaces the stored document inside a transaction.
func (r *PostgresBackend) Save(ctx context.Context, doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	const q = `
INSERT INTO documents (name, body, updated_at)
VALUES ($1, $2::jsonb, NOW())
ON CONFLICT (name) DO UPDATE SET
    body = EXCLUDED.body,
    updated_at = NOW();
`
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, q, documentName, string(body)); err != nil {
			return fmt.Errorf("save document: %w", err)
		}
		return nil
	})
}
