package repo

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"topup-bot/internal/cache"
	"topup-bot/migrations"
)

// OpenConfig selects and configures a document backend.
type OpenConfig struct {
	Driver      string
	Path        string
	DatabaseURL string
	Schema      string
	Redis       cache.Config
	RedisKey    string
}

// Open builds the backend named by cfg.Driver and applies its migrations.
func Open(ctx context.Context, cfg OpenConfig, logger *slog.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		backend, err := NewFileBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "sqlite":
		backend, err := NewSQLite(ctx, cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		if err := runMigrations(ctx, "sqlite", backend.RunMigrations); err != nil {
			backend.Close()
			return nil, err
		}
		return backend, nil
	case "postgres":
		backend, err := NewPostgres(ctx, cfg.DatabaseURL, cfg.Schema, logger)
		if err != nil {
			return nil, err
		}
		if err := runMigrations(ctx, "postgres", backend.RunMigrations); err != nil {
			backend.Close()
			return nil, err
		}
		return backend, nil
	case "redis":
		client := cache.New(cfg.Redis, logger)
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return NewRedisBackend(client, cfg.RedisKey), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func runMigrations(ctx context.Context, dir string, run func(context.Context, fs.FS) error) error {
	sub, err := fs.Sub(migrations.Files, dir)
	if err != nil {
		return fmt.Errorf("open %s migrations: %w", dir, err)
	}
	if err := run(ctx, sub); err != nil {
		return fmt.Errorf("run %s migrations: %w", dir, err)
	}
	return nil
}
