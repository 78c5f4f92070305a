package conversations

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"council/internal/config"
)

// NewPool builds the Postgres connection pool for conversation
// storage: min 1, max 10 connections, 60s connect timeout.
func NewPool(ctx context.Context, settings config.Settings) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgresql://%s:%s@%s:%d/%s",
		url.QueryEscape(settings.PostgresUser),
		url.QueryEscape(settings.PostgresPassword),
		settings.PostgresHost,
		settings.PostgresPort,
		url.QueryEscape(settings.PostgresDatabase),
	)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 10
	cfg.ConnConfig.ConnectTimeout = 60 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return pool, nil
}
