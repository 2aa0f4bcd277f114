package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config configures the optional stage-attempt ledger database.
type Config struct {
	URL             string        `mapstructure:"url"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

func DefaultConfig() Config {
	return Config{
		PingTimeout:     2 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Enabled reports whether a database URL is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.PingTimeout <= 0 {
		return errors.New("database.ping_timeout must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("database.max_open_conns must be >= 1")
	}
	if c.MaxIdleConns < 0 {
		return errors.New("database.max_idle_conns must be >= 0")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("database.max_idle_conns must be <= database.max_open_conns")
	}
	if c.ConnMaxLifetime < 0 {
		return errors.New("database.conn_max_lifetime must be >= 0")
	}
	if c.ConnMaxIdleTime < 0 {
		return errors.New("database.conn_max_idle_time must be >= 0")
	}
	return nil
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if !cfg.Enabled() {
		return nil, errors.New("database.url is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}
