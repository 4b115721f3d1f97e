package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/idpfunnel/api/internal/platform/config"
)

const (
	driverName         = "pgx"
	defaultPingTimeout = 5 * time.Second
)

// ErrClientClosed is returned once Close has been called.
var ErrClientClosed = errors.New("postgres: client is closed")

// Client owns the shared connection pool used by the Postgres repositories.
type Client struct {
	db          *sql.DB
	pingTimeout time.Duration
}

// ClientOption customises the Client behaviour.
type ClientOption func(*Client)

// WithPingTimeout overrides the timeout used by Ping when ctx has no deadline.
func WithPingTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.pingTimeout = timeout
		}
	}
}

// Open creates the pool from cfg. The connection is not verified; call Ping for that.
func Open(cfg config.PostgresConfig, opts ...ClientOption) (*Client, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewClient(db, opts...), nil
}

// NewClient wraps an existing pool, mostly for tests.
func NewClient(db *sql.DB, opts ...ClientOption) *Client {
	client := &Client{db: db, pingTimeout: defaultPingTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// DB exposes the underlying pool.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies a connection can be established.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return ErrClientClosed
	}
	if _, ok := ctx.Deadline(); !ok && c.pingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.pingTimeout)
		defer cancel()
	}
	return WrapError("postgres.ping", c.db.PingContext(ctx))
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if c == nil || c.db == nil {
		return ErrClientClosed
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError("postgres.begin", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return WrapError("postgres.commit", err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
