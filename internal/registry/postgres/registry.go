// Package postgres is the file registry: files, decryption grants, query accounts and the settlement ledger.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kailas-cloud/querynode/internal/domain"
)

//go:embed schema.sql
var schemaDDL string

// querier is the subset of pgxpool.Pool the registry uses.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Config is the Postgres connection.
type Config struct {
	DSN      string
	MaxConns int32
}

// Registry reads file metadata and grants, and settles query charges.
type Registry struct {
	db    querier
	close func()
}

// New opens a connection pool. Connections are established lazily.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Registry{db: pool, close: pool.Close}, nil
}

func newWithQuerier(q querier) *Registry {
	return &Registry{db: q, close: func() {}}
}

// Migrate creates the registry tables if they do not exist.
func (r *Registry) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure registry schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (r *Registry) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close releases the pool.
func (r *Registry) Close() {
	r.close()
}

// ResolveFileID returns the id registered for url, or 0 when none is.
func (r *Registry) ResolveFileID(ctx context.Context, url string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM files WHERE url = $1`, strings.TrimSpace(url)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve file id: %w", err)
	}
	return id, nil
}

// GetFile returns the registry record for id.
func (r *Registry) GetFile(ctx context.Context, id int64) (domain.FileRecord, error) {
	f := domain.FileRecord{ID: id}
	err := r.db.QueryRow(ctx, `SELECT owner, url, hash FROM files WHERE id = $1`, id).
		Scan(&f.Owner, &f.URL, &f.Hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FileRecord{}, fmt.Errorf("file %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("get file %d: %w", id, err)
	}
	return f, nil
}

// GetDecryptionKey returns the key wrapped for consumer. A missing grant is a permission denial.
func (r *Registry) GetDecryptionKey(ctx context.Context, fileID int64, consumer string) (string, error) {
	var key string
	err := r.db.QueryRow(ctx,
		`SELECT encrypted_key FROM file_permissions WHERE file_id = $1 AND lower(consumer) = lower($2)`,
		fileID, consumer,
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && key == "") {
		return "", domain.Errorf(domain.KindPermissionDenied, "no decryption grant for file %d", fileID)
	}
	if err != nil {
		return "", fmt.Errorf("get decryption key for file %d: %w", fileID, err)
	}
	return key, nil
}

// GetAccount returns a query account by user address.
func (r *Registry) GetAccount(ctx context.Context, user string) (domain.Account, error) {
	a := domain.Account{User: user}
	err := r.db.QueryRow(ctx,
		`SELECT secret, balance FROM query_accounts WHERE lower(user_address) = lower($1)`, user,
	).Scan(&a.Secret, &a.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("account %s: %w", user, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account %s: %w", user, err)
	}
	return a, nil
}

const chargeSQL = `
WITH debit AS (
  UPDATE query_accounts
     SET balance = balance - $2, updated_at = NOW()
   WHERE lower(user_address) = lower($1) AND balance >= $2
  RETURNING user_address
)
INSERT INTO query_settlements (user_address, nonce, amount, file_id)
SELECT user_address, $3, $2, $4 FROM debit`

// Charge debits the account and appends a ledger row in one statement.
func (r *Registry) Charge(ctx context.Context, c domain.Charge) error {
	tag, err := r.db.Exec(ctx, chargeSQL, c.User, c.Amount, c.Nonce, c.FileID)
	if err != nil {
		return fmt.Errorf("charge %s: %w", c.User, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("charge %s: %w", c.User, domain.ErrInsufficientBalance)
	}
	return nil
}
