// Package mysql implements the storage interface on a MySQL-protocol
// server via database/sql and go-sql-driver/mysql.
//
// All SQL lives here: typed repositories for work items, dependencies and
// action history, the undo-step replay primitives, and the history tail
// lock that serializes undo/redo. Consumers see only the storage interfaces.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/storage"
)

const (
	// openMaxElapsed bounds connection establishment retries at startup.
	openMaxElapsed = 30 * time.Second

	// maxTransactionRetries is the retry budget for serialization
	// conflicts (deadlock / lock wait timeout) on commit.
	maxTransactionRetries = 5
	initialRetryDelay     = 50 * time.Millisecond
)

// Store implements storage.Storage against a pooled MySQL connection.
type Store struct {
	db  *sql.DB
	cfg storage.Config
	queries
}

var _ storage.Storage = (*Store)(nil)

// dbtx is the common surface of *sql.DB and *sql.Tx used by the shared
// query helpers, so every read works both pooled and inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries carries every Reader method over a dbtx. Embedding it in both
// Store and storeTx gives the pooled and transactional sides one shared
// implementation.
type queries struct {
	db dbtx
}

// New opens a pooled connection, waits for the server to become reachable,
// and bootstraps the schema.
func New(ctx context.Context, cfg storage.Config) (*Store, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.User == "" {
		cfg.User = "root"
	}

	db, err := sql.Open("mysql", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	// The server may still be starting; ping with backoff before giving up.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = openMaxElapsed
	if err := backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(bo, ctx)); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	s := &Store{db: db, cfg: cfg, queries: queries{db: db}}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func buildDSN(cfg storage.Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for test harnesses.
func (s *Store) DB() *sql.DB {
	return s.db
}

// isSerializationError reports whether a transaction failed on a conflict
// that a retry can resolve (MySQL 1213 deadlock, 1205 lock wait timeout).
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "lock wait timeout")
}

// RunInTransaction executes fn inside one transaction, retrying the whole
// function on serialization conflicts with exponential backoff.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	var lastErr error
	retryDelay := initialRetryDelay

	for attempt := 0; attempt <= maxTransactionRetries; attempt++ {
		if attempt > 0 {
			fmt.Fprintf(os.Stderr, "transaction retry (attempt %d/%d) after serialization conflict, waiting %v\n",
				attempt, maxTransactionRetries, retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			retryDelay *= 2
			if retryDelay > 2*time.Second {
				retryDelay = 2 * time.Second
			}
		}

		lastErr = s.runTransactionOnce(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !isSerializationError(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", maxTransactionRetries, lastErr)
}

func (s *Store) runTransactionOnce(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &storeTx{tx: sqlTx, queries: queries{db: sqlTx}}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// storeTx implements storage.Tx over *sql.Tx.
type storeTx struct {
	tx *sql.Tx
	queries
}

var _ storage.Tx = (*storeTx)(nil)

// LockHistory takes a row lock on the singleton history_lock row, pinning
// the action-history tail until this transaction commits or rolls back.
// InnoDB releases the lock with the transaction, so there is nothing to
// clean up. A lock wait timeout surfaces as storage.ErrConflict.
func (t *storeTx) LockHistory(ctx context.Context) error {
	var id int
	err := t.tx.QueryRowContext(ctx, "SELECT id FROM history_lock WHERE id = 1 FOR UPDATE").Scan(&id)
	if err != nil {
		if isSerializationError(err) {
			return fmt.Errorf("history lock held by concurrent undo/redo: %w", storage.ErrConflict)
		}
		return fmt.Errorf("failed to acquire history lock: %w", err)
	}
	return nil
}
