package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/errs"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
	tx  *sqlx.Tx
}

// NewStore connects to Postgres and verifies the connection
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db), nil
}

// New wraps an existing connection pool
func New(db *sqlx.DB) *Store {
	return &Store{db: db, ext: db}
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB exposes the pool for migrations
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks connectivity for /ready
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errs.StorageUnavailable("ping", err)
	}
	return nil
}

// InTx runs fn in a transaction. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.StorageUnavailable("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, ext: tx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.StorageUnavailable("commit transaction", err)
	}
	return nil
}

// wrap turns driver failures into storage_unavailable and passes domain errors through.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var domainErr *errs.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return errs.StorageUnavailable(op, err)
}

func isUniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

func isForeignKeyViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}
