package marketdb

import (
	"context"
	"database/sql"
	"sort"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/btcex/btcexd/internal/logging"
)

// Queryer is the common surface of *sql.DB and *sql.Tx. Core operations
// accept it so reads can run outside a transaction while every mutation is
// handed an explicit *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store owns the database connection and transaction policy.
type Store struct {
	db     *sql.DB
	config *Config
}

// NewStore validates the configuration and returns an unopened store.
func NewStore(config *Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("new_store", "invalid configuration", err)
	}
	return &Store{config: config}, nil
}

// Open opens the connection pool, pings the server and initializes the
// schema.
func (s *Store) Open(ctx context.Context) error {
	db, err := sql.Open("postgres", s.config.ConnectionString())
	if err != nil {
		return NewConnectionError("open", "failed to open database connection", err)
	}

	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(s.config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, s.config.DefaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return NewConnectionError("open", "failed to ping database", err)
	}

	s.db = db

	if err := s.initSchema(ctx); err != nil {
		s.db.Close()
		s.db = nil
		return NewSchemaError("open", "failed to initialize schema", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return NewConnectionError("close", "failed to close database connection", err)
	}
	return nil
}

// Ping tests the connection.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.DefaultTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return NewConnectionError("ping", "database ping failed", err)
	}
	return nil
}

// DB exposes the pool for read-only queries outside a transaction.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a SERIALIZABLE transaction, committing on nil and
// rolling back otherwise. Serialization and deadlock failures are retried
// up to the configured maximum; fn must therefore be safe to re-run.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if s.db == nil {
		return ErrStoreClosed
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !IsRetryable(err) || attempt >= s.config.MaxRetries {
			return err
		}
		logging.Logger.Warn("retrying serializable transaction",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.RetryDelay):
		}
	}
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return NewTransactionError("begin", "failed to begin transaction", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			logging.Logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewTransactionError("commit", "failed to commit transaction", err)
	}
	return nil
}

// BalanceKey identifies one (user, asset) balance for locking purposes.
type BalanceKey struct {
	UserID  int64
	AssetID int64
}

// LockBalances serializes balance read-then-append against concurrent
// writers via transaction-scoped advisory locks. Keys are locked in
// ascending (user, asset) order so two settlements touching the same pairs
// cannot deadlock.
func LockBalances(ctx context.Context, tx *sql.Tx, keys ...BalanceKey) error {
	sorted := make([]BalanceKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].UserID != sorted[j].UserID {
			return sorted[i].UserID < sorted[j].UserID
		}
		return sorted[i].AssetID < sorted[j].AssetID
	})

	for _, k := range sorted {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock($1)`, k.lockKey()); err != nil {
			return NewQueryError("lock_balances", "failed to take advisory lock", err)
		}
	}
	return nil
}

// lockKey folds the pair into the single bigint advisory-lock key space.
// The two-argument lock form takes int4 keys, which would truncate
// bigserial ids; this form is exact while ids stay below 2^32.
func (k BalanceKey) lockKey() int64 {
	return k.UserID<<32 | k.AssetID&0xFFFFFFFF
}
