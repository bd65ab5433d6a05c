package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries is the default number of attempts
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration

	// Timeout bounds each attempt, see WithTimeout; zero means unbounded
	Timeout time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// WithRetry runs WithTransaction again, with exponential backoff, while it
// fails with a deadlock, serialization or busy error. fn must be safe to run
// more than once.
func (m *Manager) WithRetry(ctx context.Context, config *RetryConfig, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempt := func(ctx context.Context) error {
		if config.Timeout > 0 {
			return m.WithTimeout(ctx, config.Timeout, fn)
		}
		return m.WithTransaction(ctx, fn)
	}

	attempts := max(config.MaxRetries, 1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before attempt %d: %w", i+1, ctx.Err())
		}

		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		backoff := config.BaseBackoff * time.Duration(1<<uint(i))
		m.logger.Warn("retrying transaction",
			zap.Int("attempt", i+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

// IsRetryableError reports whether a transaction failed on a conflict with a
// concurrent one: a PostgreSQL deadlock (40P01) or serialization failure
// (40001), or SQLite reporting the database busy or locked
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isRetryableSQLState(pgErr.Code)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isRetryableSQLState(string(pqErr.Code))
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"deadlock detected", "could not serialize access", "40p01", "40001"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func isRetryableSQLState(code string) bool {
	return code == "40P01" || code == "40001"
}
