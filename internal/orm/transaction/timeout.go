package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WithTimeout executes a transaction that is rolled back if it does not
// complete within timeout
func (m *Manager) WithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx *sql.Tx) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := m.WithTransaction(timeoutCtx, fn)
	if err != nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: transaction exceeded %v: %w", ErrTransactionTimeout, timeout, err)
	}
	return err
}
