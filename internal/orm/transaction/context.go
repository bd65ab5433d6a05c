package transaction

import (
	"context"
	"database/sql"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const contextKeyTransaction contextKey = "cloner:transaction"

// FromContext retrieves a transaction from the context
func FromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(contextKeyTransaction).(*sql.Tx)
	return tx, ok
}

// WithContext returns a new context with the transaction embedded
func WithContext(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, contextKeyTransaction, tx)
}
