// Package dialect holds the SQL differences between the supported drivers.
package dialect

import (
	"fmt"

	"github.com/lib/pq"
)

// Dialect renders placeholders and identifiers for one SQL flavour
type Dialect interface {
	// Name returns the dialect name
	Name() string

	// Placeholder returns the bind parameter for the n-th argument, starting at 1
	Placeholder(n int) string

	// Quote quotes an identifier
	Quote(ident string) string
}

// Postgres uses $N placeholders
type Postgres struct{}

// Name returns "postgres"
func (Postgres) Name() string { return "postgres" }

// Placeholder returns $n
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Quote quotes an identifier with double quotes
func (Postgres) Quote(ident string) string { return pq.QuoteIdentifier(ident) }

// SQLite uses ? placeholders
type SQLite struct{}

// Name returns "sqlite"
func (SQLite) Name() string { return "sqlite" }

// Placeholder returns ?
func (SQLite) Placeholder(int) string { return "?" }

// Quote quotes an identifier with double quotes, which SQLite accepts as well
func (SQLite) Quote(ident string) string { return pq.QuoteIdentifier(ident) }

// ForDriver returns the dialect of a database/sql driver name
func ForDriver(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres{}, nil
	case "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("no SQL dialect for driver %q", driver)
	}
}
