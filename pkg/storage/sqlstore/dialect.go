package sqlstore

import (
	"errors"
	"regexp"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Dialect captures the differences between the supported SQL backends.
// Queries are written with PostgreSQL $N placeholders and rebound per dialect.
type Dialect struct {
	// Name is the database/sql driver name.
	Name string
	// ForUpdate is appended to the row-locking subscription read.
	ForUpdate string
	// ForShare is appended to plan reads that must block a concurrent plan delete.
	ForShare string
	schema    []string
	numbered  bool
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

// Postgres locks the subscription row with SELECT ... FOR UPDATE.
var Postgres = Dialect{
	Name:      "postgres",
	ForUpdate: " FOR UPDATE",
	ForShare:  " FOR SHARE",
	schema:    postgresSchema,
}

// SQLite relies on a single connection with immediate transactions for serialization.
var SQLite = Dialect{
	Name:     "sqlite3",
	schema:   sqliteSchema,
	numbered: true,
}

// DialectFor returns the dialect registered for a driver name.
func DialectFor(driver string) (Dialect, bool) {
	switch driver {
	case "postgres", "postgresql":
		return Postgres, true
	case "sqlite", "sqlite3":
		return SQLite, true
	default:
		return Dialect{}, false
	}
}

// isUniqueViolation reports whether err is a unique constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
