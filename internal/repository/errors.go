// ===========================================
// Package repository - Data Access Layer
// ===========================================
// The repository pattern abstracts database operations.
// Handlers call services, services call repositories.
//
// WHY REPOSITORY PATTERN?
// 1. Testability: services are tested against mock repositories
// 2. Flexibility: the URL store runs on PostgreSQL or SQLite behind
//    the same interface
// 3. Single Responsibility: repository = data access only
// ===========================================

package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors. Callers classify with errors.Is(); everything else
// is wrapped driver noise that maps to Internal at the HTTP boundary.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("resource already exists")
	ErrConnection = errors.New("database connection failed")
	ErrQuery      = errors.New("database query failed")
	ErrMigration  = errors.New("database migration failed")
)

// isPgUniqueViolation reports a PostgreSQL unique_violation (23505),
// optionally narrowed to a constraint name.
func isPgUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// isPgForeignKeyViolation reports a PostgreSQL foreign_key_violation.
func isPgForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// isSqliteUniqueViolation reports a SQLite unique-constraint failure.
func isSqliteUniqueViolation(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	code := sqErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
