package tabledb

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrSchemaChangeRejected wraps a failed ALTER TABLE. The in-memory
	// column list is left as it was.
	ErrSchemaChangeRejected = errors.New("schema change rejected")
	// ErrColumnNotFound names a column the table does not have.
	ErrColumnNotFound = errors.New("column not found")
	// ErrUnknownColumn rejects a row or update carrying a key that is not a
	// column.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrNoColumns rejects a table definition without columns.
	ErrNoColumns = errors.New("table needs at least one column")
	// ErrNoConditionValues rejects an empty structured or raw condition.
	ErrNoConditionValues = errors.New("no values supplied for condition")
	// ErrPredicateRegistrationFailed means a host predicate could not be
	// bound to the database engine.
	ErrPredicateRegistrationFailed = errors.New("predicate registration failed")
	// ErrTableNotFound names a table that does not exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrConstraintViolation wraps UNIQUE, NOT NULL, CHECK and foreign key
	// failures.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrClosed is returned after Database.Close.
	ErrClosed = errors.New("database closed")
)

// classify tags driver errors that callers can act on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}
	return err
}
