package tabledb

import (
	"fmt"

	"github.com/agentic-research/simpledb/internal/backend"
)

// Tx issues explicit transaction statements on the database connection.
// Row writes made between Begin and Commit or Rollback belong to the
// transaction.
type Tx struct {
	db *Database
}

func (tx *Tx) Begin() error  { return tx.run("BEGIN", "") }
func (tx *Tx) Commit() error { return tx.run("COMMIT", "") }

// Rollback undoes the transaction. Tables and columns created, renamed or
// dropped inside it revert as well.
func (tx *Tx) Rollback() error { return tx.undo("ROLLBACK", "") }

// Savepoint opens a named savepoint, starting a transaction when none is
// active.
func (tx *Tx) Savepoint(name string) error { return tx.run("SAVEPOINT", name) }

// Release commits the work done since the named savepoint into the
// enclosing transaction and forgets the savepoint.
func (tx *Tx) Release(name string) error { return tx.run("RELEASE SAVEPOINT", name) }

// RollbackTo undoes the work done since the named savepoint, schema changes
// included. The savepoint itself stays open.
func (tx *Tx) RollbackTo(name string) error { return tx.undo("ROLLBACK TO SAVEPOINT", name) }

func (tx *Tx) undo(verb, name string) error {
	if err := tx.run(verb, name); err != nil {
		return err
	}
	return tx.db.syncSchema()
}

func (tx *Tx) run(verb, name string) error {
	stmt := verb
	if name != "" {
		stmt += " " + backend.QuoteIdent(name)
	}
	if err := tx.db.exec(stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	tx.db.logger.Debug("transaction", "stmt", stmt)
	return nil
}
