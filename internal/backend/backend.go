// Package backend persists root-level values for the simple key/value store.
//
// Two implementations exist: JSONFile keeps the whole store in one JSON or
// YAML document and SQLiteKV keeps one row per root key. Both accept batches
// of changes through Apply so a caller can group many mutations into one
// write.
package backend

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreUnavailable means the backing file vanished or cannot be read.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrCorruptStore means the backing file exists but cannot be decoded.
	ErrCorruptStore = errors.New("corrupt store")
	// ErrWriteVerificationFailed means a checked write read back differently.
	ErrWriteVerificationFailed = errors.New("write verification failed")
	// ErrInvalidName rejects table names SQLite reserves or cannot quote.
	ErrInvalidName = errors.New("invalid name")
	// ErrMalformedChange rejects a change with no key or an unknown kind.
	ErrMalformedChange = errors.New("malformed change")
)

// Kind is the operation a Change replays.
type Kind uint8

const (
	ChangeUpdate Kind = iota + 1
	ChangeDelete
)

func (k Kind) String() string {
	switch k {
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Change is one pending mutation of a root key. Value is ignored for deletes.
type Change struct {
	Key   string
	Kind  Kind
	Value any
}

// Validate reports ErrMalformedChange for an empty key or unknown kind.
func (c Change) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformedChange)
	}
	if c.Kind != ChangeUpdate && c.Kind != ChangeDelete {
		return fmt.Errorf("%w: %s on %q", ErrMalformedChange, c.Kind, c.Key)
	}
	return nil
}

// Backend is durable storage for root-level values.
type Backend interface {
	// Get returns the value stored under key.
	Get(key string) (any, bool, error)
	// All returns every stored root key. The returned map is owned by the
	// caller.
	All() (map[string]any, error)
	// Apply persists changes in order as one unit: either all of them are
	// written or none are.
	Apply(changes []Change) error
	// Clear removes every key.
	Clear() error
	Close() error
}

// ValidateName checks a table name for use as a quoted SQLite identifier.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case strings.HasPrefix(strings.ToLower(name), "sqlite_"):
		return fmt.Errorf("%w: %q uses the reserved sqlite_ prefix", ErrInvalidName, name)
	case strings.ContainsAny(name, "\"[]\x00"):
		return fmt.Errorf("%w: %q contains a quote, bracket or NUL", ErrInvalidName, name)
	}
	return nil
}

func validateAll(changes []Change) error {
	for _, c := range changes {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
