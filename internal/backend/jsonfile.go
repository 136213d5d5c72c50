package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/agentic-research/simpledb/internal/writeback"
)

// JSONFile keeps the whole store in one document on disk. Every read parses
// the file and every Apply rewrites it.
type JSONFile struct {
	path   string
	format Format
	check  bool

	mu sync.Mutex
}

// OpenJSONFile opens the document at path in the format its extension
// names.
func OpenJSONFile(path string, check bool) (*JSONFile, error) {
	return OpenFile(path, FormatFor(path), check)
}

// OpenFile opens the document at path, creating an empty one when the file
// does not exist. With check set, every write is read back and compared.
func OpenFile(path string, format Format, check bool) (*JSONFile, error) {
	f := &JSONFile{path: path, format: format, check: check}

	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := f.write(map[string]any{}); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("%w: stat %s: %w", ErrStoreUnavailable, path, err)
	}

	// Surface a corrupt document at open rather than on first use.
	if _, err := f.read(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the document location.
func (f *JSONFile) Path() string { return f.path }

// Format returns the document encoding.
func (f *JSONFile) Format() Format { return f.format }

func (f *JSONFile) Get(key string) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (f *JSONFile) All() (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *JSONFile) Apply(changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := validateAll(changes); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	for _, c := range changes {
		if c.Kind == ChangeDelete {
			delete(doc, c.Key)
		} else {
			doc[c.Key] = c.Value
		}
	}
	return f.write(doc)
}

func (f *JSONFile) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(map[string]any{})
}

func (f *JSONFile) Close() error { return nil }

func (f *JSONFile) read() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: the database in %s was deleted or is unreadable: %w", ErrStoreUnavailable, f.path, err)
	}
	doc, err := decodeDocument(f.format, data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s in %s: %w", ErrCorruptStore, f.format, f.path, err)
	}
	return doc, nil
}

func (f *JSONFile) write(doc map[string]any) error {
	data, err := encodeDocument(f.format, doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.format, err)
	}
	if err := writeback.Replace(f.path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !f.check {
		return nil
	}
	if err := writeback.Verify(f.path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteVerificationFailed, err)
	}
	return nil
}

var _ Backend = (*JSONFile)(nil)
