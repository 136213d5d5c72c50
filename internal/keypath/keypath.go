// Package keypath resolves dotted keys such as "user.settings.theme" against
// trees of map[string]any and []any.
//
// The first token of a key is the root key: the unit a store persists and
// caches. The remaining tokens are walked in memory. A token addresses a
// sequence element only when the container reached at that point is a
// sequence and the token is a canonical decimal index; everywhere else it is
// a map key.
//
// Mutations never extend or punch holes into sequences. Callers that need
// to grow or shrink a sequence go through the index-aware helpers in
// sequence.go.
package keypath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator splits a key into tokens.
const Separator = "."

var (
	ErrInvalidKey              = errors.New("invalid key")
	ErrNotAnObject             = errors.New("value is not an object")
	ErrNotAnArray              = errors.New("value is not an array")
	ErrArrayExtensionForbidden = errors.New("adding a value to an array with set is forbidden")
	ErrArrayDeletionForbidden  = errors.New("deleting a value from an array with delete is forbidden")
)

// Path is a non-empty sequence of property tokens.
type Path []string

// ParseKey validates raw and splits it into tokens.
func ParseKey(raw string) (Path, error) {
	key := strings.TrimSpace(raw)
	switch {
	case key == "":
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	case strings.Contains(key, Separator+Separator):
		return nil, fmt.Errorf("%w: %q contains an empty segment", ErrInvalidKey, raw)
	case strings.HasPrefix(key, Separator), strings.HasSuffix(key, Separator):
		return nil, fmt.Errorf("%w: %q starts or ends with %q", ErrInvalidKey, raw, Separator)
	}
	return strings.Split(key, Separator), nil
}

// String joins the tokens back into a dotted key.
func (p Path) String() string { return strings.Join(p, Separator) }

// Root returns the first token.
func (p Path) Root() string { return p[0] }

// Props returns the tokens after the root key.
func (p Path) Props() Path { return p[1:] }

// index interprets tok as a position in a sequence of length n.
func index(tok string, n int) (int, bool) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, false
	}
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(tok)
	if err != nil || i >= n {
		return 0, false
	}
	return i, true
}

// child returns the element of node addressed by tok.
func child(node any, tok string, at Path) (any, bool, error) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[tok]
		return v, ok, nil
	case []any:
		i, ok := index(tok, len(n))
		if !ok {
			return nil, false, nil
		}
		return n[i], true, nil
	}
	return nil, false, fmt.Errorf("%w: %s", ErrNotAnObject, at)
}

// Get walks props from root. A missing token yields (nil, false, nil);
// traversing through a scalar fails with ErrNotAnObject.
func Get(root any, props Path) (any, bool, error) {
	cur := root
	for i, tok := range props {
		v, ok, err := child(cur, tok, props[:i])
		if err != nil || !ok {
			return nil, false, err
		}
		cur = v
	}
	return cur, true, nil
}

// Set assigns v at props below root and returns the (possibly new) root.
// Missing intermediate map entries are created; sequences are never
// extended. Every check happens before the first write, so a failed Set
// leaves root untouched.
func Set(root any, props Path, v any) (any, error) {
	if len(props) == 0 {
		return v, nil
	}
	if root == nil {
		root = map[string]any{}
	}

	cur := root
	for i, tok := range props[:len(props)-1] {
		switch n := cur.(type) {
		case map[string]any:
			next, ok := n[tok]
			if !ok {
				// Everything below is freshly created, nothing can fail.
				n[tok] = build(props[i+1:], v)
				return root, nil
			}
			cur = next
		case []any:
			idx, ok := index(tok, len(n))
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrArrayExtensionForbidden, props[:i+1])
			}
			cur = n[idx]
		default:
			return nil, fmt.Errorf("%w: %s", ErrNotAnObject, props[:i])
		}
	}

	last := props[len(props)-1]
	switch n := cur.(type) {
	case map[string]any:
		n[last] = v
	case []any:
		idx, ok := index(last, len(n))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrArrayExtensionForbidden, props)
		}
		n[idx] = v
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotAnObject, props[:len(props)-1])
	}
	return root, nil
}

// build nests v under a chain of new maps.
func build(props Path, v any) any {
	for i := len(props) - 1; i >= 0; i-- {
		v = map[string]any{props[i]: v}
	}
	return v
}

// Delete removes the final token of props from its parent and returns the
// removed value. A parent that is a sequence fails with
// ErrArrayDeletionForbidden, a scalar parent with ErrNotAnObject; a missing
// parent is a no-op.
func Delete(root any, props Path) (any, bool, error) {
	if len(props) == 0 {
		return nil, false, fmt.Errorf("%w: nothing to delete below the root key", ErrInvalidKey)
	}
	parent, ok, err := Get(root, props[:len(props)-1])
	if err != nil || !ok {
		return nil, false, err
	}
	last := props[len(props)-1]
	switch n := parent.(type) {
	case []any:
		return nil, false, fmt.Errorf("%w: %s", ErrArrayDeletionForbidden, props)
	case map[string]any:
		v, ok := n[last]
		if !ok {
			return nil, false, nil
		}
		delete(n, last)
		return v, true, nil
	}
	return nil, false, fmt.Errorf("%w: %s", ErrNotAnObject, props[:len(props)-1])
}
