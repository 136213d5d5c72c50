package store

import (
	"math/rand/v2"
	"slices"

	"github.com/agentic-research/simpledb/internal/keypath"
	"github.com/agentic-research/simpledb/internal/value"
)

// Arrays operates on stored sequences. Push, Extract, Splice and Sort write
// their result back; the rest only read.
type Arrays struct{ s *Store }

// Array returns the sequence helpers of s.
func (s *Store) Array() Arrays { return Arrays{s: s} }

// get loads the sequence at key; a missing key is ErrNotAnArray.
func (a Arrays) get(key string) ([]any, error) {
	v, _, err := a.s.Get(key)
	if err != nil {
		return nil, err
	}
	return keypath.AsArray(v, key)
}

// Push appends values, creating the sequence when key is missing or null.
func (a Arrays) Push(key string, values ...any) ([]any, error) {
	cur, _, err := a.s.Get(key)
	if err != nil {
		return nil, err
	}
	var arr []any
	if cur != nil {
		if arr, err = keypath.AsArray(cur, key); err != nil {
			return nil, err
		}
	}
	arr = append(slices.Clip(arr), values...)
	if err := a.s.Set(key, arr); err != nil {
		return nil, err
	}
	return arr, nil
}

func (a Arrays) extract(key string, find func([]any) int) (any, bool, error) {
	cur, ok, err := a.s.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	arr, err := keypath.AsArray(cur, key)
	if err != nil {
		return nil, false, err
	}
	i := find(arr)
	if i < 0 || i >= len(arr) {
		return nil, false, nil
	}
	out, removed := keypath.Splice(arr, i, 1)
	if err := a.s.Set(key, out); err != nil {
		return nil, false, err
	}
	return removed[0], true, nil
}

// ExtractAt removes and returns the element at index.
func (a Arrays) ExtractAt(key string, index int) (any, bool, error) {
	return a.extract(key, func([]any) int { return index })
}

// ExtractValue removes and returns the first element equal to v.
func (a Arrays) ExtractValue(key string, v any) (any, bool, error) {
	return a.extract(key, func(arr []any) int { return keypath.IndexOf(arr, v) })
}

// ExtractFunc removes and returns the first element matching fn.
func (a Arrays) ExtractFunc(key string, fn func(v any, i int) bool) (any, bool, error) {
	return a.extract(key, func(arr []any) int { return keypath.FindIndex(arr, fn) })
}

// Splice removes deleteCount elements at start, inserts items there and
// returns the removed elements.
func (a Arrays) Splice(key string, start, deleteCount int, items ...any) ([]any, error) {
	arr, err := a.get(key)
	if err != nil {
		return nil, err
	}
	out, removed := keypath.Splice(arr, start, deleteCount, items...)
	if err := a.s.Set(key, out); err != nil {
		return nil, err
	}
	return removed, nil
}

// Sort orders the sequence with cmp (value.Compare when nil), stores it and
// returns it.
func (a Arrays) Sort(key string, cmp func(x, y any) int) ([]any, error) {
	arr, err := a.get(key)
	if err != nil {
		return nil, err
	}
	if cmp == nil {
		cmp = value.Compare
	}
	sorted := slices.Clone(arr)
	slices.SortStableFunc(sorted, cmp)
	if err := a.s.Set(key, sorted); err != nil {
		return nil, err
	}
	return sorted, nil
}

// Random returns a random element, or nil for an empty sequence.
func (a Arrays) Random(key string) (any, error) {
	arr, err := a.get(key)
	if err != nil || len(arr) == 0 {
		return nil, err
	}
	return arr[rand.IntN(len(arr))], nil
}

// Includes reports whether v occurs at or after fromIndex.
func (a Arrays) Includes(key string, v any, fromIndex int) (bool, error) {
	arr, err := a.get(key)
	if err != nil {
		return false, err
	}
	return keypath.Includes(arr, v, fromIndex), nil
}

// Find returns the first element matching fn.
func (a Arrays) Find(key string, fn func(v any, i int) bool) (any, bool, error) {
	arr, err := a.get(key)
	if err != nil {
		return nil, false, err
	}
	if i := keypath.FindIndex(arr, fn); i >= 0 {
		return arr[i], true, nil
	}
	return nil, false, nil
}

// FindIndex returns the position of the first element matching fn, or -1.
func (a Arrays) FindIndex(key string, fn func(v any, i int) bool) (int, error) {
	arr, err := a.get(key)
	if err != nil {
		return -1, err
	}
	return keypath.FindIndex(arr, fn), nil
}

// Filter returns the elements matching fn.
func (a Arrays) Filter(key string, fn func(v any, i int) bool) ([]any, error) {
	arr, err := a.get(key)
	if err != nil {
		return nil, err
	}
	out := []any{}
	for i, v := range arr {
		if fn(v, i) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Map returns fn applied to every element.
func (a Arrays) Map(key string, fn func(v any, i int) any) ([]any, error) {
	arr, err := a.get(key)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(arr))
	for i, v := range arr {
		out[i] = fn(v, i)
	}
	return out, nil
}

// Reduce folds the sequence from the left starting at initial.
func (a Arrays) Reduce(key string, fn func(acc, v any, i int) any, initial any) (any, error) {
	arr, err := a.get(key)
	if err != nil {
		return nil, err
	}
	acc := initial
	for i, v := range arr {
		acc = fn(acc, v, i)
	}
	return acc, nil
}

// Some reports whether any element matches fn.
func (a Arrays) Some(key string, fn func(v any, i int) bool) (bool, error) {
	i, err := a.FindIndex(key, fn)
	return i >= 0, err
}

// Every reports whether all elements match fn.
func (a Arrays) Every(key string, fn func(v any, i int) bool) (bool, error) {
	i, err := a.FindIndex(key, func(v any, i int) bool { return !fn(v, i) })
	return err == nil && i < 0, err
}
