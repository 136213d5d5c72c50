package keypath

import (
	"fmt"

	"github.com/agentic-research/simpledb/internal/value"
)

// AsArray returns v as a sequence or fails with ErrNotAnArray.
func AsArray(v any, key string) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotAnArray, key)
	}
	return arr, nil
}

// clampStart resolves a possibly negative start position against n.
func clampStart(start, n int) int {
	if start < 0 {
		start += n
		if start < 0 {
			return 0
		}
	}
	if start > n {
		return n
	}
	return start
}

// Splice removes deleteCount elements at start, inserts items in their place
// and returns the new sequence together with the removed elements. A
// negative start counts from the end.
func Splice(arr []any, start, deleteCount int, items ...any) ([]any, []any) {
	start = clampStart(start, len(arr))
	if deleteCount < 0 {
		deleteCount = 0
	}
	if deleteCount > len(arr)-start {
		deleteCount = len(arr) - start
	}

	removed := make([]any, deleteCount)
	copy(removed, arr[start:start+deleteCount])

	out := make([]any, 0, len(arr)-deleteCount+len(items))
	out = append(out, arr[:start]...)
	out = append(out, items...)
	out = append(out, arr[start+deleteCount:]...)
	return out, removed
}

// IndexOf returns the position of the first element equal to v, or -1.
func IndexOf(arr []any, v any) int {
	for i, e := range arr {
		if value.Equal(e, v) {
			return i
		}
	}
	return -1
}

// FindIndex returns the position of the first element matching fn, or -1.
func FindIndex(arr []any, fn func(v any, i int) bool) int {
	for i, e := range arr {
		if fn(e, i) {
			return i
		}
	}
	return -1
}

// Includes reports whether v occurs at or after fromIndex.
func Includes(arr []any, v any, fromIndex int) bool {
	for _, e := range arr[clampStart(fromIndex, len(arr)):] {
		if value.Equal(e, v) {
			return true
		}
	}
	return false
}
