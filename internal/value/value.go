// Package value defines the generic document model shared by every store:
// nil, bool, int64, float64, string, []any and map[string]any.
//
// Values arrive from callers as arbitrary Go data and leave through JSON,
// YAML or SQLite text columns, so everything written is first passed through
// Normalize. Anything that cannot survive a round trip through the
// interchange format is rejected instead of being silently mangled.
package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"

	"github.com/ohler55/ojg/alt"
)

// ErrUnsupported is returned when a value has no lossless representation.
var ErrUnsupported = errors.New("unsupported value")

// MaxSafeInteger is the largest integer a float64 represents exactly.
const MaxSafeInteger = 1<<53 - 1

// Normalize converts v into the document model. Integer kinds become int64,
// floating point kinds become float64 and typed slices/maps are rebuilt as
// []any / map[string]any.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, int64:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: %v is not representable", ErrUnsupported, t)
		}
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint:
		return fromUnsigned(uint64(t))
	case uint64:
		return fromUnsigned(t)
	case float32:
		return Normalize(float64(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %q: %v", ErrUnsupported, t, err)
		}
		return Normalize(f)
	case []byte:
		return nil, fmt.Errorf("%w: binary data", ErrUnsupported)
	case *big.Int:
		if t != nil && t.IsInt64() {
			return t.Int64(), nil
		}
		return nil, fmt.Errorf("%w: large integer %v", ErrUnsupported, t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	}
	return normalizeReflect(reflect.ValueOf(v))
}

func fromUnsigned(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("%w: large integer %d", ErrUnsupported, u)
	}
	return int64(u), nil
}

// normalizeReflect handles typed containers such as []string or map[string]int.
func normalizeReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key type %s", ErrUnsupported, rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		it := rv.MapRange()
		for it.Next() {
			n, err := Normalize(it.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", it.Key().String(), err)
			}
			out[it.Key().String()] = n
		}
		return out, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fromUnsigned(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Normalize(rv.Float())
	case reflect.Invalid:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, rv.Interface())
}

// Clone returns a deep, independent copy of v.
func Clone(v any) any {
	switch v.(type) {
	case nil, bool, string, int64, float64:
		return v
	}
	return alt.Dup(v)
}

// IsContainer reports whether v is a map or a sequence.
func IsContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// Number returns v as a float64 when it is numeric.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// FromFloat stores whole numbers in the safe integer range as int64 so they
// compare equal to values read back from a document.
func FromFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) <= MaxSafeInteger {
		return int64(f)
	}
	return f
}

// Equal compares two document values. Numbers compare by value regardless
// of whether they are stored as int64 or float64.
func Equal(a, b any) bool {
	if fa, ok := Number(a); ok {
		fb, ok := Number(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// typeRank orders values of different kinds: nil < bool < number < string
// < sequence < map.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64, int:
		return 2
	case string:
		return 3
	case []any:
		return 4
	case map[string]any:
		return 5
	}
	return 6
}

// Compare is the default ordering used when sorting a sequence without a
// comparison function.
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case []any:
		y := b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return len(x) - len(y)
	case map[string]any:
		return len(x) - len(b.(map[string]any))
	}
	if fa, ok := Number(a); ok {
		fb, _ := Number(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	}
	return 0
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
