package store

import (
	"errors"
	"fmt"
	"math"

	"github.com/agentic-research/simpledb/internal/value"
)

// ErrNotANumber is returned when arithmetic targets a non-numeric value.
var ErrNotANumber = errors.New("not a number")

// Numbers does arithmetic on stored numbers.
type Numbers struct{ s *Store }

// Number returns the arithmetic helpers of s.
func (s *Store) Number() Numbers { return Numbers{s: s} }

// Add adds delta to the number at key, treating a missing key as 0, and
// returns the stored result.
func (n Numbers) Add(key string, delta float64) (any, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return nil, fmt.Errorf("%w: delta %v", ErrNotANumber, delta)
	}
	cur, ok, err := n.s.Get(key)
	if err != nil {
		return nil, err
	}

	var next any
	switch c := cur.(type) {
	case int64:
		if sum, exact := addInt(c, delta); exact {
			next = sum
		} else {
			next = value.FromFloat(float64(c) + delta)
		}
	case float64:
		next = value.FromFloat(c + delta)
	default:
		if ok {
			return nil, fmt.Errorf("%w: data stored in %q is %T", ErrNotANumber, key, cur)
		}
		next = value.FromFloat(delta)
	}

	if err := n.s.Set(key, next); err != nil {
		return nil, err
	}
	return next, nil
}

// addInt adds a whole delta to c. It reports false when delta is fractional
// or the sum does not fit in an int64.
func addInt(c int64, delta float64) (int64, bool) {
	if delta != math.Trunc(delta) || math.Abs(delta) > value.MaxSafeInteger {
		return 0, false
	}
	d := int64(delta)
	if (d > 0 && c > math.MaxInt64-d) || (d < 0 && c < math.MinInt64-d) {
		return 0, false
	}
	return c + d, true
}

// Subtract subtracts delta from the number at key.
func (n Numbers) Subtract(key string, delta float64) (any, error) {
	return n.Add(key, -delta)
}
