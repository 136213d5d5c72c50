package tabledb

import (
	"math"
	"strconv"
	"strings"

	"github.com/agentic-research/simpledb/internal/backend"
	"github.com/agentic-research/simpledb/internal/value"
)

// StorageClass is the declared type of a column. The empty class declares
// no type and stores values as given.
//
// Values bound to a typed column are coerced the way SQLite's type affinity
// would store them:
//
//	TEXT:    numbers → decimal string, bool → "0"/"1"
//	INTEGER: whole numbers and numeric strings → int64, bool → 0/1
//	REAL:    numbers and numeric strings → float64
//	NUMERIC: whole → int64, fractional → float64, numeric strings parsed
//	BLOB:    no coercion
//
// Objects and sequences are always stored as JSON text.
type StorageClass string

const (
	ClassNone    StorageClass = ""
	ClassBlob    StorageClass = "BLOB"
	ClassInteger StorageClass = "INTEGER"
	ClassNumeric StorageClass = "NUMERIC"
	ClassReal    StorageClass = "REAL"
	ClassText    StorageClass = "TEXT"
)

// AffinityOf maps a declared column type to its class using SQLite's
// affinity rules (https://www.sqlite.org/datatype3.html, section 3.1).
func AffinityOf(declType string) StorageClass {
	t := strings.ToUpper(strings.TrimSpace(declType))
	switch {
	case t == "":
		return ClassNone
	case strings.Contains(t, "INT"):
		return ClassInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return ClassText
	case strings.Contains(t, "BLOB"):
		return ClassBlob
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return ClassReal
	}
	return ClassNumeric
}

// bindValue turns a caller value into something the driver can bind to a
// column of class c.
func bindValue(v any, c StorageClass) (any, error) {
	nv, err := value.Normalize(v)
	if err != nil {
		return nil, err
	}
	if value.IsContainer(nv) {
		return backend.EncodeValue(nv)
	}
	return CoerceValue(nv, c), nil
}

// CoerceValue applies class c to a scalar. nil passes through unchanged.
func CoerceValue(v any, c StorageClass) any {
	if v == nil {
		return nil
	}
	switch c {
	case ClassText:
		return coerceToText(v)
	case ClassInteger:
		return coerceToInteger(v)
	case ClassReal:
		return coerceToReal(v)
	case ClassNumeric:
		return coerceToNumeric(v)
	}
	if b, ok := v.(bool); ok {
		return boolInt(b)
	}
	return v
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func wholeFloat(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0) && f >= math.MinInt64 && f <= math.MaxInt64
}

func coerceToText(v any) any {
	switch t := v.(type) {
	case float64:
		if wholeFloat(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatInt(boolInt(t), 10)
	}
	return v
}

func coerceToInteger(v any) any {
	switch t := v.(type) {
	case float64:
		if wholeFloat(t) {
			return int64(t)
		}
		return t
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil && wholeFloat(f) {
			return int64(f)
		}
	case bool:
		return boolInt(t)
	}
	return v
}

func coerceToReal(v any) any {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	case bool:
		return float64(boolInt(t))
	}
	return v
}

func coerceToNumeric(v any) any {
	switch t := v.(type) {
	case float64:
		if wholeFloat(t) {
			return int64(t)
		}
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if wholeFloat(f) {
				return int64(f)
			}
			return f
		}
	case bool:
		return boolInt(t)
	}
	return v
}
