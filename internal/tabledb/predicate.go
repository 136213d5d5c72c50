package tabledb

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/agentic-research/simpledb/internal/metrics"
	"github.com/agentic-research/simpledb/internal/value"
	"github.com/puzpuzpuz/xsync/v3"
	"modernc.org/sqlite"
)

// predicateFunc is the SQL function every host predicate is called through:
// predicateFunc(id, col1, ..., colN). modernc.org/sqlite registers functions
// for the whole driver, so one variadic dispatcher serves all predicates.
const predicateFunc = "simpledb_predicate"

var (
	registerOnce sync.Once
	registerErr  error

	predicates = newPredicateRegistry(0)
)

// registerFunctions installs the dispatcher with the driver. It must run
// before the connection that uses it is opened.
func registerFunctions() error {
	registerOnce.Do(func() {
		if err := sqlite.RegisterScalarFunction(predicateFunc, -1, callPredicate); err != nil {
			registerErr = fmt.Errorf("%w: register %s: %w", ErrPredicateRegistrationFailed, predicateFunc, err)
		}
	})
	return registerErr
}

// predicate is one registered host filter together with the column order
// its arguments arrive in.
type predicate struct {
	fn      func(Row) bool
	columns []string
}

// predicateRegistry hands out ids for live predicates. Ids grow
// monotonically, wrap to zero after value.MaxSafeInteger and skip ids that
// are still in flight.
type predicateRegistry struct {
	mu       sync.Mutex
	next     uint64
	inFlight *roaring64.Bitmap

	entries *xsync.MapOf[uint64, *predicate]
}

func newPredicateRegistry(start uint64) *predicateRegistry {
	return &predicateRegistry{
		next:     start,
		inFlight: roaring64.New(),
		entries:  xsync.NewMapOf[uint64, *predicate](),
	}
}

func (r *predicateRegistry) register(fn func(Row) bool, columns []string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight.GetCardinality() > value.MaxSafeInteger {
		return 0, fmt.Errorf("%w: no free predicate id", ErrPredicateRegistrationFailed)
	}
	id := r.next
	for r.inFlight.Contains(id) {
		id = wrapID(id)
	}
	r.next = wrapID(id)
	r.inFlight.Add(id)

	cols := make([]string, len(columns))
	copy(cols, columns)
	r.entries.Store(id, &predicate{fn: fn, columns: cols})
	metrics.PredicatesCompiled.Inc()
	metrics.PredicatesInFlight.Inc()
	return id, nil
}

func wrapID(id uint64) uint64 {
	if id >= value.MaxSafeInteger {
		return 0
	}
	return id + 1
}

func (r *predicateRegistry) release(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFlight.Contains(id) {
		return
	}
	r.inFlight.Remove(id)
	r.entries.Delete(id)
	metrics.PredicatesInFlight.Dec()
}

func (r *predicateRegistry) live() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight.GetCardinality()
}

// call evaluates predicate args[0] on the row in args[1:].
func (r *predicateRegistry) call(args []driver.Value) (result driver.Value, err error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing predicate id", predicateFunc)
	}
	raw, ok := args[0].(int64)
	if !ok || raw < 0 {
		return nil, fmt.Errorf("%s: bad predicate id %v", predicateFunc, args[0])
	}
	p, ok := r.entries.Load(uint64(raw))
	if !ok {
		return nil, fmt.Errorf("%s: predicate %d is not registered", predicateFunc, raw)
	}
	vals := args[1:]
	if len(vals) != len(p.columns) {
		return nil, fmt.Errorf("%s: predicate %d expects %d columns, got %d", predicateFunc, raw, len(p.columns), len(vals))
	}

	row := make(Row, len(vals))
	for i, col := range p.columns {
		row[col] = fromDriver(vals[i])
	}

	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("%s: predicate %d panicked: %v", predicateFunc, raw, rec)
		}
	}()
	metrics.PredicateCalls.Inc()
	if p.fn(row) {
		return int64(1), nil
	}
	return int64(0), nil
}

func callPredicate(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	return predicates.call(args)
}

// predicateSQL renders the call expression for a registered id.
func predicateSQL(id uint64, table string, columns []string) string {
	var sb strings.Builder
	sb.WriteString(predicateFunc)
	sb.WriteByte('(')
	sb.WriteString(strconv.FormatUint(id, 10))
	for _, c := range columns {
		sb.WriteString(", ")
		sb.WriteString(qualify(table, c))
	}
	sb.WriteByte(')')
	return sb.String()
}

// fromDriver converts a value handed over by the driver to a row value.
func fromDriver(v driver.Value) any {
	if b, ok := v.([]byte); ok {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	}
	return v
}
