// Package metrics exposes process-wide counters for flushes and compiled
// predicates in Prometheus text format.
package metrics

import (
	"io"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
)

var (
	Flushes          = vm.NewCounter(`simpledb_flushes_total`)
	FlushErrors      = vm.NewCounter(`simpledb_flush_errors_total`)
	FlushedChanges   = vm.NewCounter(`simpledb_flushed_changes_total`)
	MalformedChanges = vm.NewCounter(`simpledb_malformed_changes_total`)
	flushDuration    = vm.NewHistogram(`simpledb_flush_duration_seconds`)

	PredicatesCompiled = vm.NewCounter(`simpledb_predicates_compiled_total`)
	PredicateCalls     = vm.NewCounter(`simpledb_predicate_calls_total`)
	PredicatesInFlight = vm.NewCounter(`simpledb_predicates_in_flight`)

	SchemaChanges = vm.NewCounter(`simpledb_schema_changes_total`)
)

// ObserveFlush records a finished flush of n changes that started at start.
func ObserveFlush(start time.Time, n int, err error) {
	flushDuration.Update(time.Since(start).Seconds())
	Flushes.Inc()
	if err != nil {
		FlushErrors.Inc()
		return
	}
	FlushedChanges.Add(n)
}

// Write dumps every metric in Prometheus text format.
func Write(w io.Writer) {
	vm.WritePrometheus(w, false)
}
