package objdb

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

type dbMetrics struct {
	saves         *metrics.Counter
	saveNoops     *metrics.Counter
	loads         *metrics.Counter
	loadMisses    *metrics.Counter
	deletes       *metrics.Counter
	triggerAborts *metrics.Counter
	flushes       *metrics.Counter
	purges        *metrics.Counter
	timeouts      *metrics.Counter
	eventsDropped *metrics.Counter
	saveDuration  *metrics.Histogram
	loadDuration  *metrics.Histogram
}

func newDBMetrics(set *metrics.Set, outstanding *atomic.Int64) *dbMetrics {
	set.GetOrCreateGauge("objdb_outstanding_operations", func() float64 {
		return float64(outstanding.Load())
	})
	return &dbMetrics{
		saves:         set.GetOrCreateCounter("objdb_saves_total"),
		saveNoops:     set.GetOrCreateCounter("objdb_save_noops_total"),
		loads:         set.GetOrCreateCounter("objdb_loads_total"),
		loadMisses:    set.GetOrCreateCounter("objdb_load_misses_total"),
		deletes:       set.GetOrCreateCounter("objdb_deletes_total"),
		triggerAborts: set.GetOrCreateCounter("objdb_trigger_aborts_total"),
		flushes:       set.GetOrCreateCounter("objdb_flushes_total"),
		purges:        set.GetOrCreateCounter("objdb_purges_total"),
		timeouts:      set.GetOrCreateCounter("objdb_operation_timeouts_total"),
		eventsDropped: set.GetOrCreateCounter("objdb_events_dropped_total"),
		saveDuration:  set.GetOrCreateHistogram("objdb_save_duration_seconds"),
		loadDuration:  set.GetOrCreateHistogram("objdb_load_duration_seconds"),
	}
}
