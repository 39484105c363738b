// Package metrics captures shared operational stats for a sync run.
package metrics

import "sync/atomic"

// Metrics counts work done across one or more sync cycles.
type Metrics struct {
	regionsProcessed  int64
	regionsFailed     int64
	entitiesRefreshed int64
	entitiesDeleted   int64
	entitiesResolved  int64
	problemsFound     int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	RegionsProcessed  int64
	RegionsFailed     int64
	EntitiesRefreshed int64
	EntitiesDeleted   int64
	EntitiesResolved  int64
	ProblemsFound     int64
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// RecordRegion increments the processed or failed region counter.
func (m *Metrics) RecordRegion(err error) {
	if err != nil {
		atomic.AddInt64(&m.regionsFailed, 1)
		return
	}
	atomic.AddInt64(&m.regionsProcessed, 1)
}

// RecordRefresh counts one outdated entity re-fetched from the source.
func (m *Metrics) RecordRefresh() {
	atomic.AddInt64(&m.entitiesRefreshed, 1)
}

// RecordDeletion counts one entity removed because the source deleted it.
func (m *Metrics) RecordDeletion() {
	atomic.AddInt64(&m.entitiesDeleted, 1)
}

// RecordResolution counts one entity classified, flagged or clean.
func (m *Metrics) RecordResolution(flagged bool) {
	atomic.AddInt64(&m.entitiesResolved, 1)
	if flagged {
		atomic.AddInt64(&m.problemsFound, 1)
	}
}

// Snapshot returns a read-only view of the counters.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RegionsProcessed:  atomic.LoadInt64(&m.regionsProcessed),
		RegionsFailed:     atomic.LoadInt64(&m.regionsFailed),
		EntitiesRefreshed: atomic.LoadInt64(&m.entitiesRefreshed),
		EntitiesDeleted:   atomic.LoadInt64(&m.entitiesDeleted),
		EntitiesResolved:  atomic.LoadInt64(&m.entitiesResolved),
		ProblemsFound:     atomic.LoadInt64(&m.problemsFound),
	}
}
