package fault

import (
	"sync"
	"sync/atomic"
)

// Stats is a small in-memory counter set, the engine's stand-in for
// the source's file-based profiler (out of scope per spec.md §1/§6):
// enough observability to exercise testable property 6 ("statistics
// are zero" after a catalog reload) without specifying a log-file
// format.
type Stats struct {
	evaluated atomic.Int64
	fired     atomic.Int64
	byMode    sync.Map // ModeFamily -> *atomic.Int64
}

// Evaluated returns the number of (fault, access) evaluations since
// the last Reset.
func (s *Stats) Evaluated() int64 { return s.evaluated.Load() }

// Fired returns the number of evaluations that resulted in an applied
// mutation since the last Reset.
func (s *Stats) Fired() int64 { return s.fired.Load() }

// FiredByMode returns the number of times faults of the given family
// fired.
func (s *Stats) FiredByMode(m ModeFamily) int64 {
	v, ok := s.byMode.Load(m)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func (s *Stats) recordEvaluated() { s.evaluated.Add(1) }

func (s *Stats) recordFired(m ModeFamily) {
	s.fired.Add(1)
	v, _ := s.byMode.LoadOrStore(m, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
}

// Reset zeroes every counter, called on catalog reload.
func (s *Stats) Reset() {
	s.evaluated.Store(0)
	s.fired.Store(0)
	s.byMode.Range(func(k, v any) bool {
		s.byMode.Delete(k)
		return true
	})
}
