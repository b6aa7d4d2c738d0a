package capture

import (
	"sync"
	"sync/atomic"
)

// MaxStartTimeEntries bounds the number of live correlation entries,
// matching the fixed sizing of the kernel-side map it mirrors.
const MaxStartTimeEntries = 10240

const startTimeShards = 64

// StartTimes maps pid to process start timestamp (nanoseconds). It is
// the only mutable state shared by capture procedures, so access is
// sharded: every operation touches exactly one key under one shard
// lock, and nothing can stall longer than a map insert.
//
// Entries are never deleted. A spawn for a recycled pid overwrites the
// stale entry; when the store is full, writes for new pids are silently
// dropped. Consumers must treat a missing entry as a normal state.
type StartTimes struct {
	shards [startTimeShards]startTimeShard
	count  atomic.Int64
}

type startTimeShard struct {
	mu      sync.RWMutex
	entries map[uint32]uint64
}

// NewStartTimes creates an empty correlation store.
func NewStartTimes() *StartTimes {
	st := &StartTimes{}
	for i := range st.shards {
		st.shards[i].entries = make(map[uint32]uint64)
	}
	return st
}

func (st *StartTimes) shard(pid uint32) *startTimeShard {
	return &st.shards[pid%startTimeShards]
}

// Put records the start timestamp for a pid, overwriting any prior
// entry. Returns false if the store was full and the write was dropped.
func (st *StartTimes) Put(pid uint32, ts uint64) bool {
	s := st.shard(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[pid]; !exists {
		if st.count.Add(1) > MaxStartTimeEntries {
			st.count.Add(-1)
			return false
		}
	}
	s.entries[pid] = ts
	return true
}

// Get returns the recorded start timestamp for a pid, if present.
func (st *StartTimes) Get(pid uint32) (uint64, bool) {
	s := st.shard(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.entries[pid]
	return ts, ok
}

// Len returns the number of live entries.
func (st *StartTimes) Len() int {
	return int(st.count.Load())
}
