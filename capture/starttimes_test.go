package capture

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTimesPutGet(t *testing.T) {
	st := NewStartTimes()

	_, ok := st.Get(100)
	assert.False(t, ok, "pid that never spawned must be absent")

	require.True(t, st.Put(100, 5000))
	ts, ok := st.Get(100)
	require.True(t, ok)
	assert.Equal(t, uint64(5000), ts)
	assert.Equal(t, 1, st.Len())
}

func TestStartTimesOverwriteIsLastWriteWins(t *testing.T) {
	st := NewStartTimes()
	st.Put(42, 1000)
	st.Put(42, 2000) // recycled pid, new spawn

	ts, ok := st.Get(42)
	require.True(t, ok)
	assert.Equal(t, uint64(2000), ts)
	assert.Equal(t, 1, st.Len())
}

func TestStartTimesCapacity(t *testing.T) {
	st := NewStartTimes()
	for pid := uint32(1); pid <= MaxStartTimeEntries; pid++ {
		require.True(t, st.Put(pid, uint64(pid)))
	}

	// New pid at capacity: dropped, no error, no eviction.
	assert.False(t, st.Put(MaxStartTimeEntries+1, 99))
	_, ok := st.Get(MaxStartTimeEntries + 1)
	assert.False(t, ok)

	// Existing pid still updatable at capacity.
	assert.True(t, st.Put(7, 777))
	ts, _ := st.Get(7)
	assert.Equal(t, uint64(777), ts)
	assert.Equal(t, MaxStartTimeEntries, st.Len())
}

func TestStartTimesConcurrentUpsert(t *testing.T) {
	st := NewStartTimes()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base uint32) {
			defer wg.Done()
			for i := uint32(0); i < 500; i++ {
				st.Put(base*500+i, uint64(i))
				st.Get(i)
			}
		}(uint32(g))
	}
	wg.Wait()

	assert.Equal(t, 8*500, st.Len())
}
