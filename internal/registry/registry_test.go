package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRemove(t *testing.T) {
	r := New()

	require.NoError(t, r.Put("call-1", Entry{SessionID: "sess-1"}))

	entry, ok := r.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, "sess-1", entry.SessionID)
	assert.Equal(t, 1, r.Len())

	r.Remove("call-1")
	_, ok = r.Get("call-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestPutDuplicateFails(t *testing.T) {
	r := New()

	require.NoError(t, r.Put("call-1", Entry{SessionID: "sess-1"}))
	err := r.Put("call-1", Entry{SessionID: "sess-2"})
	require.Error(t, err)

	// The original entry survives.
	entry, ok := r.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, "sess-1", entry.SessionID)
	assert.Equal(t, 1, r.Len())
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	r := New()
	r.Remove("never-existed")
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentConnects(t *testing.T) {
	r := New()
	const calls = 100

	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			callID := fmt.Sprintf("call-%d", i)
			errs[i] = r.Put(callID, Entry{SessionID: fmt.Sprintf("sess-%d", i)})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "put %d", i)
	}
	assert.Equal(t, calls, r.Len())

	// Every entry is present and uncorrupted.
	for i := 0; i < calls; i++ {
		entry, ok := r.Get(fmt.Sprintf("call-%d", i))
		require.True(t, ok, "entry %d", i)
		assert.Equal(t, fmt.Sprintf("sess-%d", i), entry.SessionID)
	}
}

func TestSnapshot(t *testing.T) {
	r := New()
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Put(fmt.Sprintf("call-%d", i), Entry{SessionID: fmt.Sprintf("sess-%d", i)}))
	}

	snap := r.Snapshot()
	assert.Len(t, snap, 10)

	// The snapshot is a copy; mutating the registry afterwards does not
	// change it.
	r.Remove("call-0")
	assert.Len(t, snap, 10)
	assert.Equal(t, 9, r.Len())
}
