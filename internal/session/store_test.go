package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrygate/internal/shared"
)

func TestStoreObserveResetsOnKindChange(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	st := s.Observe("a", shared.KindTimeout, t0)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, t0, st.FirstSeenAt)

	st = s.Observe("a", shared.KindTimeout, t0.Add(time.Minute))
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, t0, st.FirstSeenAt)
	assert.Equal(t, time.Minute, st.Elapsed(t0.Add(time.Minute)))

	st = s.Observe("a", shared.KindSocketConnection, t0.Add(2*time.Minute))
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, shared.KindSocketConnection, st.LastKind)
	assert.Equal(t, t0.Add(2*time.Minute), st.FirstSeenAt)
}

func TestStoreClearAndGet(t *testing.T) {
	s := NewStore()
	s.Observe("a", shared.KindRateLimit, time.Now())

	_, ok := s.Get("a")
	require.True(t, ok)
	s.Clear("a")
	_, ok = s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	// clearing an unknown session is a no-op
	s.Clear("missing")
}

func TestStoreSnapshotAndClearIdle(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Observe("b", shared.KindTimeout, t0)
	s.Observe("a", shared.KindRateLimit, t0.Add(time.Hour))
	s.Observe("c", shared.KindRateLimit, t0.Add(3*time.Hour))

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{snap[0].SessionID, snap[1].SessionID, snap[2].SessionID})

	assert.Empty(t, s.ClearIdle(t0))
	assert.Equal(t, []string{"a", "b"}, s.ClearIdle(t0.Add(2*time.Hour)))
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("c")
	assert.True(t, ok)
}

func TestStoreClearIdleKeepsRefreshedSession(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Observe("a", shared.KindRateLimit, t0)
	// a failure lands after the cutoff was computed but before the sweep
	s.Observe("a", shared.KindRateLimit, t0.Add(2*time.Hour))

	assert.Empty(t, s.ClearIdle(t0.Add(time.Hour)))
	st, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, st.Attempts)
}

func TestStoreElapsedNeverNegative(t *testing.T) {
	st := State{FirstSeenAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	assert.Zero(t, st.Elapsed(st.FirstSeenAt.Add(-time.Second)))
}

func TestStoreConcurrentSessions(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Observe(id, shared.KindSocketConnection, time.Now())
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	require.Equal(t, 20, s.Len())
	for _, st := range s.Snapshot() {
		assert.Equal(t, 50, st.Attempts, st.SessionID)
	}
}
