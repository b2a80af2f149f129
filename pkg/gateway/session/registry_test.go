package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInsertRemove(t *testing.T) {
	r := NewRegistry()

	a := New("a", nil)
	b := New("b", &Shard{ID: 0, Count: 2})

	assert.Equal(t, 1, r.Insert(a))
	assert.Equal(t, 2, r.Insert(b))

	got, ok := r.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	count, removed := r.Remove(a.ID)
	assert.True(t, removed)
	assert.Equal(t, 1, count)

	count, removed = r.Remove(a.ID)
	assert.False(t, removed)
	assert.Equal(t, 1, count)

	_, ok = r.Get(a.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestRegistrySameRemoteAddrKeepsBothSessions(t *testing.T) {
	r := NewRegistry()
	r.Insert(New("127.0.0.1:4000", nil))
	r.Insert(New("127.0.0.1:4000", nil))
	assert.Equal(t, 2, r.Count())
}

func TestRegistrySnapshotAndShards(t *testing.T) {
	r := NewRegistry()
	r.Insert(New("a", &Shard{ID: 0, Count: 2}))
	r.Insert(New("b", &Shard{ID: 1, Count: 2}))
	r.Insert(New("c", &Shard{ID: 1, Count: 2}))
	r.Insert(New("d", nil))

	snap := r.Snapshot()
	require.Len(t, snap, 4)
	for i := 1; i < len(snap); i++ {
		assert.False(t, snap[i].ConnectedAt.Before(snap[i-1].ConnectedAt))
	}

	assert.Equal(t, map[Shard]int{
		{ID: 0, Count: 2}: 1,
		{ID: 1, Count: 2}: 2,
	}, r.CountByShard())
}

func TestRegistryConcurrentConnectDisconnect(t *testing.T) {
	const connects = 500
	const disconnects = 200

	r := NewRegistry()
	sessions := make([]*Session, connects)
	for i := range sessions {
		sessions[i] = New("peer", nil)
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			r.Insert(s)
		}(s)
	}
	wg.Wait()
	assert.Equal(t, connects, r.Count())

	for _, s := range sessions[:disconnects] {
		wg.Add(2)
		go func(s *Session) {
			defer wg.Done()
			r.Remove(s.ID)
		}(s)
		go func() {
			defer wg.Done()
			r.Count()
			r.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, connects-disconnects, r.Count())
}
