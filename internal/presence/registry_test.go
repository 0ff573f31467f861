package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterUnregister(t *testing.T) {
	r := NewRegistry(nil)

	became := r.Register(Session{ConnID: "c1", StableID: "alice", UserID: 1})
	require.True(t, became)
	require.True(t, r.IsOnline("alice"))

	wentOffline := r.Unregister("alice")
	require.True(t, wentOffline)
	require.False(t, r.IsOnline("alice"))
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	require.False(t, r.Unregister("ghost"))
}

func TestDuplicateConnectionsListedOnce(t *testing.T) {
	r := NewRegistry(nil)

	require.True(t, r.Register(Session{ConnID: "c1", StableID: "alice", UserID: 1}))
	require.False(t, r.Register(Session{ConnID: "c2", StableID: "alice", UserID: 1}))

	require.Equal(t, []string{"alice"}, r.Snapshot())

	// First disconnect leaves the identity online, second takes it offline.
	require.False(t, r.Unregister("alice"))
	require.True(t, r.IsOnline("alice"))
	require.True(t, r.Unregister("alice"))
	require.False(t, r.IsOnline("alice"))
}

func TestLastWriterWinsBookkeeping(t *testing.T) {
	r := NewRegistry(nil)

	r.Register(Session{ConnID: "c1", StableID: "alice", UserID: 1})
	r.Register(Session{ConnID: "c2", StableID: "alice", UserID: 1})

	s, ok := r.Get("alice")
	require.True(t, ok)
	require.Equal(t, "c2", s.ConnID)
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Session{ConnID: "c1", StableID: "alice"})

	at := time.Now().Add(time.Minute)
	r.Touch("alice", at)

	s, ok := r.Get("alice")
	require.True(t, ok)
	require.Equal(t, at, s.LastSeen)

	r.Touch("ghost", at) // no-op
}

func TestSizeCallback(t *testing.T) {
	var last int
	r := NewRegistry(func(n int) { last = n })

	r.Register(Session{ConnID: "c1", StableID: "alice"})
	r.Register(Session{ConnID: "c2", StableID: "bob"})
	require.Equal(t, 2, last)

	r.Unregister("alice")
	require.Equal(t, 1, last)
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%8))
			r.Register(Session{ConnID: id, StableID: id})
			r.IsOnline(id)
			r.Snapshot()
			r.Touch(id, time.Now())
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	require.Empty(t, r.Snapshot())
}
