package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	closed bool
	full   bool
	got    [][]byte
}

func newFakeSubscriber(id string) *fakeSubscriber { return &fakeSubscriber{id: id} }

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeSubscriber) Deliver(p []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.got = append(f.got, p)
	return true
}

func (f *fakeSubscriber) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.got...)
}

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	a := newFakeSubscriber("a")

	require.NoError(t, r.Register(1, a))
	assert.ErrorIs(t, r.Register(1, a), ErrAlreadyRegistered)
	assert.Equal(t, 1, r.Count(1))
	assert.True(t, r.Contains(1, "a"))

	// same socket on another conversation is a separate entry
	require.NoError(t, r.Register(2, a))
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.Unregister(1, a))
	assert.False(t, r.Unregister(1, a))
	assert.False(t, r.Contains(1, "a"))
	assert.Equal(t, 0, r.Count(1))
	assert.Equal(t, 1, r.Len())

	assert.False(t, r.Unregister(99, a))
}

func TestRegistryBroadcastScopedToConversation(t *testing.T) {
	r := NewRegistry()
	subs := []*fakeSubscriber{newFakeSubscriber("a"), newFakeSubscriber("b"), newFakeSubscriber("c")}
	for _, s := range subs {
		require.NoError(t, r.Register(7, s))
	}
	other := newFakeSubscriber("other")
	require.NoError(t, r.Register(8, other))

	payload := []byte(`[{"_id":"1"}]`)
	n := r.Broadcast(7, payload, "")
	assert.Equal(t, 3, n)
	for _, s := range subs {
		require.Len(t, s.received(), 1)
		assert.Equal(t, payload, s.received()[0])
	}
	assert.Empty(t, other.received())
}

func TestRegistryBroadcastExcludesAndSkipsClosed(t *testing.T) {
	r := NewRegistry()
	sender := newFakeSubscriber("sender")
	closed := newFakeSubscriber("closed")
	closed.closed = true
	full := newFakeSubscriber("full")
	full.full = true
	peer := newFakeSubscriber("peer")
	for _, s := range []*fakeSubscriber{sender, closed, full, peer} {
		require.NoError(t, r.Register(3, s))
	}

	n := r.Broadcast(3, []byte("x"), "sender")
	assert.Equal(t, 1, n)
	assert.Empty(t, sender.received())
	assert.Empty(t, closed.received())
	assert.Len(t, peer.received(), 1)
	// closed subscribers stay until their own close path unregisters them
	assert.True(t, r.Contains(3, "closed"))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := newFakeSubscriber(fmt.Sprintf("s-%d", i))
			conv := int64(i % 5)
			if err := r.Register(conv, s); err != nil {
				t.Errorf("register: %v", err)
				return
			}
			r.Broadcast(conv, []byte("ping"), "")
			if !r.Unregister(conv, s) {
				t.Errorf("expected %s registered", s.id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
