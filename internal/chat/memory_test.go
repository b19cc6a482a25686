package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest lets the same property checks run against the memory store
// and the Postgres repositories.
type storeUnderTest interface {
	MessageStore
	Directory
}

func checkAppendOrdering(t *testing.T, s MessageStore, conv, other int64) {
	t.Helper()
	ctx := context.Background()

	var appended []Message
	for i := 0; i < 5; i++ {
		m, err := s.Append(ctx, conv, "x", fmt.Sprintf("m%d", i), "")
		require.NoError(t, err)
		appended = append(appended, m)
		// interleave another conversation to make sure lists stay partitioned
		_, err = s.Append(ctx, other, "y", "noise", "")
		require.NoError(t, err)
	}

	all, err := s.ListAll(ctx, conv)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := range all {
		assert.Equal(t, appended[i].ID, all[i].ID)
		assert.Equal(t, fmt.Sprintf("m%d", i), all[i].Text)
		if i > 0 {
			assert.Greater(t, all[i].ID, all[i-1].ID)
		}
	}

	since, err := s.ListSince(ctx, conv, appended[1].ID)
	require.NoError(t, err)
	require.Len(t, since, 3)
	assert.Equal(t, appended[2].ID, since[0].ID)
	assert.Equal(t, appended[4].ID, since[2].ID)

	// unknown cursors are a plain greater-than filter
	none, err := s.ListSince(ctx, conv, appended[4].ID+1000)
	require.NoError(t, err)
	assert.Empty(t, none)

	empty, err := s.ListAll(ctx, 987654)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func checkDirectory(t *testing.T, d Directory, seed func(a, b string, st Status) int64) {
	t.Helper()
	ctx := context.Background()

	cases := map[Status]bool{
		StatusAccepted: true,
		StatusPending:  false,
		StatusRejected: false,
		StatusNone:     false,
	}
	for status, want := range cases {
		a, b := "a-"+string(status), "b-"+string(status)
		id := seed(a, b, status)

		ab, err := d.IsAuthorized(ctx, a, b)
		require.NoError(t, err)
		ba, err := d.IsAuthorized(ctx, b, a)
		require.NoError(t, err)
		assert.Equal(t, want, ab, status)
		assert.Equal(t, ab, ba, "authorization must ignore direction")

		r1, err := d.Resolve(ctx, a, b)
		require.NoError(t, err)
		r2, err := d.Resolve(ctx, b, a)
		require.NoError(t, err)
		assert.Equal(t, id, r1)
		assert.Equal(t, id, r2)
	}

	ok, err := d.IsAuthorized(ctx, "nobody", "else")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = d.Resolve(ctx, "nobody", "else")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMemoryStoreOrdering(t *testing.T) {
	checkAppendOrdering(t, NewMemoryStore(), 1, 2)
}

func TestMemoryStoreDirectory(t *testing.T) {
	s := NewMemoryStore()
	checkDirectory(t, s, func(a, b string, st Status) int64 {
		c, err := s.CreateConversation(a, b, st)
		require.NoError(t, err)
		return c.ID
	})

	_, err := s.CreateConversation("b-accepted", "a-accepted", StatusAccepted)
	assert.Error(t, err, "reversed pair is the same conversation")
	_, err = s.CreateConversation("same", "same", StatusAccepted)
	assert.Error(t, err)
}

func TestMemoryStoreConcurrentAppend(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(ctx, 1, fmt.Sprintf("u%d", i%2), "hi", "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.ListAll(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 20)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].ID, all[i-1].ID)
	}
}

func TestMemoryStoreFailures(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	boom := fmt.Errorf("disk on fire")

	s.FailAppend(boom)
	_, err := s.Append(ctx, 1, "x", "lost", "")
	assert.ErrorIs(t, err, boom)
	s.FailAppend(nil)

	s.FailList(boom)
	_, err = s.ListAll(ctx, 1)
	assert.ErrorIs(t, err, boom)
	s.FailList(nil)

	all, err := s.ListAll(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, all, "failed append must not leave a row behind")
}

var _ storeUnderTest = (*MemoryStore)(nil)
