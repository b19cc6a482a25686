package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process MessageStore and Directory. It backs the
// "memory" storage driver and the relay tests.
type MemoryStore struct {
	mu            sync.RWMutex
	nextMessageID int64
	nextConvID    int64
	conversations map[pairKey]*Conversation
	messages      map[int64][]Message
	nowFn         func() time.Time
	failAppend    error
	failList      error
}

type pairKey struct{ lo, hi string }

func newPairKey(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[pairKey]*Conversation),
		messages:      make(map[int64][]Message),
		nowFn:         time.Now,
	}
}

// CreateConversation seeds a conversation for the pair.
func (s *MemoryStore) CreateConversation(a, b string, status Status) (Conversation, error) {
	if !status.Valid() {
		return Conversation{}, fmt.Errorf("invalid status %q", status)
	}
	if a == b {
		return Conversation{}, fmt.Errorf("conversation needs two distinct participants")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := newPairKey(a, b)
	if _, exists := s.conversations[key]; exists {
		return Conversation{}, fmt.Errorf("conversation between %s and %s already exists", a, b)
	}
	s.nextConvID++
	c := &Conversation{
		ID:           s.nextConvID,
		ParticipantA: a,
		ParticipantB: b,
		Status:       status,
		CreatedAt:    s.nowFn(),
	}
	s.conversations[key] = c
	return *c, nil
}

// SetStatus changes a seeded conversation's status.
func (s *MemoryStore) SetStatus(a, b string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[newPairKey(a, b)]
	if ok {
		c.Status = status
	}
	return ok
}

// FailAppend makes subsequent Append calls return err (nil to recover).
func (s *MemoryStore) FailAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppend = err
}

// FailList makes subsequent ListAll/ListSince calls return err (nil to recover).
func (s *MemoryStore) FailList(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failList = err
}

func (s *MemoryStore) Resolve(_ context.Context, a, b string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[newPairKey(a, b)]
	if !ok {
		return 0, ErrConversationNotFound
	}
	return c.ID, nil
}

func (s *MemoryStore) IsAuthorized(_ context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[newPairKey(a, b)]
	return ok && c.Status == StatusAccepted, nil
}

func (s *MemoryStore) Append(ctx context.Context, conversationID int64, senderID, text, clientMsgID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		return Message{}, s.failAppend
	}

	s.nextMessageID++
	m := Message{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		ClientMsgID:    clientMsgID,
		CreatedAt:      s.nowFn(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	return m, nil
}

func (s *MemoryStore) ListAll(ctx context.Context, conversationID int64) ([]Message, error) {
	return s.ListSince(ctx, conversationID, 0)
}

func (s *MemoryStore) ListSince(ctx context.Context, conversationID, afterID int64) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failList != nil {
		return nil, s.failList
	}

	// appended under the write lock, so already in ID order
	out := []Message{}
	for _, m := range s.messages[conversationID] {
		if m.ID > afterID {
			out = append(out, m)
		}
	}
	return out, nil
}
