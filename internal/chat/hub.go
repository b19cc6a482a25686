package chat

import (
	"errors"
	"sync"
)

// ErrAlreadyRegistered is returned when a subscriber is registered twice for
// the same conversation.
var ErrAlreadyRegistered = errors.New("subscriber already registered")

// Subscriber is one live socket as seen by the Registry.
type Subscriber interface {
	ID() string
	// Open reports whether the underlying transport can still take frames.
	Open() bool
	// Deliver queues payload without blocking. It returns false when the
	// payload was not accepted.
	Deliver(payload []byte) bool
}

// Registry maps conversation IDs to the sockets currently subscribed to them.
// It lives for the lifetime of the process and is never persisted.
type Registry struct {
	mu            sync.RWMutex
	conversations map[int64]map[string]Subscriber
}

func NewRegistry() *Registry {
	return &Registry{
		conversations: make(map[int64]map[string]Subscriber),
	}
}

// Register adds sub to the set for conversationID, creating the set on first use.
func (r *Registry) Register(conversationID int64, sub Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conversations[conversationID]
	if !ok {
		set = make(map[string]Subscriber)
		r.conversations[conversationID] = set
	}
	if _, exists := set[sub.ID()]; exists {
		return ErrAlreadyRegistered
	}
	set[sub.ID()] = sub
	return nil
}

// Unregister removes sub and reclaims the set once empty. It reports whether
// sub was registered, so calling it twice is harmless.
func (r *Registry) Unregister(conversationID int64, sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conversations[conversationID]
	if !ok {
		return false
	}
	if _, exists := set[sub.ID()]; !exists {
		return false
	}
	delete(set, sub.ID())
	if len(set) == 0 {
		delete(r.conversations, conversationID)
	}
	return true
}

// Broadcast hands payload to every open subscriber of conversationID except
// the one whose ID equals excludeID (empty excludes nobody). Closed
// subscribers are skipped; their own close path unregisters them. It returns
// the number of subscribers that accepted the payload.
func (r *Registry) Broadcast(conversationID int64, payload []byte, excludeID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for id, sub := range r.conversations[conversationID] {
		if excludeID != "" && id == excludeID {
			continue
		}
		if !sub.Open() {
			continue
		}
		if sub.Deliver(payload) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of subscribers registered for conversationID.
func (r *Registry) Count(conversationID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations[conversationID])
}

// Contains reports whether the subscriber ID is registered for conversationID.
func (r *Registry) Contains(conversationID int64, subscriberID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conversations[conversationID][subscriberID]
	return ok
}

// Len returns the total number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.conversations {
		n += len(set)
	}
	return n
}
