package chat

import "context"

// MessageStore is the durable, append-only, per-conversation message log.
type MessageStore interface {
	// Append persists a message and returns it with its store-assigned ID and timestamp.
	Append(ctx context.Context, conversationID int64, senderID, text, clientMsgID string) (Message, error)
	// ListAll returns every message of the conversation in ascending ID order.
	ListAll(ctx context.Context, conversationID int64) ([]Message, error)
	// ListSince returns messages with ID strictly greater than afterID, ascending.
	ListSince(ctx context.Context, conversationID, afterID int64) ([]Message, error)
}

// Directory resolves participant pairs to conversations. Lookups ignore
// argument order.
type Directory interface {
	Resolve(ctx context.Context, a, b string) (int64, error)
	IsAuthorized(ctx context.Context, a, b string) (bool, error)
}
