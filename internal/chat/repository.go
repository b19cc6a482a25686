package chat

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Repository is the Postgres-backed MessageStore.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(ctx context.Context, conversationID int64, senderID, text, clientMsgID string) (Message, error) {
	m := Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		ClientMsgID:    clientMsgID,
	}
	query := `
		INSERT INTO messages (conversation_id, sender_id, content, client_msg_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query, conversationID, senderID, text, clientMsgID).Scan(&m.ID, &m.CreatedAt); err != nil {
		return Message{}, errors.Wrap(err, "chatRepo.Append.Insert")
	}
	return m, nil
}

func (r *Repository) ListAll(ctx context.Context, conversationID int64) ([]Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, COALESCE(client_msg_id, ''), created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY id ASC
	`
	msgs, err := r.query(ctx, query, conversationID)
	return msgs, errors.Wrap(err, "chatRepo.ListAll")
}

func (r *Repository) ListSince(ctx context.Context, conversationID, afterID int64) ([]Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, COALESCE(client_msg_id, ''), created_at
		FROM messages
		WHERE conversation_id = $1 AND id > $2
		ORDER BY id ASC
	`
	msgs, err := r.query(ctx, query, conversationID, afterID)
	return msgs, errors.Wrap(err, "chatRepo.ListSince")
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.ClientMsgID, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// ConversationRepository is the Postgres-backed Directory.
type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// pairClause matches the unordered pair ($1,$2) against the unique pair index.
const pairClause = `LEAST(participant_a, participant_b) = LEAST($1, $2)
		  AND GREATEST(participant_a, participant_b) = GREATEST($1, $2)`

func (r *ConversationRepository) Resolve(ctx context.Context, a, b string) (int64, error) {
	var id int64
	query := `SELECT id FROM conversations WHERE ` + pairClause
	err := r.db.QueryRowContext(ctx, query, a, b).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrConversationNotFound
		}
		return 0, errors.Wrap(err, "conversationRepo.Resolve.Scan")
	}
	return id, nil
}

func (r *ConversationRepository) IsAuthorized(ctx context.Context, a, b string) (bool, error) {
	var status Status
	query := `SELECT status FROM conversations WHERE ` + pairClause
	err := r.db.QueryRowContext(ctx, query, a, b).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(err, "conversationRepo.IsAuthorized.Scan")
	}
	return status == StatusAccepted, nil
}

// Create inserts a conversation row. The connection-request workflow owns
// conversations; this exists for seeding and tests.
func (r *ConversationRepository) Create(ctx context.Context, a, b string, status Status) (Conversation, error) {
	if !status.Valid() {
		return Conversation{}, errors.Errorf("invalid status %q", status)
	}
	c := Conversation{ParticipantA: a, ParticipantB: b, Status: status}
	query := `
		INSERT INTO conversations (participant_a, participant_b, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, a, b, string(status)).Scan(&c.ID, &createdAt); err != nil {
		return Conversation{}, errors.Wrap(err, "conversationRepo.Create.Insert")
	}
	c.CreatedAt = createdAt
	return c, nil
}
