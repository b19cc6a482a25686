package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidIdentity      = errors.New("invalid identity")
	ErrInvalidFrame         = errors.New("invalid frame")
	ErrInvalidCursor        = errors.New("invalid message cursor")
)

const maxIdentityLen = 128

// ---------------------------------------------
// Database models
// ---------------------------------------------

// Status is the authorization state of a conversation. The relay only reads it.
type Status string

const (
	StatusNone     Status = "none"
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Conversation is the permitted channel between exactly two identities.
// (A,B) and (B,A) name the same conversation.
type Conversation struct {
	ID           int64
	ParticipantA string
	ParticipantB string
	Status       Status
	CreatedAt    time.Time
}

// Message is one immutable entry of a conversation log. ID is assigned by the
// store in insertion order and is the only ordering key.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       string
	Text           string
	ClientMsgID    string
	CreatedAt      time.Time
}

// ValidateIdentity checks an opaque participant identifier.
func ValidateIdentity(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	if len(id) > maxIdentityLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdentity, maxIdentityLen)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: not utf-8", ErrInvalidIdentity)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character", ErrInvalidIdentity)
		}
	}
	return nil
}

// ParseCursor parses a lastMessageId / afterId value.
func ParseCursor(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCursor, raw)
	}
	return id, nil
}

// ---------------------------------------------
// Wire models
// ---------------------------------------------

// Record is the JSON shape of a message on every outbound surface: backlog,
// live frames and the REST history routes. Identifiers travel as strings.
type Record struct {
	ID             int64     `json:"_id,string"`
	ConversationID int64     `json:"connectionId,string"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	ClientMsgID    string    `json:"clientMsgId,omitempty"`
}

func NewRecord(m Message) Record {
	return Record{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		Timestamp:      m.CreatedAt.UTC(),
		ClientMsgID:    m.ClientMsgID,
	}
}

// EncodeBatch renders messages as a JSON array of records. An empty input
// renders as [] rather than null.
func EncodeBatch(msgs []Message) ([]byte, error) {
	records := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, NewRecord(m))
	}
	return json.Marshal(records)
}

// FrameFormat selects how inbound frames are read for a session.
type FrameFormat string

const (
	// FrameText treats the whole frame as the message body.
	FrameText FrameFormat = "text"
	// FrameJSON expects an InboundFrame envelope.
	FrameJSON FrameFormat = "json"
)

func ParseFrameFormat(raw string) (FrameFormat, error) {
	switch FrameFormat(raw) {
	case "", FrameText:
		return FrameText, nil
	case FrameJSON:
		return FrameJSON, nil
	}
	return "", fmt.Errorf("%w: unknown frame format %q", ErrInvalidFrame, raw)
}

// InboundFrame is what a client sends in json frame mode. ClientMsgID is an
// optional provisional id echoed back in the persisted record.
type InboundFrame struct {
	ClientMsgID string `json:"clientMsgId,omitempty"`
	Text        string `json:"text"`
}

const maxClientMsgIDLen = 64

// DecodeFrame turns one inbound socket frame into an InboundFrame.
func DecodeFrame(format FrameFormat, data []byte) (InboundFrame, error) {
	if !utf8.Valid(data) {
		return InboundFrame{}, fmt.Errorf("%w: not utf-8", ErrInvalidFrame)
	}

	var f InboundFrame
	switch format {
	case FrameJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return InboundFrame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		if dec.More() {
			return InboundFrame{}, fmt.Errorf("%w: trailing data", ErrInvalidFrame)
		}
		if len(f.ClientMsgID) > maxClientMsgIDLen {
			return InboundFrame{}, fmt.Errorf("%w: clientMsgId too long", ErrInvalidFrame)
		}
	default:
		f.Text = string(data)
	}

	if strings.TrimSpace(f.Text) == "" {
		return InboundFrame{}, fmt.Errorf("%w: empty message", ErrInvalidFrame)
	}
	return f, nil
}
