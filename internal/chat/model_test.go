package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentity(t *testing.T) {
	valid := []string{"673d7bbe371d2f79e5a09808", "user@example.com", "ü-ser"}
	for _, id := range valid {
		assert.NoError(t, ValidateIdentity(id), id)
	}

	invalid := []string{"", "   ", "a\x00b", "line\nbreak", strings.Repeat("x", maxIdentityLen+1), string([]byte{0xff, 0xfe})}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateIdentity(id), ErrInvalidIdentity, "%q", id)
	}
}

func TestParseCursor(t *testing.T) {
	id, err := ParseCursor("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "abc", "-1", "1.5", "674d24b1148f5b2542d4bf62"} {
		_, err := ParseCursor(raw)
		assert.ErrorIs(t, err, ErrInvalidCursor, raw)
	}
}

func TestEncodeBatchShape(t *testing.T) {
	ts := time.Date(2024, 12, 2, 3, 8, 33, 222000000, time.UTC)
	payload, err := EncodeBatch([]Message{{
		ID:             4,
		ConversationID: 9,
		SenderID:       "x",
		Text:           "hi",
		CreatedAt:      ts,
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"_id":"4","connectionId":"9","senderId":"x","message":"hi","timestamp":"2024-12-02T03:08:33.222Z"}]`, string(payload))

	empty, err := EncodeBatch(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))

	var records []Record
	require.NoError(t, json.Unmarshal(payload, &records))
	assert.Equal(t, int64(4), records[0].ID)
}

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame(FrameText, []byte(`{"looks":"like json"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"looks":"like json"}`, f.Text)
	assert.Empty(t, f.ClientMsgID)

	f, err = DecodeFrame(FrameJSON, []byte(`{"clientMsgId":"c-1","text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, InboundFrame{ClientMsgID: "c-1", Text: "hello"}, f)

	bad := []struct {
		name   string
		format FrameFormat
		data   string
	}{
		{"empty text", FrameText, ""},
		{"blank text", FrameText, "  \t"},
		{"invalid utf8", FrameText, string([]byte{0xc3, 0x28})},
		{"json unknown field", FrameJSON, `{"text":"hi","extra":1}`},
		{"json not object", FrameJSON, `hello`},
		{"json empty text", FrameJSON, `{"clientMsgId":"c"}`},
		{"json trailing", FrameJSON, `{"text":"a"}{"text":"b"}`},
		{"json long id", FrameJSON, `{"clientMsgId":"` + strings.Repeat("c", maxClientMsgIDLen+1) + `","text":"a"}`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.format, []byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidFrame)
		})
	}
}

func TestParseFrameFormat(t *testing.T) {
	f, err := ParseFrameFormat("")
	require.NoError(t, err)
	assert.Equal(t, FrameText, f)

	f, err = ParseFrameFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FrameJSON, f)

	_, err = ParseFrameFormat("xml")
	assert.ErrorIs(t, err, ErrInvalidFrame)
}
