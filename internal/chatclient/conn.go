package chatclient

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mentorchat/internal/chat"
)

const writeWait = 10 * time.Second

// Pending is a locally composed message the server has not confirmed yet.
type Pending struct {
	ClientMsgID string
	Text        string
	QueuedAt    time.Time
}

// Entry is one line of the conversation as the user sees it. Pending entries
// sort after every confirmed message.
type Entry struct {
	Message CachedMessage
	Pending bool
}

// DialOptions describes a live connection to a relay.
type DialOptions struct {
	// ServerURL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	ServerURL string
	Token     string
	// Self is the caller's own identity, used to match echoes of its messages.
	Self        string
	Peer        string
	FrameFormat chat.FrameFormat
	// NoEcho matches a relay running with echo_to_sender off. Sent messages
	// are never broadcast back, so Send retires the placeholder once the frame
	// is written.
	NoEcho bool
	Cache  *Cache
	Logger *zap.Logger
}

// Conn is a client session: a live socket plus the local cache it feeds.
type Conn struct {
	ws     *websocket.Conn
	cache  *Cache
	self   string
	peer   string
	format chat.FrameFormat
	noEcho bool
	log    *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending []Pending

	updates chan []CachedMessage
	done    chan struct{}
	err     error
}

// Dial opens a session with opts.Peer, resuming after the newest cached
// message.
func Dial(ctx context.Context, opts DialOptions) (*Conn, error) {
	if opts.Cache == nil {
		return nil, errors.New("chatclient: cache is required")
	}
	if opts.FrameFormat == "" {
		opts.FrameFormat = chat.FrameText
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	u, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse server url")
	}
	q := u.Query()
	q.Set("authToken", opts.Token)
	q.Set("peerIdentity", opts.Peer)
	q.Set("frameFormat", string(opts.FrameFormat))
	last, ok, err := opts.Cache.LastID(ctx, opts.Peer)
	if err != nil {
		return nil, err
	}
	if ok {
		q.Set("lastMessageId", strconv.FormatInt(last, 10))
	}
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial relay")
	}

	c := &Conn{
		ws:      ws,
		cache:   opts.Cache,
		self:    opts.Self,
		peer:    opts.Peer,
		format:  opts.FrameFormat,
		noEcho:  opts.NoEcho,
		log:     opts.Logger.With(zap.String("peer", opts.Peer)),
		updates: make(chan []CachedMessage, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Updates yields the messages each incoming batch added to the cache. It is
// closed when the connection ends.
func (c *Conn) Updates() <-chan []CachedMessage { return c.updates }

// Done is closed when the connection ends; Err then reports why.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Send shows text as pending and writes it to the relay. Without echo the
// message stays pending only until the write succeeds.
func (c *Conn) Send(text string) (Pending, error) {
	p := Pending{ClientMsgID: uuid.NewString(), Text: text, QueuedAt: time.Now()}

	frame := []byte(text)
	if c.format == chat.FrameJSON {
		var err error
		frame, err = json.Marshal(chat.InboundFrame{ClientMsgID: p.ClientMsgID, Text: text})
		if err != nil {
			return Pending{}, err
		}
	}

	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(p.ClientMsgID)
		return Pending{}, errors.Wrap(err, "send")
	}
	if c.noEcho {
		c.dropPending(p.ClientMsgID)
	}
	return p, nil
}

// PendingMessages returns the unconfirmed messages, oldest first.
func (c *Conn) PendingMessages() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pending, len(c.pending))
	copy(out, c.pending)
	return out
}

// Messages returns the cached conversation followed by pending messages.
func (c *Conn) Messages(ctx context.Context) ([]Entry, error) {
	cached, err := c.cache.Tail(ctx, c.peer)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(cached))
	for _, m := range cached {
		entries = append(entries, Entry{Message: m})
	}
	for _, p := range c.PendingMessages() {
		entries = append(entries, Entry{
			Message: CachedMessage{
				PartnerID:   c.peer,
				SenderID:    c.self,
				Text:        p.Text,
				ClientMsgID: p.ClientMsgID,
				CreatedAt:   p.QueuedAt,
			},
			Pending: true,
		})
	}
	return entries, nil
}

// Close ends the session with a normal close.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	return c.ws.Close()
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.updates)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			return
		}

		var batch []chat.Record
		if err := json.Unmarshal(data, &batch); err != nil {
			c.log.Warn("ignoring undecodable frame", zap.Error(err))
			continue
		}
		inserted, err := c.cache.Merge(context.Background(), c.peer, batch)
		if err != nil {
			c.err = err
			return
		}
		c.reconcile(batch)

		if len(inserted) == 0 {
			continue
		}
		select {
		case c.updates <- inserted:
		default:
			c.log.Debug("update channel full, consumer should re-read Messages", zap.Int("dropped", len(inserted)))
		}
	}
}

// reconcile retires pending entries confirmed by batch. A record carrying a
// clientMsgId retires exactly that entry; otherwise the oldest pending entry
// with the same text stands in for it.
func (c *Conn) reconcile(batch []chat.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range batch {
		if len(c.pending) == 0 {
			return
		}
		if r.SenderID != c.self {
			continue
		}
		idx := -1
		for i, p := range c.pending {
			if r.ClientMsgID != "" {
				if p.ClientMsgID == r.ClientMsgID {
					idx = i
					break
				}
				continue
			}
			if p.Text == r.Text {
				idx = i
				break
			}
		}
		if idx >= 0 {
			c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
		}
	}
}

func (c *Conn) dropPending(clientMsgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p.ClientMsgID == clientMsgID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}
