package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is a middleman between one websocket connection and the Registry.
type Client struct {
	id   string
	conn *websocket.Conn
	// Buffered channel of outbound frames, drained by writePump.
	send      chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	opts      Options
	log       *zap.Logger
}

func newClient(id string, conn *websocket.Conn, opts Options, logger *zap.Logger) *Client {
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
		opts: opts,
		log:  logger,
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Open() bool { return !c.closed.Load() }

// Deliver queues payload for writePump. A full buffer means the peer is not
// keeping up: the frame is dropped and the socket is closed.
func (c *Client) Deliver(payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send buffer full, closing slow socket", zap.Int("buffer", cap(c.send)))
		c.closed.Store(true)
		// Deliver runs under the registry lock; the close handshake may block.
		go c.shutdown(websocket.CloseTryAgainLater)
		return false
	}
}

// writeFrame writes one text frame synchronously. Only used before writePump
// starts, while the session goroutine is the sole writer.
func (c *Client) writeFrame(payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// shutdown sends a close frame with code and tears the connection down.
// Safe to call from any goroutine, any number of times.
func (c *Client) shutdown(code int) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		msg := websocket.FormatCloseMessage(code, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
		_ = c.conn.Close()
	})
}

// readPump reads frames until the connection fails or closes, handing each
// data frame to handle.
func (c *Client) readPump(handle func(data []byte)) error {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(message)
	}
}

// writePump pumps queued frames to the websocket connection and keeps it
// alive with pings. One frame per payload; frames are never coalesced.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod())
	defer func() {
		ticker.Stop()
		c.shutdown(websocket.CloseGoingAway)
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
