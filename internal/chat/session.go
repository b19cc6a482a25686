package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mentorchat/internal/auth"
)

// ErrNotAuthorized covers every reason a pair may not chat. Callers must not
// tell the client which one applied.
var ErrNotAuthorized = errors.New("conversation not authorized")

// State is a relay session's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthorizing
	StateBacklogDelivery
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateBacklogDelivery:
		return "backlog_delivery"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options tunes live sockets.
type Options struct {
	// EchoToSender delivers each broadcast back to the socket that sent it.
	EchoToSender   bool
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	QueryTimeout   time.Duration
}

func (o Options) PingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 5 * time.Second
	}
	return o
}

// Handshake carries the parameters of a live-connection request.
type Handshake struct {
	Token         string
	PeerID        string
	LastMessageID string
	FrameFormat   string
}

// HandshakeFromRequest reads handshake parameters from the upgrade request.
// The token may come from the query or an Authorization: Bearer header.
func HandshakeFromRequest(r *http.Request) Handshake {
	q := r.URL.Query()
	hs := Handshake{
		Token:         q.Get("authToken"),
		PeerID:        q.Get("peerIdentity"),
		LastMessageID: q.Get("lastMessageId"),
		FrameFormat:   q.Get("frameFormat"),
	}
	if hs.Token == "" {
		if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			hs.Token = parts[1]
		}
	}
	return hs
}

// Relay owns the shared collaborators of all sessions.
type Relay struct {
	store     MessageStore
	directory Directory
	registry  *Registry
	auth      auth.Authenticator
	log       *zap.Logger
	metrics   *relayMetrics
	opts      Options
	// serializes append+broadcast so listeners see ids in store order
	convLocks *conversationLocks

	done     chan struct{}
	stopOnce sync.Once
}

func NewRelay(store MessageStore, directory Directory, registry *Registry, authn auth.Authenticator, logger *zap.Logger, reg prometheus.Registerer, opts Options) *Relay {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		store:     store,
		directory: directory,
		registry:  registry,
		auth:      authn,
		log:       logger,
		metrics:   newRelayMetrics(reg),
		opts:      opts.withDefaults(),
		convLocks: newConversationLocks(),
		done:      make(chan struct{}),
	}
}

func (rl *Relay) Registry() *Registry { return rl.registry }

// Shutdown closes every live session. Sessions started afterwards close
// immediately.
func (rl *Relay) Shutdown() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Authorize gates a (caller, peer) pair and resolves its conversation.
func (rl *Relay) Authorize(ctx context.Context, caller, peer string) (int64, error) {
	if err := ValidateIdentity(caller); err != nil {
		return 0, err
	}
	if err := ValidateIdentity(peer); err != nil {
		return 0, err
	}
	if caller == peer {
		return 0, ErrNotAuthorized
	}

	ctx, cancel := context.WithTimeout(ctx, rl.opts.QueryTimeout)
	defer cancel()

	ok, err := rl.directory.IsAuthorized(ctx, caller, peer)
	if err != nil {
		return 0, fmt.Errorf("check authorization: %w", err)
	}
	if !ok {
		return 0, ErrNotAuthorized
	}
	id, err := rl.directory.Resolve(ctx, caller, peer)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return 0, ErrNotAuthorized
		}
		return 0, fmt.Errorf("resolve conversation: %w", err)
	}
	return id, nil
}

// History returns the conversation log, either in full (after == nil) or
// only the messages newer than *after.
func (rl *Relay) History(ctx context.Context, conversationID int64, after *int64) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, rl.opts.QueryTimeout)
	defer cancel()
	if after != nil {
		return rl.store.ListSince(ctx, conversationID, *after)
	}
	return rl.store.ListAll(ctx, conversationID)
}

// Serve runs one session on an upgraded connection and returns once the
// session is closed.
func (rl *Relay) Serve(ctx context.Context, conn *websocket.Conn, hs Handshake) {
	id := uuid.NewString()
	s := &Session{
		relay:  rl,
		hs:     hs,
		client: newClient(id, conn, rl.opts, rl.log.With(zap.String("session_id", id))),
		log:    rl.log.With(zap.String("session_id", id)),
		state:  StateConnecting,
	}
	s.run(ctx)
}

// Session is the per-socket state machine:
// Connecting -> Authorizing -> BacklogDelivery -> Live -> Closed.
type Session struct {
	relay  *Relay
	client *Client
	hs     Handshake
	log    *zap.Logger

	state          State
	caller         string
	peer           string
	format         FrameFormat
	conversationID int64
	registered     bool
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	s.relay.metrics.transitions.WithLabelValues(from.String(), to.String()).Inc()
	s.log.Debug("session transition", zap.Stringer("from", from), zap.Stringer("to", to))
}

// reject closes a session that never reached Live. The client learns nothing
// about the reason.
func (s *Session) reject(reason string, fields ...zap.Field) {
	s.relay.metrics.rejected.WithLabelValues(reason).Inc()
	s.log.Info("session rejected", append(fields, zap.String("reason", reason))...)
}

func (s *Session) run(ctx context.Context) {
	closeCode := websocket.ClosePolicyViolation
	defer func() { s.close(closeCode) }()

	select {
	case <-s.relay.done:
		s.reject("shutting_down")
		return
	default:
	}

	if !s.connect(ctx) {
		return
	}
	s.transition(StateAuthorizing)
	if !s.authorize(ctx) {
		return
	}
	s.transition(StateBacklogDelivery)
	if !s.deliverBacklog(ctx) {
		closeCode = websocket.CloseInternalServerErr
		return
	}
	s.transition(StateLive)
	closeCode = s.live(ctx)
}

// connect validates the handshake and verifies the caller's credential.
func (s *Session) connect(ctx context.Context) bool {
	if s.hs.Token == "" || s.hs.PeerID == "" {
		s.reject("missing_parameters")
		return false
	}
	format, err := ParseFrameFormat(s.hs.FrameFormat)
	if err != nil {
		s.reject("bad_frame_format", zap.Error(err))
		return false
	}
	s.format = format

	principal, err := s.relay.auth.Authenticate(ctx, s.hs.Token)
	if err != nil {
		s.reject("bad_credential", zap.Error(err))
		return false
	}
	s.caller = principal.Identity
	s.peer = s.hs.PeerID
	s.log = s.log.With(zap.String("caller", s.caller), zap.String("peer", s.peer))
	return true
}

func (s *Session) authorize(ctx context.Context) bool {
	id, err := s.relay.Authorize(ctx, s.caller, s.peer)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotAuthorized):
		s.reject("not_authorized")
		return false
	case errors.Is(err, ErrInvalidIdentity):
		s.reject("invalid_identity", zap.Error(err))
		return false
	default:
		s.relay.metrics.rejected.WithLabelValues("directory_error").Inc()
		s.log.Error("authorization lookup failed", zap.Error(err))
		return false
	}
	s.conversationID = id
	s.log = s.log.With(zap.Int64("conversation_id", id))
	return true
}

// deliverBacklog registers the socket, then sends the stored history as one
// batch. Registering first means nothing appended during the query is missed:
// live frames queue in the send buffer until writePump starts after the batch.
func (s *Session) deliverBacklog(ctx context.Context) bool {
	if err := s.relay.registry.Register(s.conversationID, s.client); err != nil {
		s.log.Error("register socket", zap.Error(err))
		return false
	}
	s.registered = true
	s.relay.metrics.activeSockets.Inc()

	var after *int64
	if s.hs.LastMessageID != "" {
		cursor, err := ParseCursor(s.hs.LastMessageID)
		if err != nil {
			s.log.Warn("malformed lastMessageId, sending full history", zap.String("last_message_id", s.hs.LastMessageID))
		} else {
			after = &cursor
		}
	}

	msgs, err := s.relay.History(ctx, s.conversationID, after)
	if err != nil {
		s.log.Error("backlog fetch failed", zap.Error(err))
		return false
	}
	payload, err := EncodeBatch(msgs)
	if err != nil {
		s.log.Error("encode backlog", zap.Error(err))
		return false
	}
	if err := s.client.writeFrame(payload); err != nil {
		s.log.Info("backlog write aborted", zap.Error(err))
		return false
	}
	s.relay.metrics.backlogSize.Observe(float64(len(msgs)))
	s.log.Info("session live", zap.Int("backlog", len(msgs)), zap.Bool("incremental", after != nil))
	return true
}

// live pumps frames until the socket closes and returns the close code to send.
func (s *Session) live(ctx context.Context) int {
	go s.client.writePump()
	go func() {
		select {
		case <-s.relay.done:
			s.client.shutdown(websocket.CloseGoingAway)
		case <-s.client.done:
		}
	}()

	err := s.client.readPump(func(data []byte) { s.ingest(ctx, data) })
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.log.Info("socket closed unexpectedly", zap.Error(err))
	}
	return websocket.CloseNormalClosure
}

// ingest persists one inbound frame and fans it out. Append and Broadcast run
// under the conversation lock, so broadcast order matches id order. A storage
// failure drops this message only; the session keeps running.
func (s *Session) ingest(ctx context.Context, data []byte) {
	frame, err := DecodeFrame(s.format, data)
	if err != nil {
		s.relay.metrics.droppedFrames.WithLabelValues("invalid").Inc()
		s.log.Warn("dropping inbound frame", zap.Error(err))
		return
	}

	unlock := s.relay.convLocks.lock(s.conversationID)
	defer unlock()

	appendCtx, cancel := context.WithTimeout(ctx, s.relay.opts.QueryTimeout)
	m, err := s.relay.store.Append(appendCtx, s.conversationID, s.caller, frame.Text, frame.ClientMsgID)
	cancel()
	if err != nil {
		s.relay.metrics.appendFailures.Inc()
		s.log.Error("append failed, message not broadcast", zap.Error(err))
		return
	}
	s.relay.metrics.appended.Inc()

	payload, err := EncodeBatch([]Message{m})
	if err != nil {
		s.log.Error("encode message", zap.Int64("message_id", m.ID), zap.Error(err))
		return
	}
	exclude := s.client.ID()
	if s.relay.opts.EchoToSender {
		exclude = ""
	}
	n := s.relay.registry.Broadcast(s.conversationID, payload, exclude)
	s.relay.metrics.deliveries.Add(float64(n))
}

func (s *Session) close(code int) {
	if s.registered {
		if s.relay.registry.Unregister(s.conversationID, s.client) {
			s.relay.metrics.activeSockets.Dec()
		}
		s.registered = false
	}
	s.client.shutdown(code)
	s.transition(StateClosed)
}
