package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	myMiddleware "mentorchat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mobile clients send no Origin header; browsers are not a supported client.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	relay *Relay
	log   *zap.Logger
}

func NewHandler(relay *Relay, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{relay: relay, log: logger}
}

// ServeWs upgrades the request and runs a relay session on it. Handshake
// problems are reported by closing the socket, never as an HTTP error.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	hs := HandshakeFromRequest(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.relay.Serve(r.Context(), conn, hs)
}

// GetHistory returns the full conversation log with the peer in the path.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	h.history(w, r, nil)
}

// GetNewHistory returns messages newer than the afterId query parameter.
func (h *Handler) GetNewHistory(w http.ResponseWriter, r *http.Request) {
	after, err := ParseCursor(r.URL.Query().Get("afterId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid afterId")
		return
	}
	h.history(w, r, &after)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, after *int64) {
	caller, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	peer := chi.URLParam(r, "peerId")

	conversationID, err := h.relay.Authorize(r.Context(), caller, peer)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, "invalid peerId")
		return
	case errors.Is(err, ErrNotAuthorized):
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	default:
		h.log.Error("history authorization failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "an error occurred while fetching chat messages")
		return
	}

	msgs, err := h.relay.History(r.Context(), conversationID, after)
	if err != nil {
		h.log.Error("history fetch failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "an error occurred while fetching chat messages")
		return
	}
	payload, err := EncodeBatch(msgs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "an error occurred while fetching chat messages")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Mount wires the relay routes onto r. requireAuth guards the REST history
// routes; the websocket routes authenticate inside the handshake.
func (h *Handler) Mount(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Get("/ws", h.ServeWs)
	r.Get("/chat", h.ServeWs)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/history/{peerId}", h.GetHistory)
		r.Get("/history/{peerId}/new", h.GetNewHistory)
	})
}
