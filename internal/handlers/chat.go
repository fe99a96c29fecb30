package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxClientMessage = 4096
)

// ChatHandler exposes the chat store over REST and relays live chat events
// over a WebSocket.
type ChatHandler struct {
	stores   StoreProvider
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

// NewChatHandler creates a chat handler. checkOrigin may be nil to accept
// same-origin requests only.
func NewChatHandler(stores StoreProvider, checkOrigin func(r *http.Request) bool, logger *zap.SugaredLogger) *ChatHandler {
	return &ChatHandler{
		stores:   stores,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger,
	}
}

// Rooms handles GET /api/chat/rooms
func (h *ChatHandler) Rooms(w http.ResponseWriter, r *http.Request) {
	chat := storesFor(h.stores, r).Chat
	rooms, err := chat.FetchRooms(r.Context())
	if err != nil && len(rooms) == 0 {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rooms":       rooms,
		"unreadTotal": chat.UnreadTotal(),
		"stale":       err != nil,
	})
}

type createRoomRequest struct {
	ParticipantID string `json:"participantId"`
	MissionID     string `json:"missionId"`
}

// CreateRoom handles POST /api/chat/rooms
func (h *ChatHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil || req.ParticipantID == "" {
		respondError(w, http.StatusBadRequest, "Missing required field: participantId")
		return
	}

	room, err := storesFor(h.stores, r).Chat.CreateRoom(r.Context(), req.ParticipantID, req.MissionID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, room)
}

// Messages handles GET /api/chat/rooms/{id}/messages
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	chat := storesFor(h.stores, r).Chat
	msgs, err := chat.FetchMessages(r.Context(), roomID)
	if err != nil && len(msgs) == 0 {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"typing":   chat.TypingUsers(roomID),
		"stale":    err != nil,
	})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// Send handles POST /api/chat/rooms/{id}/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := storesFor(h.stores, r).Chat.SendMessage(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /api/chat/rooms/{id}/read
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := storesFor(h.stores, r).Chat.MarkRoomRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type typingRequest struct {
	Typing bool `json:"isTyping"`
}

// Typing handles POST /api/chat/rooms/{id}/typing
func (h *ChatHandler) Typing(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := storesFor(h.stores, r).Chat.SetTyping(r.Context(), chi.URLParam(r, "id"), req.Typing); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clientFrame is what the browser may send over the relay socket
type clientFrame struct {
	Type   string `json:"type"` // "typing" | "read"
	RoomID string `json:"roomId"`
	Typing bool   `json:"isTyping"`
}

// Relay handles GET /api/chat/ws
// Starts the chat subscriptions for the session and forwards every chat
// event to the browser as a JSON frame. The subscriptions keep running
// after the socket closes so the store stays live for REST reads; they
// end with the session.
func (h *ChatHandler) Relay(w http.ResponseWriter, r *http.Request) {
	st := storesFor(h.stores, r)
	if err := st.Chat.Subscribe(r.Context()); err != nil {
		respondStoreError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop := st.Chat.Listen(64)
	defer stop()

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Writer goroutine: events and heartbeat pings
	go func() {
		defer func() { _ = conn.Close() }()

		pingTicker := time.NewTicker(pingPeriod)
		defer pingTicker.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
					cancel()
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					h.logger.Errorw("Failed to encode chat event", "error", err)
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					cancel()
					return
				}

			case <-pingTicker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	h.logger.Debugw("Chat relay opened", "account", st.Identity.AccountID)

	// Reader loop: typing and read receipts from the browser
	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("Chat relay closed", "error", err)
			}
			break
		}
		switch frame.Type {
		case "typing":
			_ = st.Chat.SetTyping(ctx, frame.RoomID, frame.Typing)
		case "read":
			_ = st.Chat.MarkRoomRead(ctx, frame.RoomID)
		}
	}
	cancel()
	_ = conn.Close()
}
