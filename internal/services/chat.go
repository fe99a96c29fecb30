package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pointid/mission-gateway/internal/graphql"
	"github.com/pointid/mission-gateway/internal/models"
	"go.uber.org/zap"
)

// Chat operation names
const (
	OpFetchRooms    = "fetchChatRooms"
	OpFetchMessages = "fetchRoomMessages"
	OpSendMessage   = "sendMessage"
	OpCreateRoom    = "createChatRoom"
	OpMarkRoomRead  = "markRoomAsRead"
	OpSetTyping     = "setTyping"
	OpSubscribe     = "chatSubscribe"
)

// DefaultTypingTTL is how long a typing indicator lives without a refresh.
const DefaultTypingTTL = 5 * time.Second

// ChatEventType tells listeners what changed
type ChatEventType string

const (
	ChatEventMessage ChatEventType = "message"
	ChatEventTyping  ChatEventType = "typing"
	ChatEventRoom    ChatEventType = "room"
	ChatEventRead    ChatEventType = "read"
)

// ChatEvent is pushed to listeners whenever the chat state changes.
type ChatEvent struct {
	Type    ChatEventType       `json:"type"`
	RoomID  string              `json:"roomId"`
	Message *models.Message     `json:"message,omitempty"`
	Typing  *models.TypingEvent `json:"typing,omitempty"`
	Room    *models.ChatRoom    `json:"room,omitempty"`
}

// ChatStore caches one user's chat rooms and messages and keeps them live
// through the messageAdded and typingIndicator subscriptions.
type ChatStore struct {
	exec      graphql.Executor
	identity  Identity
	notify    Notifier
	tracker   *Tracker
	logger    *zap.SugaredLogger
	typingTTL time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	rooms    map[string]models.ChatRoom
	messages map[string][]models.Message
	seen     map[string]struct{}
	typing   map[string]map[string]time.Time

	subMu   sync.Mutex
	subs    []*graphql.Subscription
	readers sync.WaitGroup

	lmu       sync.Mutex
	listeners map[int]chan ChatEvent
	nextID    int
}

// NewChatStore creates an empty chat store
func NewChatStore(exec graphql.Executor, identity Identity, notify Notifier, logger *zap.SugaredLogger) *ChatStore {
	return &ChatStore{
		exec:      exec,
		identity:  identity,
		notify:    notify,
		tracker:   NewTracker(),
		logger:    logger,
		typingTTL: DefaultTypingTTL,
		now:       time.Now,
		rooms:     make(map[string]models.ChatRoom),
		messages:  make(map[string][]models.Message),
		seen:      make(map[string]struct{}),
		typing:    make(map[string]map[string]time.Time),
		listeners: make(map[int]chan ChatEvent),
	}
}

func (c *ChatStore) Tracker() *Tracker { return c.tracker }

// Rooms returns the cached rooms, most recently active first
func (c *ChatStore) Rooms() []models.ChatRoom {
	c.mu.RLock()
	out := make([]models.ChatRoom, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Messages returns the cached messages of a room, oldest first
func (c *ChatStore) Messages(roomID string) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Message(nil), c.messages[roomID]...)
}

// UnreadTotal sums the unread counts of every room
func (c *ChatStore) UnreadTotal() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, r := range c.rooms {
		total += r.UnreadCount
	}
	return total
}

// TypingUsers returns who is typing in a room right now
func (c *ChatStore) TypingUsers(roomID string) []string {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	users := []string{}
	for user, until := range c.typing[roomID] {
		if now.Before(until) {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users
}

func (c *ChatStore) fail(op, id string, err error) error {
	c.tracker.Fail(op, id, err)
	c.notify.Failure(op, err)
	return err
}

// FetchRooms replaces the room cache. On failure the cache is kept.
func (c *ChatStore) FetchRooms(ctx context.Context) ([]models.ChatRoom, error) {
	c.tracker.Begin(OpFetchRooms, "")

	var out struct {
		Rooms []models.ChatRoom `json:"rooms"`
	}
	if err := c.exec.Do(ctx, graphql.Request{Query: queryChatRooms}, &out); err != nil {
		return c.Rooms(), c.fail(OpFetchRooms, "", err)
	}

	c.mu.Lock()
	c.rooms = make(map[string]models.ChatRoom, len(out.Rooms))
	for _, r := range out.Rooms {
		c.rooms[r.ID] = r
	}
	c.mu.Unlock()

	c.tracker.Succeed(OpFetchRooms, "")
	return c.Rooms(), nil
}

// FetchMessages replaces the message cache of a room
func (c *ChatStore) FetchMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	c.tracker.Begin(OpFetchMessages, roomID)

	var out struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.exec.Do(ctx, graphql.Request{
		Query:     queryRoomMessages,
		Variables: map[string]any{"roomId": roomID},
	}, &out)
	if err != nil {
		return c.Messages(roomID), c.fail(OpFetchMessages, roomID, err)
	}

	// Merge rather than replace: messages pushed while the query was in
	// flight are not in its result.
	c.mu.Lock()
	cached := c.messages[roomID]
	index := make(map[string]struct{}, len(out.Messages))
	list := make([]models.Message, 0, len(out.Messages)+len(cached))
	for _, m := range out.Messages {
		if _, dup := index[m.ID]; dup {
			continue
		}
		index[m.ID] = struct{}{}
		c.seen[m.ID] = struct{}{}
		list = append(list, m)
	}
	for _, m := range cached {
		if _, ok := index[m.ID]; !ok {
			list = append(list, m)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	c.messages[roomID] = list
	c.mu.Unlock()

	c.tracker.Succeed(OpFetchMessages, roomID)
	return c.Messages(roomID), nil
}

// SendMessage posts content to a room. The sent message is added to the
// cache at once; the copy echoed by the subscription is then ignored.
func (c *ChatStore) SendMessage(ctx context.Context, roomID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, c.fail(OpSendMessage, roomID, ErrEmptyMessage)
	}
	c.tracker.Begin(OpSendMessage, roomID)

	var out struct {
		Message *models.Message `json:"message"`
	}
	err := c.exec.Do(ctx, graphql.Request{
		Query:     mutationSendMessage,
		Variables: map[string]any{"input": map[string]any{"roomId": roomID, "content": content}},
	}, &out)
	if err != nil {
		return nil, c.fail(OpSendMessage, roomID, err)
	}

	c.tracker.Succeed(OpSendMessage, roomID)
	if out.Message != nil {
		c.addMessage(*out.Message)
	}
	return out.Message, nil
}

// CreateRoom opens a conversation with participantID. missionID is empty
// for a direct conversation.
func (c *ChatStore) CreateRoom(ctx context.Context, participantID, missionID string) (*models.ChatRoom, error) {
	c.tracker.Begin(OpCreateRoom, participantID)

	input := map[string]any{"participantIds": []string{participantID}}
	if missionID != "" {
		input["missionId"] = missionID
	}

	var out struct {
		Room *models.ChatRoom `json:"room"`
	}
	err := c.exec.Do(ctx, graphql.Request{
		Query:     mutationCreateChatRoom,
		Variables: map[string]any{"input": input},
	}, &out)
	if err != nil {
		return nil, c.fail(OpCreateRoom, participantID, err)
	}

	c.tracker.Succeed(OpCreateRoom, participantID)
	c.notify.Success(OpCreateRoom, "Conversation créée")

	if out.Room == nil {
		_, _ = c.FetchRooms(ctx)
		return nil, nil
	}

	room := *out.Room
	c.mu.Lock()
	c.rooms[room.ID] = room
	c.mu.Unlock()
	c.broadcast(ChatEvent{Type: ChatEventRoom, RoomID: room.ID, Room: &room})
	return &room, nil
}

// MarkRoomRead clears the unread count of a room
func (c *ChatStore) MarkRoomRead(ctx context.Context, roomID string) error {
	c.tracker.Begin(OpMarkRoomRead, roomID)

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.exec.Do(ctx, graphql.Request{
		Query:     mutationMarkRoomRead,
		Variables: map[string]any{"roomId": roomID},
	}, &out)
	if err != nil {
		return c.fail(OpMarkRoomRead, roomID, err)
	}

	c.mu.Lock()
	if r, ok := c.rooms[roomID]; ok {
		r.UnreadCount = 0
		c.rooms[roomID] = r
	}
	list := c.messages[roomID]
	for i := range list {
		if list[i].SenderID != c.identity.AccountID {
			list[i].Read = true
		}
	}
	c.mu.Unlock()

	c.tracker.Succeed(OpMarkRoomRead, roomID)
	c.broadcast(ChatEvent{Type: ChatEventRead, RoomID: roomID})
	return nil
}

// SetTyping publishes the caller's typing state. Failures are logged and
// returned but raise no toast.
func (c *ChatStore) SetTyping(ctx context.Context, roomID string, typing bool) error {
	var out struct {
		OK bool `json:"ok"`
	}
	err := c.exec.Do(ctx, graphql.Request{
		Query:     mutationSetTyping,
		Variables: map[string]any{"roomId": roomID, "isTyping": typing},
	}, &out)
	if err != nil {
		c.logger.Debugw("Typing update failed", "room", roomID, "error", err)
		return err
	}
	return nil
}

// Subscribed reports whether the live subscriptions are running
func (c *ChatStore) Subscribed() bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs) > 0
}

// Subscribe starts the message and typing subscriptions. It is a no-op when
// they are already running. ctx only bounds the connection attempt.
func (c *ChatStore) Subscribe(ctx context.Context) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(c.subs) > 0 {
		return nil
	}

	messages, err := c.exec.Subscribe(ctx, graphql.Request{Query: subscriptionMessageAdded, OperationName: "OnMessageAdded"})
	if err != nil {
		return c.fail(OpSubscribe, "", err)
	}
	typing, err := c.exec.Subscribe(ctx, graphql.Request{Query: subscriptionTyping, OperationName: "OnTyping"})
	if err != nil {
		_ = messages.Close()
		return c.fail(OpSubscribe, "", err)
	}

	c.subs = []*graphql.Subscription{messages, typing}
	c.readers.Add(2)
	go c.read(messages, c.onMessage)
	go c.read(typing, c.onTyping)

	c.logger.Debugw("Chat subscriptions started", "account", c.identity.AccountID)
	return nil
}

// Unsubscribe stops the live subscriptions and waits for their readers.
func (c *ChatStore) Unsubscribe() {
	c.subMu.Lock()
	subs := c.subs
	c.subs = nil
	c.subMu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	c.readers.Wait()
}

func (c *ChatStore) read(sub *graphql.Subscription, handle func(graphql.Result) error) {
	defer c.readers.Done()
	for res := range sub.Results() {
		if res.Err != nil {
			c.logger.Warnw("Chat subscription error", "subscription", sub.ID(), "error", res.Err)
			c.notify.Failure(OpSubscribe, res.Err)
			continue
		}
		if err := handle(res); err != nil {
			c.logger.Warnw("Dropping unreadable chat event", "subscription", sub.ID(), "error", err)
		}
	}
	c.forget(sub)
}

// forget drops an ended subscription along with its sibling so the next
// Subscribe starts both again.
func (c *ChatStore) forget(ended *graphql.Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	found := false
	for _, s := range c.subs {
		if s == ended {
			found = true
		}
	}
	if !found {
		return
	}
	for _, s := range c.subs {
		if s != ended {
			go s.Close()
		}
	}
	c.subs = nil
}

func (c *ChatStore) onMessage(res graphql.Result) error {
	var out struct {
		Message *models.Message `json:"message"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	if out.Message != nil {
		c.addMessage(*out.Message)
	}
	return nil
}

func (c *ChatStore) onTyping(res graphql.Result) error {
	var out struct {
		Typing *models.TypingEvent `json:"typing"`
	}
	if err := res.Decode(&out); err != nil {
		return err
	}
	if out.Typing == nil || out.Typing.UserID == c.identity.AccountID {
		return nil
	}

	ev := *out.Typing
	c.mu.Lock()
	users := c.typing[ev.RoomID]
	if users == nil {
		users = make(map[string]time.Time)
		c.typing[ev.RoomID] = users
	}
	if ev.Typing {
		users[ev.UserID] = c.now().Add(c.typingTTL)
	} else {
		delete(users, ev.UserID)
	}
	c.mu.Unlock()

	c.broadcast(ChatEvent{Type: ChatEventTyping, RoomID: ev.RoomID, Typing: &ev})
	return nil
}

// addMessage appends m once. Messages from others bump the room's unread
// count and end their sender's typing indicator.
func (c *ChatStore) addMessage(m models.Message) {
	c.mu.Lock()
	if _, dup := c.seen[m.ID]; dup {
		c.mu.Unlock()
		return
	}
	c.seen[m.ID] = struct{}{}
	c.messages[m.RoomID] = append(c.messages[m.RoomID], m)

	if r, ok := c.rooms[m.RoomID]; ok {
		msg := m
		r.LastMessage = &msg
		if m.CreatedAt.After(r.UpdatedAt) {
			r.UpdatedAt = m.CreatedAt
		}
		if m.SenderID != c.identity.AccountID && !m.Read {
			r.UnreadCount++
		}
		c.rooms[m.RoomID] = r
	}
	if users := c.typing[m.RoomID]; users != nil {
		delete(users, m.SenderID)
	}
	c.mu.Unlock()

	c.broadcast(ChatEvent{Type: ChatEventMessage, RoomID: m.RoomID, Message: &m})
}

// Listen registers a listener for chat events. Events are dropped for a
// listener whose buffer is full. The returned func unregisters it.
func (c *ChatStore) Listen(buffer int) (<-chan ChatEvent, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan ChatEvent, buffer)

	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = ch
	c.lmu.Unlock()

	return ch, func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		if _, ok := c.listeners[id]; ok {
			delete(c.listeners, id)
			close(ch)
		}
	}
}

// Listening reports whether a relay is attached to the store
func (c *ChatStore) Listening() bool {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	return len(c.listeners) > 0
}

func (c *ChatStore) broadcast(ev ChatEvent) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	for id, ch := range c.listeners {
		select {
		case ch <- ev:
		default:
			c.logger.Debugw("Chat listener lagging, event dropped", "listener", id, "type", ev.Type)
		}
	}
}

// Close stops the subscriptions and unregisters every listener.
func (c *ChatStore) Close() {
	c.Unsubscribe()
	c.lmu.Lock()
	for id, ch := range c.listeners {
		delete(c.listeners, id)
		close(ch)
	}
	c.lmu.Unlock()
}
