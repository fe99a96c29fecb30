package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pointid/mission-gateway/internal/graphql"
	"github.com/pointid/mission-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatStore(t *testing.T, accountID string) (*ChatStore, *fakeExecutor, *ToastQueue) {
	t.Helper()
	exec := newFakeExecutor()
	toasts := NewToastQueue(10, testLogger())
	store := NewChatStore(exec, Identity{AccountID: accountID, Role: models.RoleAssureur}, toasts, testLogger())
	t.Cleanup(store.Close)
	return store, exec, toasts
}

func push(t *testing.T, sub *graphql.Subscription, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	sub.Deliver(graphql.Result{Data: raw})
}

func room(id string, unread int) models.ChatRoom {
	return models.ChatRoom{
		ID:           id,
		Participants: []string{"alice", "bob"},
		UnreadCount:  unread,
		UpdatedAt:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestChat_PushedMessageAppearsWithoutRefetch(t *testing.T) {
	store, exec, _ := newTestChatStore(t, "bob")
	exec.reply("ChatRooms", map[string]any{"rooms": []models.ChatRoom{room("r1", 0)}})

	_, err := store.FetchRooms(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Subscribe(context.Background()))
	assert.True(t, store.Subscribed())

	events, stop := store.Listen(8)
	defer stop()

	sub := exec.subscription("OnMessageAdded")
	require.NotNil(t, sub)
	msg := models.Message{ID: "msg-1", RoomID: "r1", SenderID: "alice", Content: "Bonjour", CreatedAt: time.Now()}
	push(t, sub, map[string]any{"message": msg})

	select {
	case ev := <-events:
		assert.Equal(t, ChatEventMessage, ev.Type)
		assert.Equal(t, "msg-1", ev.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no chat event")
	}

	msgs := store.Messages("r1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "Bonjour", msgs[0].Content)
	assert.Equal(t, 1, store.Rooms()[0].UnreadCount)
	assert.Equal(t, 1, store.UnreadTotal())
	assert.Zero(t, exec.count("RoomMessages"))

	// a duplicate push is ignored
	push(t, sub, map[string]any{"message": msg})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, store.Messages("r1"), 1)
	assert.Equal(t, 1, store.UnreadTotal())
}

func TestChat_SendMessageIsNotDuplicatedByEcho(t *testing.T) {
	store, exec, _ := newTestChatStore(t, "bob")
	exec.reply("ChatRooms", map[string]any{"rooms": []models.ChatRoom{room("r1", 0)}})
	sent := models.Message{ID: "msg-2", RoomID: "r1", SenderID: "bob", Content: "Salut", CreatedAt: time.Now()}
	exec.reply("SendMessage", map[string]any{"message": sent})

	_, err := store.FetchRooms(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Subscribe(context.Background()))

	got, err := store.SendMessage(context.Background(), "r1", "  Salut ")
	require.NoError(t, err)
	assert.Equal(t, "msg-2", got.ID)
	in := exec.last("SendMessage").Variables["input"].(map[string]any)
	assert.Equal(t, "Salut", in["content"])

	push(t, exec.subscription("OnMessageAdded"), map[string]any{"message": sent})
	time.Sleep(20 * time.Millisecond)

	assert.Len(t, store.Messages("r1"), 1)
	// own messages never count as unread
	assert.Zero(t, store.UnreadTotal())
}

func TestChat_SendEmptyMessage(t *testing.T) {
	store, exec, toasts := newTestChatStore(t, "bob")

	_, err := store.SendMessage(context.Background(), "r1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, exec.count("SendMessage"))
	assert.Equal(t, 1, toasts.Len())
}

func TestChat_TypingIndicatorExpires(t *testing.T) {
	store, exec, _ := newTestChatStore(t, "bob")
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Subscribe(context.Background()))
	events, stop := store.Listen(8)
	defer stop()

	push(t, exec.subscription("OnTyping"), map[string]any{"typing": models.TypingEvent{RoomID: "r1", UserID: "alice", Typing: true}})
	select {
	case ev := <-events:
		assert.Equal(t, ChatEventTyping, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no typing event")
	}
	assert.Equal(t, []string{"alice"}, store.TypingUsers("r1"))

	now = now.Add(DefaultTypingTTL + time.Second)
	assert.Empty(t, store.TypingUsers("r1"))
}

func TestChat_OwnTypingIgnored(t *testing.T) {
	store, exec, _ := newTestChatStore(t, "bob")
	require.NoError(t, store.Subscribe(context.Background()))
	events, stop := store.Listen(8)
	defer stop()

	push(t, exec.subscription("OnTyping"), map[string]any{"typing": models.TypingEvent{RoomID: "r1", UserID: "bob", Typing: true}})
	push(t, exec.subscription("OnTyping"), map[string]any{"typing": models.TypingEvent{RoomID: "r1", UserID: "carol", Typing: true}})

	select {
	case ev := <-events:
		assert.Equal(t, "carol", ev.Typing.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("no typing event")
	}
	assert.Equal(t, []string{"carol"}, store.TypingUsers("r1"))
}

func TestChat_MarkRoomRead(t *testing.T) {
	store, exec, _ := newTestChatStore(t, "bob")
	exec.reply("ChatRooms", map[string]any{"rooms": []models.ChatRoom{room("r1", 3), room("r2", 1)}})
	exec.reply("MarkRoomAsRead", map[string]any{"ok": true})

	_, err := store.FetchRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, store.UnreadTotal())

	require.NoError(t, store.MarkRoomRead(context.Background(), "r1"))
	assert.Equal(t, 1, store.UnreadTotal())
	assert.Equal(t, "r1", exec.last("MarkRoomAsRead").Variables["roomId"])
}

func TestChat_CreateRoom(t *testing.T) {
	store, exec, toasts := newTestChatStore(t, "bob")
	exec.on("CreateChatRoom", func(vars map[string]any) (any, error) {
		in := vars["input"].(map[string]any)
		r := room("r9", 0)
		r.MissionID, _ = in["missionId"].(string)
		return map[string]any{"room": r}, nil
	})

	r, err := store.CreateRoom(context.Background(), "alice", "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", r.MissionID)
	assert.Len(t, store.Rooms(), 1)
	assert.Equal(t, 1, toasts.Len())

	in := exec.last("CreateChatRoom").Variables["input"].(map[string]any)
	assert.Equal(t, []string{"alice"}, in["participantIds"])
}

func TestChat_FetchMessagesKeepsCacheOnError(t *testing.T) {
	store, exec, _ := newTestChatStore(t, "bob")
	exec.reply("RoomMessages", map[string]any{"messages": []models.Message{
		{ID: "a", RoomID: "r1", SenderID: "alice", Content: "1"},
		{ID: "b", RoomID: "r1", SenderID: "bob", Content: "2"},
	}})

	msgs, err := store.FetchMessages(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	exec.fail("RoomMessages", &graphql.Error{Kind: graphql.KindNetwork, Op: "RoomMessages"})
	msgs, err = store.FetchMessages(context.Background(), "r1")
	require.Error(t, err)
	assert.Len(t, msgs, 2)
}

func TestChat_FetchMessagesKeepsMessagesPushedMeanwhile(t *testing.T) {
	store, exec, _ := newTestChatStore(t, "bob")
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	early := models.Message{ID: "a", RoomID: "r1", SenderID: "alice", Content: "1", CreatedAt: t0}
	late := models.Message{ID: "c", RoomID: "r1", SenderID: "alice", Content: "3", CreatedAt: t0.Add(2 * time.Minute)}

	exec.on("RoomMessages", func(map[string]any) (any, error) {
		// arrives over the subscription after the server built its answer
		store.addMessage(late)
		return map[string]any{"messages": []models.Message{
			early,
			{ID: "b", RoomID: "r1", SenderID: "bob", Content: "2", CreatedAt: t0.Add(time.Minute)},
		}}, nil
	})

	msgs, err := store.FetchMessages(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	// fetched and pushed ids stay known, so echoes are dropped
	store.addMessage(early)
	store.addMessage(late)
	assert.Len(t, store.Messages("r1"), 3)

	exec.reply("RoomMessages", map[string]any{"messages": []models.Message{early}})
	msgs, err = store.FetchMessages(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestChat_UnsubscribeAndResubscribe(t *testing.T) {
	store, exec, _ := newTestChatStore(t, "bob")

	require.NoError(t, store.Subscribe(context.Background()))
	require.NoError(t, store.Subscribe(context.Background()))
	assert.Equal(t, 1, exec.count("OnMessageAdded"))

	store.Unsubscribe()
	assert.False(t, store.Subscribed())

	require.NoError(t, store.Subscribe(context.Background()))
	assert.Equal(t, 2, exec.count("OnMessageAdded"))
}

func TestChat_EndedSubscriptionIsForgotten(t *testing.T) {
	store, exec, toasts := newTestChatStore(t, "bob")
	require.NoError(t, store.Subscribe(context.Background()))

	exec.subscription("OnMessageAdded").Finish(&graphql.Error{Kind: graphql.KindNetwork, Op: "subscription"})

	require.Eventually(t, func() bool { return !store.Subscribed() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, toasts.Len())
}
