package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWSServer speaks just enough graphql-transport-ws for the client tests.
type fakeWSServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	inits    []map[string]string
	connects int

	subscribed chan wsMessage
	completed  chan string
	closed     chan struct{}
}

func newFakeWSServer(t *testing.T) *fakeWSServer {
	t.Helper()
	f := &fakeWSServer{
		subscribed: make(chan wsMessage, 8),
		completed:  make(chan string, 8),
		closed:     make(chan struct{}, 8),
	}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin:  func(r *http.Request) bool { return true },
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() {
			conn.Close()
			f.closed <- struct{}{}
		}()

		var init wsMessage
		if err := conn.ReadJSON(&init); err != nil || init.Type != msgConnectionInit {
			return
		}
		payload := map[string]string{}
		_ = json.Unmarshal(init.Payload, &payload)

		f.mu.Lock()
		f.conn = conn
		f.inits = append(f.inits, payload)
		f.connects++
		f.mu.Unlock()

		f.write(wsMessage{Type: msgConnectionAck})

		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case msgSubscribe:
				f.subscribed <- msg
			case msgComplete:
				f.completed <- msg.ID
			case msgPing:
				f.write(wsMessage{Type: msgPong})
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeWSServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeWSServer) write(msg wsMessage) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.WriteJSON(msg)
}

func (f *fakeWSServer) next(id string, data string) {
	f.write(wsMessage{ID: id, Type: msgNext, Payload: json.RawMessage(`{"data":` + data + `}`)})
}

func (f *fakeWSServer) dropConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Close()
}

func (f *fakeWSServer) stats() (int, []map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, append([]map[string]string(nil), f.inits...)
}

func awaitSubscribe(t *testing.T, f *fakeWSServer) wsMessage {
	t.Helper()
	select {
	case msg := <-f.subscribed:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("server never received subscribe")
	}
	return wsMessage{}
}

func nextResult(t *testing.T, sub *Subscription) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := sub.Next(ctx)
	require.NoError(t, err)
	return res
}

func counterTokens() TokenSource {
	var mu sync.Mutex
	n := 0
	return TokenFunc(func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("token-%d", n), nil
	})
}

func TestWSClient_LazyConnectAndDelivery(t *testing.T) {
	f := newFakeWSServer(t)
	c := NewWSClient(WSConfig{URL: f.url(), Tokens: counterTokens()})
	defer c.Close()

	connects, _ := f.stats()
	assert.Equal(t, 0, connects, "no connection before the first subscribe")

	sub, err := c.Subscribe(context.Background(), Request{
		Query:     `subscription OnMessage($roomId: ID!) { messageAdded(roomId: $roomId) { id content } }`,
		Variables: map[string]any{"roomId": "r1"},
	})
	require.NoError(t, err)

	msg := awaitSubscribe(t, f)
	assert.Equal(t, sub.ID(), msg.ID)

	var req Request
	require.NoError(t, json.Unmarshal(msg.Payload, &req))
	assert.Equal(t, "r1", req.Variables["roomId"])

	connects, inits := f.stats()
	assert.Equal(t, 1, connects)
	assert.Equal(t, "Bearer token-1", inits[0]["Authorization"])

	f.next(sub.ID(), `{"messageAdded":{"id":"msg-1","content":"Bonjour"}}`)

	var out struct {
		MessageAdded struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"messageAdded"`
	}
	require.NoError(t, nextResult(t, sub).Decode(&out))
	assert.Equal(t, "msg-1", out.MessageAdded.ID)
	assert.Equal(t, "Bonjour", out.MessageAdded.Content)
}

func TestWSClient_SharesConnectionAndClosesWhenIdle(t *testing.T) {
	f := newFakeWSServer(t)
	c := NewWSClient(WSConfig{URL: f.url(), Tokens: counterTokens()})
	defer c.Close()

	first, err := c.Subscribe(context.Background(), Request{Query: `subscription { messageAdded { id } }`})
	require.NoError(t, err)
	awaitSubscribe(t, f)
	second, err := c.Subscribe(context.Background(), Request{Query: `subscription { typingIndicator { roomId } }`})
	require.NoError(t, err)
	awaitSubscribe(t, f)

	connects, _ := f.stats()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 2, c.Active())

	require.NoError(t, first.Close())
	assert.Equal(t, first.ID(), <-f.completed)
	assert.Equal(t, 1, c.Active())

	require.NoError(t, second.Close())
	assert.Equal(t, second.ID(), <-f.completed)
	assert.Equal(t, 0, c.Active())

	select {
	case <-f.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("idle connection was not closed")
	}

	// the next subscribe reconnects with a freshly fetched token
	third, err := c.Subscribe(context.Background(), Request{Query: `subscription { messageAdded { id } }`})
	require.NoError(t, err)
	defer third.Close()
	awaitSubscribe(t, f)

	connects, inits := f.stats()
	assert.Equal(t, 2, connects)
	assert.Equal(t, "Bearer token-2", inits[1]["Authorization"])
}

func TestWSClient_ServerErrorEndsSubscription(t *testing.T) {
	f := newFakeWSServer(t)
	c := NewWSClient(WSConfig{URL: f.url()})
	defer c.Close()

	sub, err := c.Subscribe(context.Background(), Request{Query: `subscription { messageAdded { id } }`})
	require.NoError(t, err)
	awaitSubscribe(t, f)

	f.write(wsMessage{ID: sub.ID(), Type: msgError, Payload: json.RawMessage(`[{"message":"Not allowed","extensions":{"code":"FORBIDDEN"}}]`)})

	res := nextResult(t, sub)
	require.Error(t, res.Err)
	assert.Equal(t, KindForbidden, Classify(res.Err))

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.Equal(t, 0, c.Active())
}

func TestWSClient_ConnectionLossFailsSubscriptions(t *testing.T) {
	f := newFakeWSServer(t)
	c := NewWSClient(WSConfig{URL: f.url()})
	defer c.Close()

	sub, err := c.Subscribe(context.Background(), Request{Query: `subscription { messageAdded { id } }`})
	require.NoError(t, err)
	awaitSubscribe(t, f)

	f.dropConnection()

	res := nextResult(t, sub)
	assert.Equal(t, KindNetwork, Classify(res.Err))

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not finished after connection loss")
	}
}

func TestWSClient_KeepAlivePings(t *testing.T) {
	f := newFakeWSServer(t)
	c := NewWSClient(WSConfig{URL: f.url(), KeepAlive: 20 * time.Millisecond})
	defer c.Close()

	sub, err := c.Subscribe(context.Background(), Request{Query: `subscription { messageAdded { id } }`})
	require.NoError(t, err)
	defer sub.Close()
	awaitSubscribe(t, f)

	// pongs from the server must not surface as results
	time.Sleep(100 * time.Millisecond)
	select {
	case res := <-sub.Results():
		t.Fatalf("unexpected result %+v", res)
	default:
	}
}

func TestWSClient_DialFailure(t *testing.T) {
	c := NewWSClient(WSConfig{URL: "ws://127.0.0.1:1/graphql/ws"})
	_, err := c.Subscribe(context.Background(), Request{Query: `subscription { messageAdded { id } }`})
	assert.Equal(t, KindNetwork, Classify(err))
}
