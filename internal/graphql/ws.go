package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Subprotocol is the WebSocket subprotocol spoken by WSClient.
const Subprotocol = "graphql-transport-ws"

// graphql-transport-ws message types
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

const (
	writeWait  = 10 * time.Second
	ackTimeout = 10 * time.Second
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result is one event delivered on a subscription.
type Result struct {
	Data json.RawMessage
	Err  error
}

// Decode unmarshals the event's data into out.
func (r Result) Decode(out any) error {
	if r.Err != nil {
		return r.Err
	}
	return decodeData("subscription", r.Data, out)
}

// WSConfig configures a WSClient
type WSConfig struct {
	URL    string
	Tokens TokenSource
	// KeepAlive is the interval between client pings. Zero disables pings.
	KeepAlive time.Duration
	Dialer    *websocket.Dialer
	Logger    *zap.SugaredLogger
}

// WSClient runs subscriptions over one shared graphql-transport-ws
// connection. The connection is opened lazily by the first Subscribe and
// closed when the last subscription ends. A lost connection ends every
// subscription on it with a network error; the next Subscribe dials again.
type WSClient struct {
	url       string
	tokens    TokenSource
	keepAlive time.Duration
	dialer    *websocket.Dialer
	logger    *zap.SugaredLogger

	mu   sync.Mutex
	conn *wsConn
	subs map[string]*Subscription
}

// NewWSClient creates a subscription client
func NewWSClient(cfg WSConfig) *WSClient {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WSClient{
		url:       cfg.URL,
		tokens:    cfg.Tokens,
		keepAlive: cfg.KeepAlive,
		dialer:    dialer,
		logger:    logger,
		subs:      make(map[string]*Subscription),
	}
}

// Subscribe starts the subscription described by req.
func (c *WSClient) Subscribe(ctx context.Context, req Request) (*Subscription, error) {
	op := req.name()
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connectLocked(ctx)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	sub := newSubscription(ulid.Make().String(), c, conn)
	c.subs[sub.id] = sub

	if err := conn.write(wsMessage{ID: sub.id, Type: msgSubscribe, Payload: payload}); err != nil {
		delete(c.subs, sub.id)
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	c.logger.Debugw("Subscription started", "operation", op, "id", sub.id)
	return sub, nil
}

// Active returns the number of running subscriptions.
func (c *WSClient) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close ends every subscription and closes the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Finish(nil)
	}
	if conn != nil {
		conn.close()
	}
	return nil
}

// connectLocked returns the live connection, dialing one if needed.
// Must hold c.mu.
func (c *WSClient) connectLocked(ctx context.Context) (*wsConn, error) {
	if c.conn != nil {
		select {
		case <-c.conn.done:
			c.conn = nil
		default:
			return c.conn, nil
		}
	}

	initPayload := map[string]string{}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch token: %w", err)
		}
		if token != "" {
			initPayload["Authorization"] = "Bearer " + token
		}
	}

	dialer := *c.dialer
	dialer.Subprotocols = []string{Subprotocol}
	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	conn := &wsConn{ws: ws, done: make(chan struct{})}
	raw, _ := json.Marshal(initPayload)
	if err := conn.write(wsMessage{Type: msgConnectionInit, Payload: raw}); err != nil {
		conn.close()
		return nil, fmt.Errorf("connection_init: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(ackTimeout))
	var ack wsMessage
	if err := ws.ReadJSON(&ack); err != nil {
		conn.close()
		return nil, fmt.Errorf("await connection_ack: %w", err)
	}
	if ack.Type != msgConnectionAck {
		conn.close()
		return nil, fmt.Errorf("unexpected %q before connection_ack", ack.Type)
	}
	_ = ws.SetReadDeadline(time.Time{})

	c.conn = conn
	go c.readLoop(conn)
	if c.keepAlive > 0 {
		go c.pingLoop(conn)
	}

	c.logger.Infow("GraphQL websocket connected", "url", c.url)
	return conn, nil
}

func (c *WSClient) readLoop(conn *wsConn) {
	for {
		var msg wsMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			c.connectionLost(conn, err)
			return
		}

		switch msg.Type {
		case msgNext:
			var payload Response
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				c.logger.Warnw("Malformed subscription payload", "id", msg.ID, "error", err)
				continue
			}
			res := Result{Data: payload.Data}
			if len(payload.Errors) > 0 {
				res.Err = errorFromGraphQL("subscription", 0, payload.Errors)
			}
			if sub := c.lookup(msg.ID); sub != nil {
				sub.Deliver(res)
			}
		case msgError:
			var errs []GQLError
			_ = json.Unmarshal(msg.Payload, &errs)
			if sub := c.remove(msg.ID); sub != nil {
				sub.Finish(errorFromGraphQL("subscription", 0, errs))
			}
		case msgComplete:
			if sub := c.remove(msg.ID); sub != nil {
				sub.Finish(nil)
			}
		case msgPing:
			if err := conn.write(wsMessage{Type: msgPong}); err != nil {
				c.connectionLost(conn, err)
				return
			}
		case msgPong:
		default:
			c.logger.Warnw("Unexpected websocket message", "type", msg.Type)
		}
	}
}

func (c *WSClient) pingLoop(conn *wsConn) {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.write(wsMessage{Type: msgPing}); err != nil {
				conn.close()
				return
			}
		}
	}
}

// connectionLost ends every subscription that was running on conn.
func (c *WSClient) connectionLost(conn *wsConn, cause error) {
	conn.close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	var orphans []*Subscription
	for id, sub := range c.subs {
		if sub.conn == conn {
			orphans = append(orphans, sub)
			delete(c.subs, id)
		}
	}
	c.mu.Unlock()

	if len(orphans) > 0 {
		c.logger.Warnw("GraphQL websocket lost", "subscriptions", len(orphans), "error", cause)
	}
	for _, sub := range orphans {
		sub.Finish(&Error{Kind: KindNetwork, Op: "subscription", Err: cause})
	}
}

func (c *WSClient) lookup(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *WSClient) remove(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.subs[id]
	delete(c.subs, id)
	return sub
}

// unsubscribe sends "complete" for sub and closes the connection if sub was
// the last one on it.
func (c *WSClient) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	_, running := c.subs[sub.id]
	delete(c.subs, sub.id)
	last := running && len(c.subs) == 0 && c.conn == sub.conn
	if last {
		c.conn = nil
	}
	c.mu.Unlock()

	if running {
		_ = sub.conn.write(wsMessage{ID: sub.id, Type: msgComplete})
	}
	if last {
		sub.conn.close()
		c.logger.Debugw("GraphQL websocket idle, closed")
	}
}

type wsConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) write(msg wsMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

// Subscription is a running GraphQL subscription. Results is closed when the
// server completes it, the connection drops, or Close is called.
type Subscription struct {
	id     string
	client *WSClient
	conn   *wsConn

	results  chan Result
	done     chan struct{}
	doneOnce sync.Once

	mu     sync.Mutex
	closed bool
}

func newSubscription(id string, client *WSClient, conn *wsConn) *Subscription {
	return &Subscription{
		id:      id,
		client:  client,
		conn:    conn,
		results: make(chan Result, 16),
		done:    make(chan struct{}),
	}
}

// ID is the operation id sent to the server
func (s *Subscription) ID() string { return s.id }

// Results streams the subscription's events
func (s *Subscription) Results() <-chan Result { return s.results }

// Done is closed once the subscription has ended
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.doneOnce.Do(func() { close(s.done) })
	if s.client != nil {
		s.client.unsubscribe(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

// NewSubscription returns a subscription that is not tied to a connection.
// Its events are pushed with Deliver and it is ended with Finish.
func NewSubscription(id string) *Subscription {
	return newSubscription(id, nil, nil)
}

// Deliver pushes one event. It blocks while the buffer is full and drops
// the event once the subscription is closed.
func (s *Subscription) Deliver(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.results <- r:
	case <-s.done:
	}
}

// Finish delivers err, if any, and ends the subscription.
func (s *Subscription) Finish(err error) {
	s.mu.Lock()
	if !s.closed {
		if err != nil {
			select {
			case s.results <- Result{Err: err}:
			case <-s.done:
			}
		}
		s.closed = true
		close(s.results)
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// ErrSubscriptionClosed is returned by Next after the subscription ended.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Next waits for the next event.
func (s *Subscription) Next(ctx context.Context) (Result, error) {
	select {
	case r, ok := <-s.results:
		if !ok {
			return Result{}, ErrSubscriptionClosed
		}
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
