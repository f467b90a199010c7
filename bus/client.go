// Package bus implements the two-way message bus client: publish and
// subscribe over a single WebSocket connection, with per-action
// acknowledgements correlated by request id and automatic
// reconnect-with-resubscribe.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bosbase/go-sdk/internal/backoff"
	"github.com/bosbase/go-sdk/subscriptions"
	"github.com/bosbase/go-sdk/transport"
)

const busPath = "/api/bus"

// Keepalive parameters, same roles as in any long-lived socket
// session: the write deadline bounds a single frame write, pings keep
// the read side from timing out.
const (
	writeWait  = 5 * time.Second
	pongWait   = 25 * time.Second
	pingPeriod = 10 * time.Second // must be < pongWait
)

const defaultAckTimeout = 10 * time.Second

// foreground actions give up after this many dial attempts; the
// background reconnect loop retries indefinitely.
const foregroundDialAttempts = 5

var (
	// ErrEmptyTopic is returned when an action names no topic.
	ErrEmptyTopic = errors.New("bus: topic must not be empty")
	// ErrNotConnected is returned when a write is attempted with no
	// live socket.
	ErrNotConnected = errors.New("bus: not connected")
	// ErrAckTimeout is returned when no acknowledgement with a
	// matching request id arrives within the ack window.
	ErrAckTimeout = errors.New("bus: acknowledgement timeout")
)

// ServerError is a rejected action: the server answered the request id
// with an error envelope (for example a publish without credential, or
// a subscription limit hit).
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "bus: server rejected action"
	}
	return "bus: server rejected action: " + e.Message
}

// Listener receives every message delivered to its topic. Listeners
// run on the socket read loop: they must not block, and must not call
// Publish or otherwise wait for an acknowledgement from inside the
// callback, since the reply could only be read by the loop the
// callback is holding up.
type Listener func(msg Message)

// UnsubscribeFunc removes the registration that produced it.
type UnsubscribeFunc func()

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client is the message bus client. Construct with NewClient. One live
// socket per client; it is opened by the first subscribe or publish
// and closed once the last subscriber is gone.
type Client struct {
	api *transport.Client
	log *zap.Logger

	// OnDisconnect, when set, is invoked with the still-active
	// subscription keys whenever the socket drops unexpectedly. It is
	// not invoked for explicit Disconnect calls or for the idle close
	// after the last listener is removed.
	OnDisconnect func(activeKeys []string)

	registry   *subscriptions.Registry[Message]
	correlator *correlator

	// ack deadline and reconnect delays; replaced only by tests
	ackTimeout time.Duration
	delays     []time.Duration

	// connMu serializes connect attempts; mu guards conn and stop.
	connMu  sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	stop    chan struct{}
	writeMu sync.Mutex
}

func NewClient(api *transport.Client, opts ...Option) *Client {
	c := &Client{
		api:        api,
		log:        zap.NewNop(),
		registry:   subscriptions.NewRegistry[Message](),
		correlator: newCorrelator(),
		ackTimeout: defaultAckTimeout,
		delays:     backoff.DefaultSchedule,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers listener for topic, connecting first if needed.
// The subscribe action is acknowledged best-effort: a missing ack is
// not an error, a server rejection is.
func (c *Client) Subscribe(topic string, listener Listener) (UnsubscribeFunc, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	remove := c.registry.Register(topic, subscriptions.Listener[Message](listener))

	created, err := c.ensureConnected(context.Background())
	if err != nil {
		remove()
		c.closeIfIdle()
		return nil, err
	}
	if !created {
		// A fresh connection already replayed the active keys,
		// including this one.
		if _, err := c.sendAction(context.Background(), Envelope{Type: TypeSubscribe, Topic: topic}, false); err != nil {
			remove()
			c.closeIfIdle()
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			remove()
			c.afterTopicRemoval(topic)
		})
	}, nil
}

// Unsubscribe removes every listener for the given topics. With no
// arguments it clears everything, both locally and server-side.
func (c *Client) Unsubscribe(topics ...string) {
	if len(topics) == 0 {
		if c.IsConnected() {
			_, _ = c.sendAction(context.Background(), Envelope{Type: TypeUnsubscribe}, false)
		}
		c.registry.Clear()
		c.teardown()
		return
	}

	for _, topic := range topics {
		c.registry.RemoveByTopic(topic)
		if c.IsConnected() {
			_, _ = c.sendAction(context.Background(), Envelope{Type: TypeUnsubscribe, Topic: topic}, false)
		}
	}
	c.closeIfIdle()
}

// Publish sends data to topic and blocks until the server acknowledges
// it or the ack window elapses. It fails with *ServerError when the
// server rejects the action (e.g. publish without credential) and with
// ErrAckTimeout when no matching acknowledgement arrives in time.
func (c *Client) Publish(ctx context.Context, topic string, data any) (PublishResult, error) {
	if topic == "" {
		return PublishResult{}, ErrEmptyTopic
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return PublishResult{}, fmt.Errorf("bus: encode publish data: %w", err)
	}

	if _, err := c.ensureConnected(ctx); err != nil {
		return PublishResult{}, err
	}

	ack, err := c.sendAction(ctx, Envelope{Type: TypePublish, Topic: topic, Data: raw}, true)
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{ID: ack.ID, Topic: ack.Topic, Created: ack.Created}, nil
}

// IsConnected reports whether a live socket is held.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Disconnect closes the socket without firing the disconnect hook. The
// registry is left intact so a later action reconnects with the same
// state.
func (c *Client) Disconnect() {
	c.teardown()
}

// sendAction assigns a fresh request id, transmits the envelope, and
// waits for the matching acknowledgement. The deadline is measured by
// clock time, so unrelated inbound traffic can never starve the wait.
// When required is false a missing ack yields an empty envelope
// instead of ErrAckTimeout; a server error envelope always surfaces.
func (c *Client) sendAction(ctx context.Context, env Envelope, required bool) (Envelope, error) {
	env.RequestID = newRequestID()
	ackCh := c.correlator.add(env.RequestID)

	if err := c.writeEnvelope(env); err != nil {
		c.correlator.drop(env.RequestID)
		return Envelope{}, err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case ack := <-ackCh:
		if ack.Type == TypeError {
			return Envelope{}, &ServerError{Message: ack.Message}
		}
		return ack, nil
	case <-timer.C:
		c.correlator.drop(env.RequestID)
		if required {
			return Envelope{}, ErrAckTimeout
		}
		return Envelope{}, nil
	case <-ctx.Done():
		c.correlator.drop(env.RequestID)
		return Envelope{}, ctx.Err()
	}
}

func (c *Client) writeEnvelope(env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// ensureConnected dials the socket when none is live, with a bounded
// number of attempts so interactive calls fail fast. It reports
// whether this call created the connection.
func (c *Client) ensureConnected(ctx context.Context) (created bool, err error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.IsConnected() {
		return false, nil
	}

	sched := backoff.Schedule{Delays: c.delays}
	var lastErr error
	for attempt := 0; attempt < foregroundDialAttempts; attempt++ {
		if attempt > 0 {
			backoff.Sleep(ctx, sched.Next())
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err := c.connectOnce(ctx); err != nil {
			lastErr = err
			continue
		}
		return true, nil
	}
	return false, fmt.Errorf("bus: connect failed after %d attempts: %w", foregroundDialAttempts, lastErr)
}

// connectOnce dials, installs the connection, replays the active
// subscription keys, and starts the session goroutines. Callers hold
// connMu.
func (c *Client) connectOnce(ctx context.Context) error {
	header := http.Header{}
	if c.api.Auth != nil && c.api.Auth.Valid() {
		header.Set("Authorization", "Bearer "+c.api.Auth.Token())
	}

	conn, err := dialWS(ctx, wsURL(c.api.BaseURL, busPath), header)
	if err != nil {
		return err
	}
	conn.SetReadLimit(4 << 20)

	c.mu.Lock()
	c.conn = conn
	if c.stop == nil {
		c.stop = make(chan struct{})
	}
	stop := c.stop
	c.mu.Unlock()

	c.resubscribe(conn)

	go c.readSession(conn)
	go c.pingLoop(conn, stop)

	c.log.Debug("bus: connected")
	return nil
}

// resubscribe re-issues one subscribe envelope per active key. The
// acks are not awaited; they arrive as unmatched traffic and are
// dropped by the dispatcher.
func (c *Client) resubscribe(conn *websocket.Conn) {
	for _, key := range c.registry.ActiveKeys() {
		raw, err := json.Marshal(Envelope{
			Type:      TypeSubscribe,
			Topic:     key,
			RequestID: newRequestID(),
		})
		if err != nil {
			continue
		}
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		werr := conn.WriteMessage(websocket.TextMessage, raw)
		c.writeMu.Unlock()
		if werr != nil {
			// The read session will observe the failure and drive the
			// reconnect.
			return
		}
	}
}

// readSession is the blocking pull loop for one connection. Inbound
// frames first go through the correlator; unmatched traffic is
// dispatched as ordinary deliveries or control envelopes. Malformed
// frames are dropped silently and the loop continues.
func (c *Client) readSession(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var err error
	for {
		var raw []byte
		_, raw, err = conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		env, ok := decodeEnvelope(raw)
		if !ok {
			continue
		}
		if c.correlator.resolve(env) {
			continue
		}
		c.dispatch(env, conn)
	}
	c.sessionEnded(conn, err)
}

// dispatch routes an envelope that did not resolve a pending request.
func (c *Client) dispatch(env Envelope, conn *websocket.Conn) {
	switch env.Type {
	case TypeMessage:
		c.registry.Dispatch(env.Topic, Message{
			ID:      env.ID,
			Topic:   env.Topic,
			Created: env.Created,
			Data:    env.Data,
		})
	case TypeReady:
		// Server signals readiness after a transport-level reconnect.
		c.resubscribe(conn)
	default:
		// Unmatched or duplicate acks, stray errors, pongs: not
		// exposed to listeners.
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// sessionEnded handles the end of a connection's read loop: clear the
// socket, and when the drop was unexpected and subscribers remain,
// notify the observer and start the unbounded background reconnect.
func (c *Client) sessionEnded(conn *websocket.Conn, err error) {
	_ = conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A stale session of an already-replaced connection.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	stop := c.stop
	c.mu.Unlock()

	if stopClosed(stop) {
		return
	}
	if c.registry.IsEmpty() {
		c.teardown()
		return
	}

	c.log.Debug("bus: connection dropped", zap.Error(err))
	c.notifyDisconnect()
	go c.reconnectLoop(stop)
}

// reconnectLoop retries indefinitely with backoff as long as
// subscriptions exist and the client has not been stopped.
func (c *Client) reconnectLoop(stop <-chan struct{}) {
	sched := backoff.Schedule{Delays: c.delays}
	for {
		if !sleepStop(stop, sched.Next()) {
			return
		}
		if c.registry.IsEmpty() {
			return
		}

		c.connMu.Lock()
		if c.IsConnected() {
			c.connMu.Unlock()
			return
		}
		err := c.connectOnce(context.Background())
		c.connMu.Unlock()

		if err == nil {
			return
		}
		c.log.Debug("bus: reconnect attempt failed", zap.Error(err))
	}
}

// afterTopicRemoval sends the best-effort server-side unsubscribe once
// a topic has no listeners left, then applies the idle policy.
func (c *Client) afterTopicRemoval(topic string) {
	if !c.registry.Has(topic) && c.IsConnected() {
		_, _ = c.sendAction(context.Background(), Envelope{Type: TypeUnsubscribe, Topic: topic}, false)
	}
	c.closeIfIdle()
}

func (c *Client) closeIfIdle() {
	if c.registry.IsEmpty() {
		c.teardown()
	}
}

// teardown closes the socket and stops the session goroutines without
// firing the disconnect hook.
func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	stop := c.stop
	c.conn = nil
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) notifyDisconnect() {
	hook := c.OnDisconnect
	if hook == nil {
		return
	}
	defer func() { _ = recover() }()
	hook(c.registry.ActiveKeys())
}

func stopClosed(stop <-chan struct{}) bool {
	if stop == nil {
		return true
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// sleepStop waits for d, reporting false when stop closes first.
func sleepStop(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}
