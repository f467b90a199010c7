// Package realtime implements the one-way event stream client: it
// holds a single streaming connection to the backend, multiplexes many
// topic subscriptions over it, and re-establishes server-side
// subscription state after every reconnect.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bosbase/go-sdk/internal/backoff"
	"github.com/bosbase/go-sdk/subscriptions"
	"github.com/bosbase/go-sdk/transport"
)

// connectEvent is the reserved handshake event name. It carries the
// server-assigned client id and is never delivered to topic listeners.
const connectEvent = "PB_CONNECT"

const streamPath = "/api/realtime"

// ErrEmptyTopic is returned by Subscribe when no topic is given.
var ErrEmptyTopic = errors.New("realtime: topic must not be empty")

// Event is what topic listeners receive.
type Event struct {
	ID   string
	Data json.RawMessage
}

// SubscribeOptions attaches query/header variants to a subscription.
type SubscribeOptions = subscriptions.Options

// Listener receives every event dispatched to its subscription key.
// Listeners run on the stream read loop and must not block. A listener
// must not call Disconnect or wait on another subscription from inside
// the callback; plain Subscribe/Unsubscribe calls are fine.
type Listener func(e Event)

// UnsubscribeFunc removes the registration that produced it.
type UnsubscribeFunc func()

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client maintains the streaming connection. Construct with NewClient.
type Client struct {
	api *transport.Client
	log *zap.Logger

	// OnDisconnect, when set, is invoked with the still-active
	// subscription keys whenever the stream drops unexpectedly. It is
	// not invoked for explicit Disconnect calls or for the idle close
	// after the last listener is removed.
	OnDisconnect func(activeKeys []string)

	registry *subscriptions.Registry[Event]

	// reconnect delays; replaced only by tests
	delays []time.Duration

	mu       sync.Mutex
	clientID string
	running  bool
	cancel   context.CancelFunc
}

func NewClient(api *transport.Client, opts ...Option) *Client {
	c := &Client{
		api:      api,
		log:      zap.NewNop(),
		registry: subscriptions.NewRegistry[Event](),
		delays:   backoff.DefaultSchedule,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers listener for topic and starts the stream
// connection if it is not already running. Repeated subscriptions to
// the same topic+options share one registry entry. The returned
// function removes exactly this listener; once the last listener is
// gone the connection closes on its own.
//
// The Subscribe call that opens the connection blocks until the
// handshake completes and reports the connect error on failure; later
// calls return immediately and their registration is flushed to the
// server once connected.
func (c *Client) Subscribe(topic string, listener Listener, opts *SubscribeOptions) (UnsubscribeFunc, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	key := subscriptions.Key(topic, opts)
	remove := c.registry.Register(key, subscriptions.Listener[Event](listener))

	if err := c.afterSubscribe(); err != nil {
		remove()
		c.afterUnsubscribe()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			remove()
			c.afterUnsubscribe()
		})
	}, nil
}

// Unsubscribe removes every listener for the given topics, including
// their option-variants. With no arguments it clears everything.
func (c *Client) Unsubscribe(topics ...string) {
	if len(topics) == 0 {
		c.registry.Clear()
	} else {
		for _, topic := range topics {
			c.registry.RemoveByTopic(topic)
		}
	}
	c.afterUnsubscribe()
}

// UnsubscribePrefix removes every subscription whose key starts with
// prefix, e.g. a whole collection at once.
func (c *Client) UnsubscribePrefix(prefix string) {
	c.registry.RemoveByPrefix(prefix)
	c.afterUnsubscribe()
}

// IsConnected reports whether the stream handshake has completed and a
// client id is held.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID != ""
}

// Disconnect stops the stream without firing the disconnect hook. The
// registry is left intact so a later Subscribe reconnects with the
// same state.
func (c *Client) Disconnect() {
	c.stopLoop()
}

// afterSubscribe pushes updated subscription state when the handshake
// has already happened, otherwise makes sure the connect loop is
// running.
func (c *Client) afterSubscribe() error {
	c.mu.Lock()
	clientID := c.clientID
	running := c.running
	c.mu.Unlock()

	if clientID != "" {
		return c.submitSubscriptions(clientID)
	}
	if running {
		return nil
	}
	first := c.startLoop()
	if first == nil {
		// Another caller started the loop in the meantime.
		return nil
	}
	return <-first
}

func (c *Client) afterUnsubscribe() {
	if c.registry.IsEmpty() {
		// Idle policy: no listeners, no connection.
		c.stopLoop()
		return
	}

	c.mu.Lock()
	clientID := c.clientID
	c.mu.Unlock()
	if clientID != "" {
		if err := c.submitSubscriptions(clientID); err != nil {
			c.log.Debug("realtime: submit after unsubscribe failed", zap.Error(err))
		}
	}
}

// startLoop spawns the connection loop and returns the channel that
// reports the outcome of the first connect attempt, or nil when the
// loop was already running.
func (c *Client) startLoop() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	first := make(chan error, 1)
	go c.loop(ctx, first)
	return first
}

// stopLoop cancels the connection loop without waiting for it, so it
// stays safe to call from a listener running on the loop itself.
func (c *Client) stopLoop() {
	c.mu.Lock()
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.clientID = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// loop owns the connection: one streaming session at a time, reconnect
// with backoff while listeners remain. first resolves the connect wait
// of the Subscribe call that started the loop: nil on handshake,
// otherwise the first session error.
func (c *Client) loop(ctx context.Context, first chan<- error) {
	signal := func(err error) {
		if first != nil {
			first <- err
			first = nil
		}
	}

	sched := backoff.Schedule{Delays: c.delays}
	for {
		if ctx.Err() != nil {
			signal(ctx.Err())
			return
		}

		err := c.runSession(ctx, &sched, signal)
		signal(err)

		if ctx.Err() != nil {
			// Explicit disconnect or idle close; state already cleared.
			return
		}

		c.mu.Lock()
		c.clientID = ""
		c.mu.Unlock()

		if c.registry.IsEmpty() {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return
		}

		c.log.Debug("realtime: stream dropped", zap.Error(err))
		c.notifyDisconnect()
		backoff.Sleep(ctx, sched.Next())
	}
}

// runSession opens the stream and reads it until it fails or ctx is
// cancelled. The session becomes connected once PB_CONNECT arrives.
func (c *Client) runSession(ctx context.Context, sched *backoff.Schedule, signal func(error)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		transport.BuildURL(c.api.BaseURL, streamPath, nil), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.api.Auth != nil && c.api.Auth.Valid() {
		req.Header.Set("Authorization", "Bearer "+c.api.Auth.Token())
	}

	httpc := c.api.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("realtime: stream returned status %d", resp.StatusCode)
	}

	parser := &frameParser{}
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range parser.Feed(buf[:n]) {
				if dispatchErr := c.dispatch(frame, sched, signal); dispatchErr != nil {
					return dispatchErr
				}
			}
		}
		if err != nil {
			return err
		}
	}
}

// dispatch routes one decoded frame. The handshake frame captures the
// client id and replays subscription state; everything else goes to
// the listeners registered under the frame's event name.
func (c *Client) dispatch(frame Frame, sched *backoff.Schedule, signal func(error)) error {
	if frame.Event == connectEvent {
		var payload struct {
			ClientID string `json:"clientId"`
		}
		if err := json.Unmarshal([]byte(frame.Data), &payload); err != nil || payload.ClientID == "" {
			return fmt.Errorf("realtime: malformed handshake frame")
		}

		c.mu.Lock()
		c.clientID = payload.ClientID
		c.mu.Unlock()
		sched.Reset()

		if err := c.submitSubscriptions(payload.ClientID); err != nil {
			return err
		}
		c.log.Debug("realtime: connected", zap.String("clientId", payload.ClientID))
		signal(nil)
		return nil
	}

	c.registry.Dispatch(frame.Event, Event{ID: frame.ID, Data: json.RawMessage(frame.Data)})
	return nil
}

// submitSubscriptions replays the full active key set to the server.
// The same call serves first connect, reconnect, and membership
// changes, so desired server-side state has exactly one code path.
func (c *Client) submitSubscriptions(clientID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body := struct {
		ClientID      string   `json:"clientId"`
		Subscriptions []string `json:"subscriptions"`
	}{
		ClientID:      clientID,
		Subscriptions: c.registry.ActiveKeys(),
	}
	return c.api.Send(ctx, http.MethodPost, streamPath, nil, body, nil)
}

func (c *Client) notifyDisconnect() {
	hook := c.OnDisconnect
	if hook == nil {
		return
	}
	defer func() { _ = recover() }()
	hook(c.registry.ActiveKeys())
}
