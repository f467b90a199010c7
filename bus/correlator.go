package bus

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// newRequestID builds a request id from random bytes plus a monotonic
// time component, so rapid successive actions cannot collide.
func newRequestID() string {
	return uuid.NewString() + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

// correlator matches acknowledgement envelopes to the action that
// issued their request id. An entry is resolved at most once; late or
// duplicate acks no longer match and flow to the dispatcher as
// ordinary traffic.
type correlator struct {
	mu      sync.Mutex
	waiting map[string]chan Envelope
}

func newCorrelator() *correlator {
	return &correlator{waiting: make(map[string]chan Envelope)}
}

// add registers a pending request and returns the channel its ack will
// arrive on.
func (c *correlator) add(requestID string) <-chan Envelope {
	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.waiting[requestID] = ch
	c.mu.Unlock()
	return ch
}

// resolve delivers env to the pending request carrying its request id.
// It reports whether a waiter was found.
func (c *correlator) resolve(env Envelope) bool {
	if env.RequestID == "" {
		return false
	}
	c.mu.Lock()
	ch, ok := c.waiting[env.RequestID]
	if ok {
		delete(c.waiting, env.RequestID)
	}
	c.mu.Unlock()
	if ok {
		ch <- env
	}
	return ok
}

// drop discards a pending request, typically after its deadline
// passed.
func (c *correlator) drop(requestID string) {
	c.mu.Lock()
	delete(c.waiting, requestID)
	c.mu.Unlock()
}

func (c *correlator) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}
