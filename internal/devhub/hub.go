// Package devhub is an in-process backend speaking both realtime wire
// protocols: the one-way text event stream with its subscriptions
// endpoint, and the two-way message bus socket. It backs cmd/devserver
// and the client test suites.
package devhub

import (
	"sync"

	"go.uber.org/zap"
)

// Server-side limits, enforced defensively; clients surface the
// resulting rejections to their callers.
const (
	maxTopicLength      = 255
	maxSubscriptions    = 1000
	clientSendQueueSize = 256
)

// Hub owns all connected clients of both protocols.
type Hub struct {
	log *zap.Logger

	// publishToken, when non-empty, is the bearer credential required
	// for bus publishes. Subscribing stays open.
	publishToken string

	mu      sync.RWMutex
	topics  map[string]map[*busClient]struct{}
	streams map[string]*streamClient
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Hub) { h.log = log }
}

// WithPublishToken requires the given bearer token for bus publishes.
func WithPublishToken(token string) Option {
	return func(h *Hub) { h.publishToken = token }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		log:     zap.NewNop(),
		topics:  make(map[string]map[*busClient]struct{}),
		streams: make(map[string]*streamClient),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) subscribeBus(c *busClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[*busClient]struct{})
	}
	h.topics[topic][c] = struct{}{}

	c.mu.Lock()
	c.subs[topic] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) unsubscribeBus(c *busClient, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeBusLocked(c, topic)
}

func (h *Hub) unsubscribeBusLocked(c *busClient, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}

func (h *Hub) removeBusClient(c *busClient) {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		h.unsubscribeBusLocked(c, t)
	}
}

// BusSubscriberCount reports how many bus clients hold topic, for
// tests and the devserver status endpoint.
func (h *Hub) BusSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// StreamClientCount reports the number of open event streams.
func (h *Hub) StreamClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}
