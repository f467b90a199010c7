package devhub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dev tooling; accept any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type busClient struct {
	conn   *websocket.Conn
	send   chan []byte
	authed bool

	mu   sync.Mutex
	subs map[string]struct{}
}

// ServeBus upgrades to a WebSocket and speaks the message bus
// protocol: subscribe/unsubscribe/publish actions acknowledged by
// request id, message fan-out to topic subscribers.
func (h *Hub) ServeBus(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("bus upgrade failed", zap.Error(err))
		return
	}

	c := &busClient{
		conn:   conn,
		send:   make(chan []byte, clientSendQueueSize),
		authed: h.authorized(r),
		subs:   make(map[string]struct{}),
	}

	conn.SetReadLimit(4 << 20)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.publishToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == h.publishToken
}

func (h *Hub) readLoop(c *busClient) {
	defer func() {
		h.removeBusClient(c)
		_ = c.conn.Close()
		close(c.send)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(c, "", "invalid json")
			continue
		}

		switch env.Type {
		case typeSubscribe:
			if msg, ok := h.checkSubscribe(c, env); ok {
				h.subscribeBus(c, env.Topic)
				h.reply(c, envelope{Type: typeSubscribed, Topic: env.Topic, RequestID: env.RequestID})
			} else {
				h.sendError(c, env.RequestID, msg)
			}

		case typeUnsubscribe:
			if env.Topic == "" {
				h.removeBusClient(c)
			} else {
				h.unsubscribeBus(c, env.Topic)
			}
			h.reply(c, envelope{Type: typeUnsubscribed, Topic: env.Topic, RequestID: env.RequestID})

		case typePublish:
			h.handlePublish(c, env)

		default:
			h.sendError(c, env.RequestID, "unknown type")
		}
	}
}

// checkSubscribe validates a subscribe action against the server-side
// limits. A rejected action reports a non-empty message.
func (h *Hub) checkSubscribe(c *busClient, env envelope) (string, bool) {
	if env.Topic == "" {
		return "missing topic", false
	}
	if len(env.Topic) > maxTopicLength {
		return "topic too long", false
	}
	c.mu.Lock()
	count := len(c.subs)
	c.mu.Unlock()
	if count >= maxSubscriptions {
		return "too many subscriptions", false
	}
	return "", true
}

func (h *Hub) handlePublish(c *busClient, env envelope) {
	if env.Topic == "" {
		h.sendError(c, env.RequestID, "missing topic")
		return
	}
	if !c.authed {
		h.sendError(c, env.RequestID, "authentication required")
		return
	}

	msg := envelope{
		Type:    typeMessage,
		ID:      uuid.NewString(),
		Topic:   env.Topic,
		Created: time.Now().UTC().Format(time.RFC3339Nano),
		Data:    env.Data,
	}
	h.broadcastBus(msg)

	h.reply(c, envelope{
		Type:      typePublished,
		RequestID: env.RequestID,
		ID:        msg.ID,
		Topic:     msg.Topic,
		Created:   msg.Created,
	})
}

func (h *Hub) broadcastBus(msg envelope) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	subs := h.topics[msg.Topic]
	targets := make([]*busClient, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Slow consumer: drop the connection rather than stall the
			// hub.
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) writeLoop(c *busClient) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (h *Hub) reply(c *busClient, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		_ = c.conn.Close()
	}
}

func (h *Hub) sendError(c *busClient, requestID, message string) {
	h.reply(c, envelope{Type: typeError, RequestID: requestID, Message: message})
}
