package devhub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// connectEventName is the reserved handshake event carrying the
// server-assigned client id.
const connectEventName = "PB_CONNECT"

const keepaliveInterval = 30 * time.Second

type streamClient struct {
	id   string
	send chan string
	subs map[string]struct{}
}

// ServeStream opens a text event stream: it hands out a fresh client
// id via the handshake event, then forwards broadcast frames and
// periodic keepalive comments until the client goes away.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	c := &streamClient{
		id:   uuid.NewString(),
		send: make(chan string, clientSendQueueSize),
		subs: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.streams[c.id] = c
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.streams, c.id)
		h.mu.Unlock()
	}()

	fmt.Fprintf(w, "id:%s\nevent:%s\ndata:{\"clientId\":%q}\n\n", c.id, connectEventName, c.id)
	flusher.Flush()
	h.log.Debug("stream connected", zap.String("clientId", c.id))

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			if _, err := fmt.Fprint(w, frame); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleSubscriptions is the POST endpoint replacing a stream client's
// desired subscription set.
func (h *Hub) HandleSubscriptions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID      string   `json:"clientId"`
		Subscriptions []string `json:"subscriptions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Subscriptions) > maxSubscriptions {
		writeJSONError(w, http.StatusBadRequest, "too many subscriptions")
		return
	}
	for _, key := range body.Subscriptions {
		if len(key) > maxTopicLength {
			writeJSONError(w, http.StatusBadRequest, "subscription key too long")
			return
		}
	}

	h.mu.Lock()
	c, ok := h.streams[body.ClientID]
	if ok {
		c.subs = make(map[string]struct{}, len(body.Subscriptions))
		for _, key := range body.Subscriptions {
			c.subs[key] = struct{}{}
		}
	}
	h.mu.Unlock()

	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown client id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Broadcast delivers an event to every stream client subscribed to
// key. data is serialized as the frame's JSON payload.
func (h *Hub) Broadcast(key string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	frame := fmt.Sprintf("id:%s\nevent:%s\ndata:%s\n\n", uuid.NewString(), key, raw)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.streams {
		if _, ok := c.subs[key]; !ok {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// Slow stream; skip this delivery.
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
