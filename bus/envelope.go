package bus

import "encoding/json"

// Envelope action and control types exchanged over the socket.
const (
	// client -> server
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"

	// server -> client
	TypeMessage      = "message"
	TypeReady        = "ready"
	TypePublished    = "published"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePong         = "pong"
	TypeError        = "error"
)

// Envelope is one complete JSON text frame on the socket. Fields are
// populated depending on Type.
type Envelope struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	ID        string          `json:"id,omitempty"`
	Created   string          `json:"created,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// decodeEnvelope parses an inbound text frame. Malformed frames
// (invalid JSON, non-object top level) report ok=false and are dropped
// by the read loop.
func decodeEnvelope(raw []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, false
	}
	if env.Type == "" {
		return Envelope{}, false
	}
	return env, true
}

// Message is what topic listeners receive for every delivery.
type Message struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	Created string          `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// PublishResult echoes the server-assigned identity of a published
// message.
type PublishResult struct {
	ID      string
	Topic   string
	Created string
}
