package devhub

import "encoding/json"

// envelope is the hub-side view of one bus socket frame.
type envelope struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	ID        string          `json:"id,omitempty"`
	Created   string          `json:"created,omitempty"`
	Message   string          `json:"message,omitempty"`
}

const (
	typeSubscribe    = "subscribe"
	typeUnsubscribe  = "unsubscribe"
	typePublish      = "publish"
	typeMessage      = "message"
	typePublished    = "published"
	typeSubscribed   = "subscribed"
	typeUnsubscribed = "unsubscribed"
	typeError        = "error"
)
