package subscriptions

import (
	"encoding/json"
	"net/url"
)

// Options carries the per-subscription variants of a topic. Two
// subscriptions to the same topic with different options are tracked
// under distinct keys and are independently removable.
type Options struct {
	Query   map[string]string `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (o *Options) isZero() bool {
	return o == nil || (len(o.Query) == 0 && len(o.Headers) == 0)
}

// Key derives the registry key for topic with the given options: the
// bare topic when no options are attached, otherwise
// topic + "?options=" + url-encoded JSON of the options.
func Key(topic string, opts *Options) string {
	if opts.isZero() {
		return topic
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return topic
	}
	return topic + "?options=" + url.QueryEscape(string(raw))
}
