package main

import "time"

type Config struct {
	ServerURL string
	Token     string

	// Topics to watch, in display order.
	Topics []string

	// Rows bounds the recent-message list per topic.
	Rows     int
	Interval time.Duration
}
