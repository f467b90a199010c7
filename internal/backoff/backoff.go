// Package backoff holds the reconnect delay schedule shared by the
// realtime and bus clients.
package backoff

import (
	"context"
	"time"
)

// DefaultSchedule is the delay sequence applied between reconnect
// attempts. Once exhausted, the final delay repeats.
var DefaultSchedule = []time.Duration{
	200 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

// Schedule walks an increasing delay sequence. The zero value uses
// DefaultSchedule. Not safe for concurrent use; each connection loop
// owns its own Schedule.
type Schedule struct {
	Delays  []time.Duration
	attempt int
}

// Next returns the delay for the upcoming attempt and advances the
// schedule.
func (s *Schedule) Next() time.Duration {
	delays := s.Delays
	if len(delays) == 0 {
		delays = DefaultSchedule
	}
	i := s.attempt
	if i >= len(delays) {
		i = len(delays) - 1
	}
	s.attempt++
	return delays[i]
}

// Attempt reports how many delays have been handed out since the last
// Reset.
func (s *Schedule) Attempt() int { return s.attempt }

// Reset rewinds the schedule after a successful connection.
func (s *Schedule) Reset() { s.attempt = 0 }

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
