package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleRepeatsCeiling(t *testing.T) {
	var s Schedule
	want := []time.Duration{
		200 * time.Millisecond,
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		5 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for i, d := range want {
		assert.Equal(t, d, s.Next(), "attempt %d", i)
	}
	assert.Equal(t, len(want), s.Attempt())
}

func TestScheduleReset(t *testing.T) {
	s := Schedule{Delays: []time.Duration{time.Millisecond, time.Second}}
	s.Next()
	s.Next()
	s.Reset()
	assert.Equal(t, 0, s.Attempt())
	assert.Equal(t, time.Millisecond, s.Next())
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	Sleep(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}
