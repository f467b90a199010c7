package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelatorResolvesExactlyOnce(t *testing.T) {
	c := newCorrelator()
	ch := c.add("r1")

	require.True(t, c.resolve(Envelope{Type: TypePublished, RequestID: "r1", ID: "m1"}))
	ack := <-ch
	assert.Equal(t, "m1", ack.ID)

	// A duplicate ack no longer matches and must flow to the
	// dispatcher instead.
	assert.False(t, c.resolve(Envelope{Type: TypePublished, RequestID: "r1"}))
	assert.Zero(t, c.size())
}

func TestCorrelatorIgnoresUnknownAndEmptyIDs(t *testing.T) {
	c := newCorrelator()
	c.add("r1")

	assert.False(t, c.resolve(Envelope{Type: TypePublished, RequestID: "other"}))
	assert.False(t, c.resolve(Envelope{Type: TypeMessage}))
	assert.Equal(t, 1, c.size())
}

func TestCorrelatorDrop(t *testing.T) {
	c := newCorrelator()
	c.add("r1")
	c.drop("r1")

	assert.Zero(t, c.size())
	assert.False(t, c.resolve(Envelope{RequestID: "r1"}))
}

func TestNewRequestIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := newRequestID()
		_, dup := seen[id]
		require.False(t, dup, "request id collision: %s", id)
		seen[id] = struct{}{}
	}
}
