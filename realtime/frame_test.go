package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedSingleFrame(t *testing.T) {
	p := &frameParser{}

	frames := p.Feed([]byte("id:42\nevent:create\ndata:{\"x\":1}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "create", frames[0].Event)
	assert.Equal(t, "42", frames[0].ID)
	assert.Equal(t, `{"x":1}`, frames[0].Data)
}

func TestFeedArbitraryChunkBoundaries(t *testing.T) {
	raw := "id:42\nevent:create\ndata:{\"x\":1}\n\n"

	// Whole frame in one piece.
	whole := (&frameParser{}).Feed([]byte(raw))
	require.Len(t, whole, 1)

	// Same frame delivered byte by byte, splitting mid-field-name and
	// mid-delimiter.
	p := &frameParser{}
	var split []Frame
	for i := 0; i < len(raw); i++ {
		split = append(split, p.Feed([]byte{raw[i]})...)
	}
	require.Len(t, split, 1)
	assert.Equal(t, whole[0], split[0])
}

func TestFeedMultiLineData(t *testing.T) {
	frames := (&frameParser{}).Feed([]byte("data:first\ndata:second\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "first\nsecond", frames[0].Data)
}

func TestFeedDefaultEventName(t *testing.T) {
	frames := (&frameParser{}).Feed([]byte("data:hello\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "message", frames[0].Event)
}

func TestFeedCRLFDelimiter(t *testing.T) {
	frames := (&frameParser{}).Feed([]byte("event:ping\r\ndata: pong\r\n\r\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "ping", frames[0].Event)
	assert.Equal(t, "pong", frames[0].Data)
}

func TestFeedIgnoresComments(t *testing.T) {
	frames := (&frameParser{}).Feed([]byte(":keepalive\nevent:tick\ndata:1\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "tick", frames[0].Event)
	assert.Equal(t, "1", frames[0].Data)
}

func TestFeedLeftTrimsValues(t *testing.T) {
	frames := (&frameParser{}).Feed([]byte("data:   padded\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "padded", frames[0].Data)
}

func TestFeedMultipleFramesInOneChunk(t *testing.T) {
	frames := (&frameParser{}).Feed([]byte("event:a\ndata:1\n\nevent:b\ndata:2\n\n"))
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].Event)
	assert.Equal(t, "b", frames[1].Event)
}

func TestFeedPartialFrameStaysBuffered(t *testing.T) {
	p := &frameParser{}
	assert.Empty(t, p.Feed([]byte("event:a\ndata:1")))
	assert.Empty(t, p.Feed([]byte("23")))

	frames := p.Feed([]byte("\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "123", frames[0].Data)
}
