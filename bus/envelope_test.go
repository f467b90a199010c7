package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	env, ok := decodeEnvelope([]byte(`{"type":"message","topic":"t","id":"1","data":{"a":1}}`))
	require.True(t, ok)
	assert.Equal(t, TypeMessage, env.Type)
	assert.Equal(t, "t", env.Topic)
	assert.JSONEq(t, `{"a":1}`, string(env.Data))
}

func TestDecodeEnvelopeDropsMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json at all`,
		`"a top-level string"`,
		`[1,2,3]`,
		`null`,
		`{}`,
	} {
		_, ok := decodeEnvelope([]byte(raw))
		assert.False(t, ok, "raw=%s", raw)
	}
}
