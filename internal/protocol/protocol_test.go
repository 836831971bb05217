package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicebridge/internal/codec"
)

func TestParseStart(t *testing.T) {
	raw := `{"event":"start","sequenceNumber":"1","start":{"streamSid":"MZ42","accountSid":"AC1","callSid":"CAabcdef123",` +
		`"tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}},"streamSid":"MZ42"}`

	m, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStart, m.Event)
	assert.Equal(t, "CAabcdef123", m.CallSID())
	assert.Equal(t, "MZ42", m.StreamID())
	require.NotNil(t, m.Start.MediaFormat)
	assert.Equal(t, 8000, m.Start.MediaFormat.SampleRate)
}

func TestCallSIDFromCustomParameters(t *testing.T) {
	m, err := ParseMessage([]byte(`{"event":"start","start":{"streamSid":"MZ1","callSid":"","customParameters":{"callSid":"CAfromparam"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "CAfromparam", m.CallSID())

	media, err := ParseMessage([]byte(`{"event":"media","streamSid":"MZ1","media":{"payload":"//8="}}`))
	require.NoError(t, err)
	assert.Empty(t, media.CallSID())
	assert.Equal(t, "MZ1", media.StreamID())
}

func TestParseRejectsBadFrames(t *testing.T) {
	_, err := ParseMessage([]byte(`{"event":`))
	require.Error(t, err)

	_, err = ParseMessage([]byte(`{"streamSid":"MZ1"}`))
	require.ErrorIs(t, err, ErrNoEvent)

	m, err := ParseMessage([]byte(`{"event":"something-new"}`))
	require.NoError(t, err)
	assert.Equal(t, "something-new", m.Event)
}

func TestMediaMessageShape(t *testing.T) {
	data, err := MediaMessage(codec.TelephonyFrame{StreamID: "MZ7", Payload: []byte{0xff, 0x7f, 0x00}})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "media", out["event"])
	assert.Equal(t, "MZ7", out["streamSid"])

	media, ok := out["media"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0x7f, 0x00}), media["payload"])
	assert.Len(t, media, 1)
}
