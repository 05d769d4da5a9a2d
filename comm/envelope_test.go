package comm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := Envelope{Kind: KindRegular, Port: 7, Payload: []byte("opaque bytes")}

	out, err := decodeEnvelope(encodeEnvelope(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEnvelopeEmptyPayload(t *testing.T) {
	in := Envelope{Kind: KindCloseConnection, Port: ControlPort}

	out, err := decodeEnvelope(encodeEnvelope(in))
	require.NoError(t, err)
	assert.Equal(t, in.Kind, out.Kind)
	assert.Nil(t, out.Payload)
}

func TestEnvelopeRejectsTruncatedFrame(t *testing.T) {
	frame := encodeEnvelope(Envelope{Kind: KindRegular, Port: 3, Payload: []byte("full payload")})

	_, err := decodeEnvelope(frame[:len(frame)-2])
	require.Error(t, err, "truncated frame must not decode")

	_, err = decodeEnvelope(frame[:4])
	require.Error(t, err, "frame shorter than header must not decode")
}

func TestPortPairRoundTrip(t *testing.T) {
	local, requester, err := decodePortPair(encodePortPair(12, 34))
	require.NoError(t, err)
	assert.Equal(t, uint32(12), local)
	assert.Equal(t, uint32(34), requester)

	_, _, err = decodePortPair([]byte{1, 2, 3})
	require.Error(t, err)
}
