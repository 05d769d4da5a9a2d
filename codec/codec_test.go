package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkpoint struct {
	Stage   string
	Offsets []int64
}

func TestGobRoundTrip(t *testing.T) {
	c := Gob{}

	data, err := c.Encode("hello")
	require.NoError(t, err)

	v, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestGobRoundTripStruct(t *testing.T) {
	Register(checkpoint{})
	c := Gob{}

	in := checkpoint{Stage: "shuffle", Offsets: []int64{1, 2, 3}}
	data, err := c.Encode(in)
	require.NoError(t, err)

	v, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, v)
}

func TestGobDecodeGarbage(t *testing.T) {
	_, err := Gob{}.Decode([]byte("not gob"))
	require.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	c := JSON{}

	data, err := c.Encode(map[string]any{"key": "value"})
	require.NoError(t, err)

	v, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "value"}, v)
}

func TestZstdRoundTrip(t *testing.T) {
	z, err := NewZstd(Gob{})
	require.NoError(t, err)

	in := make([]byte, 0, 4096)
	for i := 0; i < 4096; i++ {
		in = append(in, byte(i%7))
	}

	data, err := z.Encode(in)
	require.NoError(t, err)
	assert.Less(t, len(data), len(in), "repetitive payload should compress")

	v, err := z.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, v)
}

func TestSealerRoundTrip(t *testing.T) {
	s := Base64Sealer{Domain: DomainEnclave}

	sealed, err := s.Seal([]byte("secret"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("secret"), sealed)

	out, err := s.Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), out)
}

func TestSealerRefusesForeignDomain(t *testing.T) {
	enclave := Base64Sealer{Domain: DomainEnclave}
	host := Base64Sealer{Domain: DomainHost}

	sealed, err := enclave.Seal([]byte("enclave only"))
	require.NoError(t, err)

	_, err = host.Unseal(sealed)
	require.True(t, errors.Is(err, ErrOutsideTrustDomain))
}
