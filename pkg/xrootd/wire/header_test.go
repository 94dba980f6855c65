package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestHeaderRoundTrip(t *testing.T) {
	h := RequestHeader{StreamID: 0xBEEF, Request: ReqRead, Dlen: 128}
	copy(h.Body[:], []byte{1, 2, 3, 4})

	encoded := EncodeRequestHeader(h)
	require.Len(t, encoded, RequestHeaderSize)

	decoded, err := DecodeRequestHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, h.StreamID, decoded.StreamID)
	assert.Equal(t, h.Request, decoded.Request)
	assert.Equal(t, h.Body, decoded.Body)
	assert.Equal(t, h.Dlen, decoded.Dlen)
}

func TestDecodeRequestHeaderRejectsNegativeLength(t *testing.T) {
	h := RequestHeader{StreamID: 1, Request: ReqRead, Dlen: -1}
	_, err := DecodeRequestHeader(EncodeRequestHeader(h))
	assert.Error(t, err)
}

func TestDecodeRequestHeaderShort(t *testing.T) {
	_, err := DecodeRequestHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	h := ResponseHeader{StreamID: 42, Status: StatusOkSoFar, Dlen: 99}
	encoded := EncodeResponseHeader(h)
	require.Len(t, encoded, ResponseHeaderSize)

	decoded, err := DecodeResponseHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestHandshakeValidation(t *testing.T) {
	good := make([]byte, 0, 20)
	for _, w := range HandshakeWords {
		good = append(good,
			byte(w>>24), byte(w>>16), byte(w>>8), byte(w))
	}
	assert.NoError(t, ValidateHandshake(good))

	bad := append([]byte(nil), good...)
	bad[19] = 0xFF
	assert.Error(t, ValidateHandshake(bad))
}

func TestHandshakeReplyRole(t *testing.T) {
	dataServer := EncodeHandshakeReply(false)
	require.Len(t, dataServer, HandshakeResponseSize)
	assert.Equal(t, byte(RoleDataServer), dataServer[15])

	lb := EncodeHandshakeReply(true)
	assert.Equal(t, byte(RoleLoadBalancer), lb[15])
}

func TestDecodeReadBody(t *testing.T) {
	h := RequestHeader{Request: ReqRead}
	b := h.Body
	// fhandle occupies body[0:4] big-endian: fhandle=7
	b[3] = 7
	// offset occupies body[4:12] big-endian: offset=256=0x100
	b[10] = 0x01
	// rlen occupies body[12:16] big-endian: rlen=4096=0x1000
	b[14] = 0x10
	rb := DecodeReadBody(b)
	assert.Equal(t, uint32(7), rb.Fhandle)
	assert.Equal(t, int64(256), rb.Offset)
	assert.Equal(t, int32(4096), rb.Rlen)
}
