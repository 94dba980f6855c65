package wire

import (
	"encoding/binary"
	"fmt"
)

// RequestHeaderSize is the fixed size of a client request header.
const RequestHeaderSize = 24

// ResponseHeaderSize is the fixed size of a server response header.
const ResponseHeaderSize = 8

// HandshakeRequestSize is the fixed size of the client's initial handshake.
const HandshakeRequestSize = 20

// HandshakeResponseSize is the fixed size of the server's handshake reply.
const HandshakeResponseSize = 16

// ProtocolVersion is the version the server reports in the handshake reply.
const ProtocolVersion = 0x400

// RoleDataServer and RoleLoadBalancer are the handshake reply's role values.
const (
	RoleLoadBalancer uint32 = 0
	RoleDataServer   uint32 = 1
)

// RequestHeader is the fixed 24-byte header preceding every client request.
type RequestHeader struct {
	StreamID uint16
	Request  RequestCode
	Body     [16]byte // request-specific; interpretation depends on Request
	Dlen     int32     // payload length, must be >= 0
}

// DecodeRequestHeader parses a 24-byte request header. Returns
// ErrArgInvalid-shaped error if dlen is negative.
func DecodeRequestHeader(b []byte) (RequestHeader, error) {
	if len(b) < RequestHeaderSize {
		return RequestHeader{}, fmt.Errorf("wire: short request header (%d bytes)", len(b))
	}
	var h RequestHeader
	h.StreamID = binary.BigEndian.Uint16(b[0:2])
	h.Request = RequestCode(binary.BigEndian.Uint16(b[2:4]))
	copy(h.Body[:], b[4:20])
	h.Dlen = int32(binary.BigEndian.Uint32(b[20:24]))
	if h.Dlen < 0 {
		return h, fmt.Errorf("wire: negative payload length %d", h.Dlen)
	}
	return h, nil
}

// EncodeRequestHeader serializes h into a fresh 24-byte slice.
func EncodeRequestHeader(h RequestHeader) []byte {
	b := make([]byte, RequestHeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.StreamID)
	binary.BigEndian.PutUint16(b[2:4], uint16(h.Request))
	copy(b[4:20], h.Body[:])
	binary.BigEndian.PutUint32(b[20:24], uint32(h.Dlen))
	return b
}

// ResponseHeader is the fixed 8-byte header preceding every server response.
type ResponseHeader struct {
	StreamID uint16
	Status   Status
	Dlen     int32
}

// EncodeResponseHeader serializes h into a fresh 8-byte slice.
func EncodeResponseHeader(h ResponseHeader) []byte {
	b := make([]byte, ResponseHeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.StreamID)
	binary.BigEndian.PutUint16(b[2:4], uint16(h.Status))
	binary.BigEndian.PutUint32(b[4:8], uint32(h.Dlen))
	return b
}

// DecodeResponseHeader parses an 8-byte response header (used by tests and
// the reference client encoder, spec.md Testable Property 1).
func DecodeResponseHeader(b []byte) (ResponseHeader, error) {
	if len(b) < ResponseHeaderSize {
		return ResponseHeader{}, fmt.Errorf("wire: short response header (%d bytes)", len(b))
	}
	return ResponseHeader{
		StreamID: binary.BigEndian.Uint16(b[0:2]),
		Status:   Status(binary.BigEndian.Uint16(b[2:4])),
		Dlen:     int32(binary.BigEndian.Uint32(b[4:8])),
	}, nil
}

// HandshakeWords are the five 32-bit words the client sends as its initial
// handshake: must be exactly {0,0,0,4,2012}.
var HandshakeWords = [5]uint32{0, 0, 0, 4, 2012}

// ValidateHandshake checks a 20-byte client handshake against the fixed
// expected word sequence.
func ValidateHandshake(b []byte) error {
	if len(b) < HandshakeRequestSize {
		return fmt.Errorf("wire: short handshake (%d bytes)", len(b))
	}
	for i := 0; i < 5; i++ {
		w := binary.BigEndian.Uint32(b[i*4 : i*4+4])
		if w != HandshakeWords[i] {
			return fmt.Errorf("wire: invalid handshake word %d: got %d want %d", i, w, HandshakeWords[i])
		}
	}
	return nil
}

// EncodeHandshakeReply builds the server's 16-byte handshake reply.
func EncodeHandshakeReply(isLoadBalancer bool) []byte {
	role := RoleDataServer
	if isLoadBalancer {
		role = RoleLoadBalancer
	}
	b := make([]byte, HandshakeResponseSize)
	binary.BigEndian.PutUint16(b[0:2], 0)
	binary.BigEndian.PutUint16(b[2:4], 0)
	binary.BigEndian.PutUint32(b[4:8], 8)
	binary.BigEndian.PutUint32(b[8:12], ProtocolVersion)
	binary.BigEndian.PutUint32(b[12:16], role)
	return b
}

// OpenRequestBody decodes the 16-byte body of an `open` request.
type OpenRequestBody struct {
	Mode    uint16
	Options uint16
}

func DecodeOpenBody(body [16]byte) OpenRequestBody {
	return OpenRequestBody{
		Mode:    binary.BigEndian.Uint16(body[0:2]),
		Options: binary.BigEndian.Uint16(body[2:4]),
	}
}

// ReadRequestBody decodes the 16-byte body of a `read` request.
type ReadRequestBody struct {
	Fhandle uint32
	Offset  int64
	Rlen    int32
}

func DecodeReadBody(body [16]byte) ReadRequestBody {
	return ReadRequestBody{
		Fhandle: binary.BigEndian.Uint32(body[0:4]),
		Offset:  int64(binary.BigEndian.Uint64(body[4:12])),
		Rlen:    int32(binary.BigEndian.Uint32(body[12:16])),
	}
}

// WriteRequestBody decodes the 16-byte body of a `write` request.
type WriteRequestBody struct {
	Fhandle uint32
	Offset  int64
	PathID  uint8
}

func DecodeWriteBody(body [16]byte) WriteRequestBody {
	return WriteRequestBody{
		Fhandle: binary.BigEndian.Uint32(body[0:4]),
		Offset:  int64(binary.BigEndian.Uint64(body[4:12])),
		PathID:  body[12],
	}
}

// PgrwRequestBody decodes the 16-byte fixed body shared by pgread/pgwrite:
// identical layout to ReadRequestBody/WriteRequestBody (fhandle, offset,
// rlen). The pathid and retry flag are NOT part of this fixed body; when
// Dlen > 0 they arrive as a small args structure at the front of the
// request payload (see DecodePgrwArgs), matching the real protocol's
// ClientPgReadReqArgs/ClientPgWriteReqArgs trailer.
type PgrwRequestBody struct {
	Fhandle uint32
	Offset  int64
	Rlen    int32
}

func DecodePgReadBody(body [16]byte) PgrwRequestBody {
	return PgrwRequestBody{
		Fhandle: binary.BigEndian.Uint32(body[0:4]),
		Offset:  int64(binary.BigEndian.Uint64(body[4:12])),
		Rlen:    int32(binary.BigEndian.Uint32(body[12:16])),
	}
}

func DecodePgWriteBody(body [16]byte) PgrwRequestBody {
	return PgrwRequestBody{
		Fhandle: binary.BigEndian.Uint32(body[0:4]),
		Offset:  int64(binary.BigEndian.Uint64(body[4:12])),
		Rlen:    int32(binary.BigEndian.Uint32(body[12:16])),
	}
}

// PgrwAnyPath is the pathid sentinel meaning "server picks a path".
const PgrwAnyPath = 0xff

// PgrwRetryFlag is the bit in the args trailer's reqflags byte meaning the
// client is resubmitting previously bad-checksum pages and full
// verification should be forced regardless of any prior success.
const PgrwRetryFlag = 0x01

// DecodePgrwArgs parses the optional args trailer at the front of a
// pgread/pgwrite payload (present whenever Dlen > 0 for pgread's case, or
// it prefixes the write data for pgwrite). Returns pathID=0 and retry=false
// when payload is empty, matching "no trailer sent" (spec.md §4.8/§4.9).
func DecodePgrwArgs(payload []byte) (pathID uint8, retry bool) {
	if len(payload) == 0 {
		return 0, false
	}
	pathID = payload[0]
	if pathID == PgrwAnyPath {
		pathID = 0
	}
	if len(payload) > 1 {
		retry = payload[1]&PgrwRetryFlag != 0
	}
	return pathID, retry
}

// ReadvElement is one (fhandle, offset, length) triple in a readv/writev
// request's payload (spec.md §4.10).
type ReadvElement struct {
	Fhandle uint32
	Offset  int64
	Length  int32
}

const readvElementSize = 16

// DecodeReadvList parses a readv/writev payload into its element list.
// Returns an error if payload is not a whole multiple of the element size.
func DecodeReadvList(payload []byte) ([]ReadvElement, error) {
	if len(payload)%readvElementSize != 0 {
		return nil, fmt.Errorf("wire: readv/writev payload %d is not a multiple of %d", len(payload), readvElementSize)
	}
	n := len(payload) / readvElementSize
	out := make([]ReadvElement, n)
	for i := 0; i < n; i++ {
		b := payload[i*readvElementSize:]
		out[i] = ReadvElement{
			Fhandle: binary.BigEndian.Uint32(b[0:4]),
			Offset:  int64(binary.BigEndian.Uint64(b[4:12])),
			Length:  int32(binary.BigEndian.Uint32(b[12:16])),
		}
	}
	return out, nil
}

// EncodeStatReply builds a stat response body: size(8) | flags(4) | mtime(8).
func EncodeStatReply(size int64, flags uint32, mtime int64) []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint64(b[0:8], uint64(size))
	binary.BigEndian.PutUint32(b[8:12], flags)
	binary.BigEndian.PutUint64(b[12:20], uint64(mtime))
	return b
}

// EncodeChkpointQueryReply builds a chkpoint-query response body:
// maxSize(8) | usedSize(8).
func EncodeChkpointQueryReply(maxSize, usedSize int64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(maxSize))
	binary.BigEndian.PutUint64(b[8:16], uint64(usedSize))
	return b
}

// ChkpointRequestBody decodes the 16-byte body of a `chkpoint` request: the
// sub-opcode plus the target file handle. xeq's inner header follows in the
// payload (spec.md §4.11).
type ChkpointRequestBody struct {
	Op      ChkpointOp
	Fhandle uint32
}

func DecodeChkpointBody(body [16]byte) ChkpointRequestBody {
	return ChkpointRequestBody{
		Op:      ChkpointOp(binary.BigEndian.Uint16(body[0:2])),
		Fhandle: binary.BigEndian.Uint32(body[4:8]),
	}
}

// FattrRequestBody decodes the 16-byte body of a `fattr` request: the
// sub-code plus the target file handle and the attribute count in the
// payload (spec.md §4.12).
type FattrRequestBody struct {
	SubCode FattrOp
	Fhandle uint32
	NumAttr int16
}

func DecodeFattrBody(body [16]byte) FattrRequestBody {
	return FattrRequestBody{
		SubCode: FattrOp(body[0]),
		Fhandle: binary.BigEndian.Uint32(body[4:8]),
		NumAttr: int16(binary.BigEndian.Uint16(body[8:10])),
	}
}

// CloseRequestBody decodes the 16-byte body of a `close` request.
type CloseRequestBody struct {
	Fhandle uint32
	Fsize   int64
}

func DecodeCloseBody(body [16]byte) CloseRequestBody {
	return CloseRequestBody{
		Fhandle: binary.BigEndian.Uint32(body[0:4]),
		Fsize:   int64(binary.BigEndian.Uint64(body[4:12])),
	}
}
