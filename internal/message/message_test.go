package message

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/kadstore/internal/common"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/kaderror"
)

func testHeader(t Type) Header {
	source, _ := id.FromHex("a1b2c3")
	token, _ := id.FromHex("d4e5f6")
	return Header{Version: Version, Type: t, SourceID: source, RandomToken: token}
}

func testPeers() []common.Peer {
	id1, _ := id.FromHex("01")
	id2, _ := id.FromHex("02")
	return []common.Peer{
		{ID: id1, Addr: netip.MustParseAddrPort("192.168.1.7:27980")},
		{ID: id2, Addr: netip.MustParseAddrPort("[2001:db8::1]:4242")},
	}
}

// decodableBody pairs the marshal surface with the decode method the
// concrete pointer types carry.
type decodableBody interface {
	Body
	DecodeFrom(r *Reader) error
}

func decodeBody(t *testing.T, data []byte, body decodableBody) Header {
	t.Helper()
	r := NewReader(data)
	h, err := DecodeHeader(r)
	require.NoError(t, err)
	require.NoError(t, body.DecodeFrom(r))
	assert.Zero(t, r.Remaining(), "decoding must consume the datagram")
	return h
}

func TestMessage_HeaderRoundTrip(t *testing.T) {
	h := testHeader(FindPeerRequest)
	buf := Marshal(h, PingRequestBody{})
	// One byte version/type plus two identifiers.
	require.Len(t, buf, 41)
	assert.Equal(t, byte(Version|uint8(FindPeerRequest)<<4), buf[0])

	r := NewReader(buf)
	decoded, err := DecodeHeader(r)
	require.NoError(t, err)
	assert.Equal(t, h.Version, decoded.Version)
	assert.Equal(t, FindPeerRequest, decoded.Type)
	assert.Equal(t, h.SourceID, decoded.SourceID)
	assert.Equal(t, h.RandomToken, decoded.RandomToken)
}

func TestMessage_UnknownProtocolVersion(t *testing.T) {
	buf := Marshal(testHeader(PingRequest), PingRequestBody{})
	buf[0] = buf[0]&0xf0 | 2 // version 2

	_, err := DecodeHeader(NewReader(buf))
	assert.ErrorIs(t, err, kaderror.UnknownProtocolVersion)
}

func TestMessage_BodyRoundTrips(t *testing.T) {
	target, _ := id.FromHex("cafe")
	keyHash, _ := id.FromHex("beef")

	tests := []struct {
		name    string
		body    Body
		decoded decodableBody
	}{
		{"ping request", PingRequestBody{}, &PingRequestBody{}},
		{"ping response", PingResponseBody{}, &PingResponseBody{}},
		{"store request", StoreValueRequestBody{KeyHash: keyHash, Value: []byte{1, 2, 3}}, &StoreValueRequestBody{}},
		{"store request empty value", StoreValueRequestBody{KeyHash: keyHash, Value: []byte{}}, &StoreValueRequestBody{}},
		{"find peer request", FindPeerRequestBody{Target: target}, &FindPeerRequestBody{}},
		{"find peer response", FindPeerResponseBody{Peers: testPeers()}, &FindPeerResponseBody{}},
		{"find peer response empty", FindPeerResponseBody{}, &FindPeerResponseBody{}},
		{"find value request", FindValueRequestBody{Target: target}, &FindValueRequestBody{}},
		{"find value response", FindValueResponseBody{Value: []byte{4, 5, 6, 7}}, &FindValueResponseBody{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Marshal(testHeader(tt.body.MessageType()), tt.body)
			h := decodeBody(t, buf, tt.decoded)
			assert.Equal(t, tt.body.MessageType(), h.Type)
		})
	}
}

func TestMessage_FindPeerResponseContent(t *testing.T) {
	peers := testPeers()
	buf := Marshal(testHeader(FindPeerResponse), FindPeerResponseBody{Peers: peers})

	var decoded FindPeerResponseBody
	decodeBody(t, buf, &decoded)

	require.Len(t, decoded.Peers, 2)
	assert.Equal(t, peers[0].ID, decoded.Peers[0].ID)
	assert.Equal(t, peers[0].Addr, decoded.Peers[0].Addr)
	assert.Equal(t, peers[1].Addr, decoded.Peers[1].Addr)
}

func TestMessage_StoreRequestContent(t *testing.T) {
	keyHash, _ := id.FromHex("beef")
	buf := Marshal(testHeader(StoreRequest), StoreValueRequestBody{
		KeyHash: keyHash,
		Value:   []byte("payload"),
	})

	var decoded StoreValueRequestBody
	decodeBody(t, buf, &decoded)
	assert.Equal(t, keyHash, decoded.KeyHash)
	assert.Equal(t, []byte("payload"), decoded.Value)
}

// Every truncation of a well-formed datagram must produce an error,
// never a panic or a read past the end.
func TestMessage_TruncationAtEveryBoundary(t *testing.T) {
	target, _ := id.FromHex("cafe")
	keyHash, _ := id.FromHex("beef")

	datagrams := []struct {
		name string
		buf  []byte
		make func() decodableBody
	}{
		{"store request", Marshal(testHeader(StoreRequest), StoreValueRequestBody{KeyHash: keyHash, Value: []byte{1, 2, 3}}), func() decodableBody { return &StoreValueRequestBody{} }},
		{"find peer request", Marshal(testHeader(FindPeerRequest), FindPeerRequestBody{Target: target}), func() decodableBody { return &FindPeerRequestBody{} }},
		{"find peer response", Marshal(testHeader(FindPeerResponse), FindPeerResponseBody{Peers: testPeers()}), func() decodableBody { return &FindPeerResponseBody{} }},
		{"find value request", Marshal(testHeader(FindValueRequest), FindValueRequestBody{Target: target}), func() decodableBody { return &FindValueRequestBody{} }},
		{"find value response", Marshal(testHeader(FindValueResponse), FindValueResponseBody{Value: []byte{1, 2, 3, 4}}), func() decodableBody { return &FindValueResponseBody{} }},
	}

	for _, tt := range datagrams {
		t.Run(tt.name, func(t *testing.T) {
			for cut := 0; cut < len(tt.buf); cut++ {
				r := NewReader(tt.buf[:cut])
				_, err := DecodeHeader(r)
				if err != nil {
					continue
				}
				err = tt.make().DecodeFrom(r)
				assert.Errorf(t, err, "truncation to %d bytes must fail", cut)
			}
		})
	}
}

func TestMessage_CorruptSizePrefix(t *testing.T) {
	buf := Marshal(testHeader(FindValueResponse), FindValueResponseBody{Value: []byte{1, 2, 3}})
	// Claim a body far larger than the datagram.
	buf[41] = 0xff

	r := NewReader(buf)
	_, err := DecodeHeader(r)
	require.NoError(t, err)

	var body FindValueResponseBody
	assert.ErrorIs(t, body.DecodeFrom(r), kaderror.CorruptedBody)
}

func TestMessage_CorruptAddressFamily(t *testing.T) {
	buf := Marshal(testHeader(FindPeerResponse), FindPeerResponseBody{Peers: testPeers()[:1]})
	// The family byte sits after the count, the peer id and the port.
	buf[41+8+20+2] = 9

	r := NewReader(buf)
	_, err := DecodeHeader(r)
	require.NoError(t, err)

	var body FindPeerResponseBody
	assert.ErrorIs(t, body.DecodeFrom(r), kaderror.CorruptedBody)
}

func TestMessage_TypeString(t *testing.T) {
	assert.Equal(t, "ping_request", PingRequest.String())
	assert.Equal(t, "find_value_response", FindValueResponse.String())
	assert.Equal(t, "unknown(12)", Type(12).String())
}
