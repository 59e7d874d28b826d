// Package message defines the on-the-wire protocol: a 41-byte header
// followed by a message-type specific body, framed with little-endian
// sizes. Serialization is the exact inverse of deserialization; any
// truncated or corrupt datagram yields an error, never a panic.
package message

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/nmxmxh/kadstore/internal/common"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/kaderror"
)

// Version is the only protocol version peers accept.
const Version = 1

// Type identifies a message body. It travels in the high nibble of the
// first header byte.
type Type uint8

const (
	PingRequest Type = iota
	PingResponse
	StoreRequest
	FindPeerRequest
	FindPeerResponse
	FindValueRequest
	FindValueResponse
)

func (t Type) String() string {
	switch t {
	case PingRequest:
		return "ping_request"
	case PingResponse:
		return "ping_response"
	case StoreRequest:
		return "store_request"
	case FindPeerRequest:
		return "find_peer_request"
	case FindPeerResponse:
		return "find_peer_response"
	case FindValueRequest:
		return "find_value_request"
	case FindValueResponse:
		return "find_value_response"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IP family markers used in the endpoint encoding.
const (
	familyIPv4 = 1
	familyIPv6 = 2
)

// Header precedes every message body.
type Header struct {
	Version     uint8
	Type        Type
	SourceID    id.ID
	RandomToken id.ID
}

// Body is implemented by every message body. Decoding happens through
// the pointer-receiver DecodeFrom methods on the concrete body types.
type Body interface {
	// MessageType is the wire type the body travels under.
	MessageType() Type
	// AppendTo serializes the body at the end of buf.
	AppendTo(buf []byte) []byte
}

// Marshal frames a header and body into a fresh datagram buffer.
func Marshal(h Header, body Body) []byte {
	buf := appendHeader(nil, h)
	return body.AppendTo(buf)
}

func appendHeader(buf []byte, h Header) []byte {
	buf = append(buf, h.Version|uint8(h.Type)<<4)
	buf = append(buf, h.SourceID[:]...)
	return append(buf, h.RandomToken[:]...)
}

// DecodeHeader reads a header from the reader, rejecting unknown
// protocol versions.
func DecodeHeader(r *Reader) (Header, error) {
	var h Header
	b, ok := r.byte()
	if !ok {
		return h, kaderror.TruncatedHeader
	}
	h.Version = b & 0xf
	h.Type = Type(b >> 4)
	if h.Version != Version {
		return h, kaderror.UnknownProtocolVersion
	}
	if err := r.id(&h.SourceID); err != nil {
		return h, err
	}
	if err := r.id(&h.RandomToken); err != nil {
		return h, err
	}
	return h, nil
}

// Reader is a cursor over a received datagram. Decoding failures leave
// the cursor position undefined; callers discard the datagram.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps a datagram for decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) byte() (byte, bool) {
	if r.Remaining() < 1 {
		return 0, false
	}
	b := r.buf[r.off]
	r.off++
	return b, true
}

func (r *Reader) uint16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, kaderror.TruncatedSize
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) uint64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, kaderror.TruncatedSize
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) id(out *id.ID) error {
	if r.Remaining() < id.Size {
		return kaderror.TruncatedID
	}
	copy(out[:], r.buf[r.off:])
	r.off += id.Size
	return nil
}

// bytes reads a size-prefixed byte vector.
func (r *Reader) bytes() ([]byte, error) {
	size, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if uint64(r.Remaining()) < size {
		return nil, kaderror.CorruptedBody
	}
	out := make([]byte, size)
	copy(out, r.buf[r.off:])
	r.off += int(size)
	return out, nil
}

func (r *Reader) addr() (netip.Addr, error) {
	family, ok := r.byte()
	if !ok {
		return netip.Addr{}, kaderror.TruncatedEndpoint
	}
	switch family {
	case familyIPv4:
		if r.Remaining() < 4 {
			return netip.Addr{}, kaderror.TruncatedAddress
		}
		var b [4]byte
		copy(b[:], r.buf[r.off:])
		r.off += 4
		return netip.AddrFrom4(b), nil
	case familyIPv6:
		if r.Remaining() < 16 {
			return netip.Addr{}, kaderror.TruncatedAddress
		}
		var b [16]byte
		copy(b[:], r.buf[r.off:])
		r.off += 16
		return netip.AddrFrom16(b), nil
	default:
		return netip.Addr{}, kaderror.CorruptedBody
	}
}

func (r *Reader) peer() (common.Peer, error) {
	var p common.Peer
	if err := r.id(&p.ID); err != nil {
		return p, err
	}
	port, err := r.uint16()
	if err != nil {
		return p, err
	}
	addr, err := r.addr()
	if err != nil {
		return p, err
	}
	p.Addr = netip.AddrPortFrom(addr, port)
	return p, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(buf, v)
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

func appendBytes(buf, data []byte) []byte {
	buf = appendUint64(buf, uint64(len(data)))
	return append(buf, data...)
}

func appendAddr(buf []byte, a netip.Addr) []byte {
	if a.Is4() {
		b := a.As4()
		buf = append(buf, familyIPv4)
		return append(buf, b[:]...)
	}
	b := a.As16()
	buf = append(buf, familyIPv6)
	return append(buf, b[:]...)
}

func appendPeer(buf []byte, p common.Peer) []byte {
	buf = append(buf, p.ID[:]...)
	buf = appendUint16(buf, p.Addr.Port())
	return appendAddr(buf, p.Addr.Addr())
}

// PingRequestBody is empty.
type PingRequestBody struct{}

func (PingRequestBody) MessageType() Type          { return PingRequest }
func (PingRequestBody) AppendTo(buf []byte) []byte { return buf }
func (*PingRequestBody) DecodeFrom(*Reader) error  { return nil }

// PingResponseBody is empty.
type PingResponseBody struct{}

func (PingResponseBody) MessageType() Type          { return PingResponse }
func (PingResponseBody) AppendTo(buf []byte) []byte { return buf }
func (*PingResponseBody) DecodeFrom(*Reader) error  { return nil }

// StoreValueRequestBody carries a key hash and the value to replicate.
type StoreValueRequestBody struct {
	KeyHash id.ID
	Value   []byte
}

func (StoreValueRequestBody) MessageType() Type { return StoreRequest }

func (b StoreValueRequestBody) AppendTo(buf []byte) []byte {
	buf = append(buf, b.KeyHash[:]...)
	return appendBytes(buf, b.Value)
}

func (b *StoreValueRequestBody) DecodeFrom(r *Reader) error {
	if err := r.id(&b.KeyHash); err != nil {
		return err
	}
	value, err := r.bytes()
	if err != nil {
		return err
	}
	b.Value = value
	return nil
}

// FindPeerRequestBody asks for peers close to a target identifier.
type FindPeerRequestBody struct {
	Target id.ID
}

func (FindPeerRequestBody) MessageType() Type { return FindPeerRequest }

func (b FindPeerRequestBody) AppendTo(buf []byte) []byte {
	return append(buf, b.Target[:]...)
}

func (b *FindPeerRequestBody) DecodeFrom(r *Reader) error {
	return r.id(&b.Target)
}

// FindPeerResponseBody lists the responder's closest known peers.
type FindPeerResponseBody struct {
	Peers []common.Peer
}

func (FindPeerResponseBody) MessageType() Type { return FindPeerResponse }

func (b FindPeerResponseBody) AppendTo(buf []byte) []byte {
	buf = appendUint64(buf, uint64(len(b.Peers)))
	for _, p := range b.Peers {
		buf = appendPeer(buf, p)
	}
	return buf
}

func (b *FindPeerResponseBody) DecodeFrom(r *Reader) error {
	count, err := r.uint64()
	if err != nil {
		return err
	}
	for ; count > 0; count-- {
		p, err := r.peer()
		if err != nil {
			return err
		}
		b.Peers = append(b.Peers, p)
	}
	return nil
}

// FindValueRequestBody asks for the value stored under a key hash.
type FindValueRequestBody struct {
	Target id.ID
}

func (FindValueRequestBody) MessageType() Type { return FindValueRequest }

func (b FindValueRequestBody) AppendTo(buf []byte) []byte {
	return append(buf, b.Target[:]...)
}

func (b *FindValueRequestBody) DecodeFrom(r *Reader) error {
	return r.id(&b.Target)
}

// FindValueResponseBody carries a found value back to the requester.
type FindValueResponseBody struct {
	Value []byte
}

func (FindValueResponseBody) MessageType() Type { return FindValueResponse }

func (b FindValueResponseBody) AppendTo(buf []byte) []byte {
	return appendBytes(buf, b.Value)
}

func (b *FindValueResponseBody) DecodeFrom(r *Reader) error {
	value, err := r.bytes()
	if err != nil {
		return err
	}
	b.Value = value
	return nil
}
