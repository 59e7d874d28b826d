package engine

import (
	"encoding/binary"
	"io"
	"net/netip"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/kadstore/internal/common"
	"github.com/nmxmxh/kadstore/internal/event"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/internal/message"
	"github.com/nmxmxh/kadstore/internal/routing"
	"github.com/nmxmxh/kadstore/utils"
)

func testLogger() *utils.Logger {
	return utils.NewLogger(utils.LoggerConfig{
		Level:  utils.ERROR,
		Output: io.Discard,
	})
}

func mustID(t *testing.T, hex string) id.ID {
	t.Helper()
	i, err := id.FromHex(hex)
	require.NoError(t, err)
	return i
}

// seqReader yields deterministic, distinct identifiers.
type seqReader struct {
	counter uint64
}

func (r *seqReader) Read(p []byte) (int, error) {
	r.counter++
	for i := range p {
		p[i] = 0
	}
	if len(p) >= 8 {
		binary.BigEndian.PutUint64(p[len(p)-8:], r.counter)
	}
	return len(p), nil
}

// sentDatagram records one transport send.
type sentDatagram struct {
	data []byte
	to   netip.AddrPort
}

func (d sentDatagram) decode(t *testing.T) (message.Header, *message.Reader) {
	t.Helper()
	r := message.NewReader(d.data)
	h, err := message.DecodeHeader(r)
	require.NoError(t, err)
	return h, r
}

// recordingNetwork captures outbound datagrams and optionally fails
// every send.
type recordingNetwork struct {
	sent    []sentDatagram
	sendErr error
}

func (n *recordingNetwork) Send(data []byte, to netip.AddrPort) error {
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, sentDatagram{data: append([]byte(nil), data...), to: to})
	return nil
}

// testRig wires a tracker over a recording network for task tests.
type testRig struct {
	loop    *event.Loop
	clock   *clock.Mock
	net     *recordingNetwork
	tracker *tracker
	table   *routing.Table
}

func newTestRig(t *testing.T, localID id.ID) *testRig {
	loop := event.NewLoop()
	mock := clock.NewMock()
	net := &recordingNetwork{}
	router := newResponseRouter(event.NewTimer(mock, loop), testLogger())
	tr := newTracker(localID, router, net, &seqReader{}, loop, testLogger())
	return &testRig{
		loop:    loop,
		clock:   mock,
		net:     net,
		tracker: tr,
		table:   routing.NewTable(localID, routing.DefaultBucketSize, testLogger()),
	}
}

// respond feeds a response for the request recorded at index back into
// the tracker, echoing its token.
func (r *testRig) respond(t *testing.T, index int, source id.ID, body message.Body) {
	t.Helper()
	request, _ := r.net.sent[index].decode(t)

	buf := message.Marshal(message.Header{
		Version:     message.Version,
		Type:        body.MessageType(),
		SourceID:    source,
		RandomToken: request.RandomToken,
	}, body)

	reader := message.NewReader(buf)
	h, err := message.DecodeHeader(reader)
	require.NoError(t, err)
	r.tracker.handleNewResponse(r.net.sent[index].to, h, reader)
}

// hub is an in-memory overlay: datagrams are posted onto one shared
// loop, keeping every engine on a single cooperative scheduler.
type hub struct {
	loop    *event.Loop
	clock   *clock.Mock
	rng     *seqReader
	engines map[netip.AddrPort]*Engine
}

func newHub() *hub {
	return &hub{
		loop:    event.NewLoop(),
		clock:   clock.NewMock(),
		rng:     &seqReader{},
		engines: make(map[netip.AddrPort]*Engine),
	}
}

// hubPort stamps outbound datagrams with the sending engine's address.
type hubPort struct {
	hub  *hub
	from netip.AddrPort
}

func (p hubPort) Send(data []byte, to netip.AddrPort) error {
	target, ok := p.hub.engines[to]
	if !ok {
		// Black hole: the datagram leaves but nobody answers.
		return nil
	}
	buf := append([]byte(nil), data...)
	p.hub.loop.Post(func() {
		target.HandleNewMessage(p.from, buf)
	})
	return nil
}

func (h *hub) addEngine(localID id.ID, addr netip.AddrPort) *Engine {
	timer := event.NewTimer(h.clock, h.loop)
	e := New(localID, h.loop, timer, h.rng, Config{}, testLogger())
	e.AttachNetwork(hubPort{hub: h, from: addr})
	h.engines[addr] = e
	return e
}

// settle drains the loop until the overlay goes quiet.
func (h *hub) settle() {
	for h.loop.Poll() > 0 {
	}
}

func peerAt(i id.ID, addr string) common.Peer {
	return common.Peer{ID: i, Addr: netip.MustParseAddrPort(addr)}
}
