package engine

import (
	"io"
	"net/netip"
	"time"

	"github.com/nmxmxh/kadstore/internal/event"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/internal/message"
	"github.com/nmxmxh/kadstore/utils"
)

// Network sends serialized datagrams to peers. The UDP implementation
// lives in internal/network; tests plug in in-memory fakes.
type Network interface {
	Send(data []byte, to netip.AddrPort) error
}

// tracker serializes and sends requests and responses, registering a
// waiter with the response router for every tracked request.
type tracker struct {
	router  *responseRouter
	myID    id.ID
	network Network
	rng     io.Reader
	loop    *event.Loop
	log     *utils.Logger
}

func newTracker(myID id.ID, router *responseRouter, network Network, rng io.Reader, loop *event.Loop, log *utils.Logger) *tracker {
	return &tracker{
		router:  router,
		myID:    myID,
		network: network,
		rng:     rng,
		loop:    loop,
		log:     log,
	}
}

// sendRequest serializes the body under a fresh random token, sends it,
// and registers the waiter. Failures are delivered through onError via
// a posted closure so callers never reenter synchronously.
func (t *tracker) sendRequest(body message.Body, to netip.AddrPort, timeout time.Duration, onResponse responseCallback, onError errorCallback) {
	token, err := id.Random(t.rng)
	if err != nil {
		t.loop.Post(func() { onError(err) })
		return
	}

	buf := t.marshal(token, body)
	if err := t.network.Send(buf, to); err != nil {
		t.loop.Post(func() { onError(err) })
		return
	}

	t.router.register(token, timeout, onResponse, onError)
}

// sendFireAndForget sends a request without tracking a response. Used
// for STORE_REQUEST.
func (t *tracker) sendFireAndForget(body message.Body, to netip.AddrPort) {
	token, err := id.Random(t.rng)
	if err != nil {
		t.log.Warn("dropping request, random source failed", utils.Err(err))
		return
	}
	t.sendResponse(token, body, to)
}

// sendResponse reuses an inbound token to answer a request. No waiter
// is registered.
func (t *tracker) sendResponse(token id.ID, body message.Body, to netip.AddrPort) {
	buf := t.marshal(token, body)
	if err := t.network.Send(buf, to); err != nil {
		t.log.Debug("response send failed", utils.Stringer("to", to), utils.Err(err))
	}
}

// handleNewResponse forwards an inbound response to the router.
func (t *tracker) handleNewResponse(sender netip.AddrPort, h message.Header, r *message.Reader) {
	t.router.handleNewResponse(sender, h, r)
}

func (t *tracker) marshal(token id.ID, body message.Body) []byte {
	return message.Marshal(message.Header{
		Version:     message.Version,
		Type:        body.MessageType(),
		SourceID:    t.myID,
		RandomToken: token,
	}, body)
}
