package engine

import (
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"

	"github.com/nmxmxh/kadstore/internal/event"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/internal/message"
	"github.com/nmxmxh/kadstore/kaderror"
)

const routerTTL = 20 * time.Millisecond

type routerRig struct {
	loop   *event.Loop
	clock  *clock.Mock
	router *responseRouter
}

func newRouterRig() *routerRig {
	loop := event.NewLoop()
	mock := clock.NewMock()
	return &routerRig{
		loop:   loop,
		clock:  mock,
		router: newResponseRouter(event.NewTimer(mock, loop), testLogger()),
	}
}

func responseHeader(token id.ID) message.Header {
	return message.Header{
		Version:     message.Version,
		Type:        message.FindPeerResponse,
		RandomToken: token,
	}
}

func TestResponseRouter_DispatchConsumesRegistration(t *testing.T) {
	rig := newRouterRig()
	token := id.Hash([]byte("token"))
	sender := netip.MustParseAddrPort("10.0.0.1:27980")

	responses, failures := 0, 0
	rig.router.register(token, routerTTL,
		func(s netip.AddrPort, h message.Header, r *message.Reader) {
			responses++
			assert.Equal(t, sender, s)
		},
		func(err error) { failures++ })
	assert.Equal(t, 1, rig.router.pendingCount())

	err := rig.router.dispatch(sender, responseHeader(token), message.NewReader(nil))
	assert.NoError(t, err)
	assert.Equal(t, 1, responses)
	assert.Zero(t, rig.router.pendingCount())

	// A duplicate response finds no waiter.
	err = rig.router.dispatch(sender, responseHeader(token), message.NewReader(nil))
	assert.ErrorIs(t, err, kaderror.UnassociatedMessageID)
	assert.Equal(t, 1, responses)

	// The timer fires later but the waiter is gone: no error callback.
	rig.clock.Add(routerTTL)
	rig.loop.Poll()
	assert.Zero(t, failures)
}

func TestResponseRouter_TimeoutFiresOnce(t *testing.T) {
	rig := newRouterRig()
	token := id.Hash([]byte("token"))

	responses, failures := 0, 0
	var failure error
	rig.router.register(token, routerTTL,
		func(netip.AddrPort, message.Header, *message.Reader) { responses++ },
		func(err error) {
			failures++
			failure = err
		})

	rig.clock.Add(routerTTL)
	rig.loop.Poll()

	assert.Zero(t, responses)
	assert.Equal(t, 1, failures)
	assert.ErrorIs(t, failure, kaderror.TimedOut)
	assert.Zero(t, rig.router.pendingCount())

	// A late response after the timeout finds no waiter.
	err := rig.router.dispatch(netip.MustParseAddrPort("10.0.0.1:1"), responseHeader(token), message.NewReader(nil))
	assert.ErrorIs(t, err, kaderror.UnassociatedMessageID)
	assert.Zero(t, responses)
}

func TestResponseRouter_UnknownTokenIsUnassociated(t *testing.T) {
	rig := newRouterRig()

	err := rig.router.dispatch(netip.MustParseAddrPort("10.0.0.1:1"),
		responseHeader(id.Hash([]byte("never registered"))), message.NewReader(nil))
	assert.ErrorIs(t, err, kaderror.UnassociatedMessageID)
}

func TestResponseRouter_WaitersAreIndependent(t *testing.T) {
	rig := newRouterRig()
	first := id.Hash([]byte("first"))
	second := id.Hash([]byte("second"))

	firstResponded, secondFailed := false, false
	rig.router.register(first, routerTTL,
		func(netip.AddrPort, message.Header, *message.Reader) { firstResponded = true },
		func(error) { t.Fatal("first waiter must not fail") })
	rig.router.register(second, 2*routerTTL,
		func(netip.AddrPort, message.Header, *message.Reader) { t.Fatal("second waiter must not respond") },
		func(error) { secondFailed = true })
	assert.Equal(t, 2, rig.router.pendingCount())

	rig.router.handleNewResponse(netip.MustParseAddrPort("10.0.0.1:1"),
		responseHeader(first), message.NewReader(nil))
	assert.True(t, firstResponded)
	assert.Equal(t, 1, rig.router.pendingCount())

	rig.clock.Add(2 * routerTTL)
	rig.loop.Poll()
	assert.True(t, secondFailed)
	assert.Zero(t, rig.router.pendingCount())
}
