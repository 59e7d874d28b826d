// Package engine wires the transport to the routing table and the
// request/response machinery, and runs the four iterative kademlia
// operations. Everything here executes on one event loop; no locking.
package engine

import (
	"io"
	"net/netip"
	"time"

	"github.com/nmxmxh/kadstore/internal/common"
	"github.com/nmxmxh/kadstore/internal/event"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/internal/message"
	"github.com/nmxmxh/kadstore/internal/routing"
	"github.com/nmxmxh/kadstore/internal/storage"
	"github.com/nmxmxh/kadstore/utils"
)

// Config tunes an engine. Zero values select the defaults.
type Config struct {
	BucketSize            int
	PeerLookupTimeout     time.Duration
	InitialContactTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BucketSize == 0 {
		c.BucketSize = routing.DefaultBucketSize
	}
	if c.PeerLookupTimeout == 0 {
		c.PeerLookupTimeout = peerLookupTimeout
	}
	if c.InitialContactTimeout == 0 {
		c.InitialContactTimeout = initialContactTimeout
	}
	return c
}

// Engine owns the routing table, the value store, the tracker and the
// queue of user operations deferred until the participant is connected.
type Engine struct {
	myID    id.ID
	loop    *event.Loop
	tracker *tracker
	table   *routing.Table
	store   *storage.ValueStore
	cfg     Config
	log     *utils.Logger

	// connected flips on the first inbound message, after which the
	// pending queue drains.
	connected bool
	pending   []func()
}

// New creates an engine. The network is attached separately because the
// transport's inbound handler needs the engine to exist first.
func New(myID id.ID, loop *event.Loop, timer *event.Timer, rng io.Reader, cfg Config, log *utils.Logger) *Engine {
	if log == nil {
		log = utils.QuietLogger("engine")
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		myID:  myID,
		loop:  loop,
		table: routing.NewTable(myID, cfg.BucketSize, log.Component("routing")),
		store: storage.NewValueStore(),
		cfg:   cfg,
		log:   log,
	}
	router := newResponseRouter(timer, log.Component("router"))
	e.tracker = newTracker(myID, router, nil, rng, loop, log.Component("tracker"))
	return e
}

// AttachNetwork plugs in the transport. Must happen before any message
// flows.
func (e *Engine) AttachNetwork(n Network) {
	e.tracker.network = n
}

// ID returns the local identifier.
func (e *Engine) ID() id.ID {
	return e.myID
}

// Table exposes the routing table for diagnostics.
func (e *Engine) Table() *routing.Table {
	return e.table
}

// Bootstrap schedules the initial contact against the resolved
// endpoints of the bootstrap peer. Runs once the loop starts; failure
// to reach any endpoint stops the loop with the error.
func (e *Engine) Bootstrap(endpoints []netip.AddrPort) {
	e.loop.Post(func() {
		e.discoverNeighbors(endpoints)
	})
}

// AsyncSave publishes a value under a key. While the participant is not
// yet connected the operation is queued; the handler fires exactly once
// either way. Must run on the loop.
func (e *Engine) AsyncSave(key, data []byte, handler SaveCallback) {
	if !e.connected {
		e.log.Debug("delaying save", utils.String("key", string(key)))
		e.pending = append(e.pending, func() {
			e.AsyncSave(key, data, handler)
		})
		return
	}

	startStoreValueTask(id.Hash(key), data, e.tracker, e.table,
		e.cfg.PeerLookupTimeout, e.log.Component("store-task"), handler)
}

// AsyncLoad retrieves the value stored under a key. Queued while
// disconnected, like AsyncSave.
func (e *Engine) AsyncLoad(key []byte, handler LoadCallback) {
	if !e.connected {
		e.log.Debug("delaying load", utils.String("key", string(key)))
		e.pending = append(e.pending, func() {
			e.AsyncLoad(key, handler)
		})
		return
	}

	startFindValueTask(id.Hash(key), e.tracker, e.table,
		e.cfg.PeerLookupTimeout, e.log.Component("find-task"), handler)
}

// HandleNewMessage decodes an inbound datagram, learns its sender and
// dispatches it. Malformed datagrams are dropped. Runs on the loop.
func (e *Engine) HandleNewMessage(sender netip.AddrPort, data []byte) {
	r := message.NewReader(data)
	h, err := message.DecodeHeader(r)
	if err != nil {
		e.log.Debug("dropping malformed datagram", utils.Stringer("from", sender), utils.Err(err))
		return
	}

	e.table.Push(common.Peer{ID: h.SourceID, Addr: sender})

	e.processNewMessage(sender, h, r)

	// A message has been received, so the overlay is reachable; run
	// whatever the user asked for while we were isolated.
	if !e.connected {
		e.connected = true
		e.executePendingTasks()
	}
}

func (e *Engine) processNewMessage(sender netip.AddrPort, h message.Header, r *message.Reader) {
	switch h.Type {
	case message.PingRequest:
		e.handlePingRequest(sender, h)
	case message.StoreRequest:
		e.handleStoreRequest(r)
	case message.FindPeerRequest:
		e.handleFindPeerRequest(sender, h, r)
	case message.FindValueRequest:
		e.handleFindValueRequest(sender, h, r)
	default:
		e.tracker.handleNewResponse(sender, h, r)
	}
}

func (e *Engine) handlePingRequest(sender netip.AddrPort, h message.Header) {
	e.tracker.sendResponse(h.RandomToken, message.PingResponseBody{}, sender)
}

func (e *Engine) handleStoreRequest(r *message.Reader) {
	var request message.StoreValueRequestBody
	if err := request.DecodeFrom(r); err != nil {
		e.log.Debug("dropping corrupt store request", utils.Err(err))
		return
	}
	e.store.Put(request.KeyHash, request.Value)
}

func (e *Engine) handleFindPeerRequest(sender netip.AddrPort, h message.Header, r *message.Reader) {
	var request message.FindPeerRequestBody
	if err := request.DecodeFrom(r); err != nil {
		e.log.Debug("dropping corrupt find peer request", utils.Err(err))
		return
	}
	e.sendFindPeerResponse(sender, h.RandomToken, request.Target)
}

func (e *Engine) handleFindValueRequest(sender netip.AddrPort, h message.Header, r *message.Reader) {
	var request message.FindValueRequestBody
	if err := request.DecodeFrom(r); err != nil {
		e.log.Debug("dropping corrupt find value request", utils.Err(err))
		return
	}

	value, found := e.store.Get(request.Target)
	if !found {
		// Unknown key: answer like a find-peer request so the caller
		// can keep walking.
		e.sendFindPeerResponse(sender, h.RandomToken, request.Target)
		return
	}
	e.tracker.sendResponse(h.RandomToken, message.FindValueResponseBody{Value: value}, sender)
}

func (e *Engine) sendFindPeerResponse(sender netip.AddrPort, token id.ID, target id.ID) {
	response := message.FindPeerResponseBody{
		Peers: e.table.ClosestTo(target, e.cfg.BucketSize),
	}
	e.tracker.sendResponse(token, &response, sender)
}

func (e *Engine) discoverNeighbors(endpoints []netip.AddrPort) {
	onComplete := func(err error) {
		if err != nil {
			e.loop.Fail(err)
			return
		}
		e.notifyNeighbors()
	}

	startDiscoverNeighborsTask(e.myID, e.tracker, e.table, endpoints,
		e.cfg.InitialContactTimeout, e.log.Component("discover-task"), onComplete)
}

// notifyNeighbors refreshes every bucket between the closest neighbor
// and the farthest by looking up the local identifier with one bit
// flipped per bucket.
func (e *Engine) notifyNeighbors() {
	neighbor, ok := e.closestNeighborID()
	if !ok {
		return
	}

	i := id.BitSize - 1
	for i > 0 && neighbor.Bit(i) == e.myID.Bit(i) {
		i--
	}

	refreshID := e.myID
	for ; i > 0; i-- {
		refreshID.SetBit(i, !refreshID.Bit(i))
		startNotifyPeerTask(refreshID, e.tracker, e.table,
			e.cfg.PeerLookupTimeout, e.log.Component("notify-task"))
	}
}

func (e *Engine) closestNeighborID() (id.ID, bool) {
	var neighbor id.ID
	found := false
	e.table.EachClosest(e.myID, func(p common.Peer) bool {
		if p.ID == e.myID {
			return true
		}
		neighbor = p.ID
		found = true
		return false
	})
	return neighbor, found
}

func (e *Engine) executePendingTasks() {
	e.log.Debug("executing pending tasks", utils.Int("count", len(e.pending)))
	for len(e.pending) > 0 {
		task := e.pending[0]
		e.pending = e.pending[1:]
		task()
	}
}
