package engine

import (
	"net/netip"
	"time"

	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/internal/message"
	"github.com/nmxmxh/kadstore/internal/routing"
	"github.com/nmxmxh/kadstore/kaderror"
	"github.com/nmxmxh/kadstore/utils"
)

// discoverNeighborsTask performs the initial contact: it asks a
// bootstrap endpoint for the peers closest to the local identifier and
// seeds the routing table with the answer. Each endpoint from the
// resolved contact list is tried in turn; exhausting the list is fatal.
type discoverNeighborsTask struct {
	myID       id.ID
	tracker    *tracker
	table      *routing.Table
	endpoints  []netip.AddrPort
	timeout    time.Duration
	onComplete func(err error)
	log        *utils.Logger
}

func startDiscoverNeighborsTask(myID id.ID, tr *tracker, table *routing.Table, endpoints []netip.AddrPort, timeout time.Duration, log *utils.Logger, onComplete func(err error)) {
	t := &discoverNeighborsTask{
		myID:       myID,
		tracker:    tr,
		table:      table,
		endpoints:  endpoints,
		timeout:    timeout,
		onComplete: onComplete,
		log:        log,
	}
	t.log.Debug("discover neighbors task started", utils.Int("endpoints", len(endpoints)))
	t.searchOurselves()
}

func (t *discoverNeighborsTask) searchOurselves() {
	if len(t.endpoints) == 0 {
		t.onComplete(kaderror.InitialPeerFailedToRespond)
		return
	}

	endpoint := t.endpoints[len(t.endpoints)-1]
	t.endpoints = t.endpoints[:len(t.endpoints)-1]

	onResponse := func(sender netip.AddrPort, h message.Header, r *message.Reader) {
		t.handleInitialContactResponse(h, r)
	}
	onError := func(err error) {
		t.searchOurselves()
	}

	t.tracker.sendRequest(message.FindPeerRequestBody{Target: t.myID}, endpoint,
		t.timeout, onResponse, onError)
}

func (t *discoverNeighborsTask) handleInitialContactResponse(h message.Header, r *message.Reader) {
	if h.Type != message.FindPeerResponse {
		return
	}

	var response message.FindPeerResponseBody
	if err := response.DecodeFrom(r); err != nil {
		t.log.Debug("dropping corrupt find peer response", utils.Err(err))
		return
	}

	for _, p := range response.Peers {
		t.table.Push(p)
	}
	t.log.Debug("initial peers added", utils.Int("count", len(response.Peers)))

	t.onComplete(nil)
}
