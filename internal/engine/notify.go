package engine

import (
	"net/netip"
	"time"

	"github.com/nmxmxh/kadstore/internal/common"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/internal/message"
	"github.com/nmxmxh/kadstore/internal/routing"
	"github.com/nmxmxh/kadstore/utils"
)

// notifyPeerTask refreshes a bucket by walking toward a derived target
// identifier. There is no user-visible callback: the payoff is the
// engine's inbound handling pushing every responder and learned peer
// into the routing table.
type notifyPeerTask struct {
	lookupTask
	tracker *tracker
	timeout time.Duration
	log     *utils.Logger
}

func startNotifyPeerTask(key id.ID, tr *tracker, table *routing.Table, timeout time.Duration, log *utils.Logger) {
	t := &notifyPeerTask{
		lookupTask: newLookupTask(key, table.ClosestTo(key, routing.DefaultBucketSize)),
		tracker:    tr,
		timeout:    timeout,
		log:        log,
	}
	t.log.Debug("notify peer task started", utils.Stringer("key", key))
	t.tryToNotifyNeighbors()
}

func (t *notifyPeerTask) tryToNotifyNeighbors() {
	request := message.FindPeerRequestBody{Target: t.Key()}
	for _, c := range t.selectNewClosest(concurrentFindPeerRequests) {
		t.sendNotifyPeerRequest(request, c)
	}
}

func (t *notifyPeerTask) sendNotifyPeerRequest(request message.FindPeerRequestBody, c common.Peer) {
	t.log.Debug("sending find peer to notify", utils.Stringer("to", c))

	onResponse := func(sender netip.AddrPort, h message.Header, r *message.Reader) {
		t.markResponded(c.ID)
		t.handleNotifyPeerResponse(h, r)
	}
	onError := func(err error) {
		t.markInvalid(c.ID)
	}

	t.tracker.sendRequest(request, c.Addr, t.timeout, onResponse, onError)
}

func (t *notifyPeerTask) handleNotifyPeerResponse(h message.Header, r *message.Reader) {
	if h.Type != message.FindPeerResponse {
		return
	}

	var response message.FindPeerResponseBody
	if err := response.DecodeFrom(r); err != nil {
		t.log.Debug("dropping corrupt find peer response", utils.Err(err))
		return
	}

	// Newly discovered candidates keep the refresh walking.
	t.addCandidates(response.Peers)
	t.tryToNotifyNeighbors()
}
