package engine

import (
	"net/netip"
	"time"

	"github.com/nmxmxh/kadstore/internal/common"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/internal/message"
	"github.com/nmxmxh/kadstore/internal/routing"
	"github.com/nmxmxh/kadstore/kaderror"
	"github.com/nmxmxh/kadstore/utils"
)

// LoadCallback receives the outcome of a find-value operation, exactly
// once: the value, or an error such as ValueNotFound.
type LoadCallback func(value []byte, err error)

// findValueTask walks the keyspace toward the key until a peer returns
// the value or the candidate set runs dry.
//
// The finished latch suppresses every callback once the caller has been
// notified: responses racing with timeouts may both arrive, but only
// the first outcome is delivered.
type findValueTask struct {
	lookupTask
	tracker  *tracker
	timeout  time.Duration
	handler  LoadCallback
	finished bool
	log      *utils.Logger
}

func startFindValueTask(key id.ID, tr *tracker, table *routing.Table, timeout time.Duration, log *utils.Logger, handler LoadCallback) {
	t := &findValueTask{
		lookupTask: newLookupTask(key, table.ClosestTo(key, routing.DefaultBucketSize)),
		tracker:    tr,
		timeout:    timeout,
		handler:    handler,
		log:        log,
	}
	t.log.Debug("find value task started", utils.Stringer("key", key))
	t.tryCandidates()
}

func (t *findValueTask) notifyValue(value []byte) {
	t.handler(value, nil)
	t.finished = true
}

func (t *findValueTask) notifyError(err error) {
	t.handler(nil, err)
	t.finished = true
}

// tryCandidates launches the next round of requests. When nothing is in
// flight and no unknown candidate remains, the value is not findable.
func (t *findValueTask) tryCandidates() {
	request := message.FindValueRequestBody{Target: t.Key()}
	for _, c := range t.selectNewClosest(concurrentFindPeerRequests) {
		t.sendFindValueRequest(request, c)
	}

	if t.allRequestsCompleted() {
		t.notifyError(kaderror.ValueNotFound)
	}
}

func (t *findValueTask) sendFindValueRequest(request message.FindValueRequestBody, c common.Peer) {
	t.log.Debug("sending find value request", utils.Stringer("to", c))

	onResponse := func(sender netip.AddrPort, h message.Header, r *message.Reader) {
		if t.finished {
			return
		}
		t.markResponded(c.ID)
		t.handleResponse(h, r)
	}
	onError := func(err error) {
		if t.finished {
			return
		}
		t.markInvalid(c.ID)
		t.tryCandidates()
	}

	t.tracker.sendRequest(request, c.Addr, t.timeout, onResponse, onError)
}

func (t *findValueTask) handleResponse(h message.Header, r *message.Reader) {
	switch h.Type {
	case message.FindPeerResponse:
		// The peer does not know the value but told us about closer
		// peers.
		t.addCloserPeers(r)
	case message.FindValueResponse:
		t.processFoundValue(r)
	}
}

func (t *findValueTask) addCloserPeers(r *message.Reader) {
	var response message.FindPeerResponseBody
	if err := response.DecodeFrom(r); err != nil {
		t.log.Debug("dropping corrupt find peer response", utils.Err(err))
	} else {
		t.addCandidates(response.Peers)
	}
	t.tryCandidates()
}

func (t *findValueTask) processFoundValue(r *message.Reader) {
	var response message.FindValueResponseBody
	if err := response.DecodeFrom(r); err != nil {
		t.log.Debug("dropping corrupt find value response", utils.Err(err))
		t.tryCandidates()
		return
	}
	t.log.Debug("value found", utils.Stringer("key", t.Key()))
	t.notifyValue(response.Value)
}
