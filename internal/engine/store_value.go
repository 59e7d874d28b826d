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

// SaveCallback receives the outcome of a store-value operation, exactly
// once.
type SaveCallback func(err error)

// storeValueTask locates the closest live peers to a key with the
// find-peer iteration, then hands each of them the value with a
// fire-and-forget store request.
type storeValueTask struct {
	lookupTask
	tracker *tracker
	data    []byte
	timeout time.Duration
	handler SaveCallback
	log     *utils.Logger
}

func startStoreValueTask(key id.ID, data []byte, tr *tracker, table *routing.Table, timeout time.Duration, log *utils.Logger, handler SaveCallback) {
	t := &storeValueTask{
		lookupTask: newLookupTask(key, table.ClosestTo(key, routing.DefaultBucketSize)),
		tracker:    tr,
		data:       data,
		timeout:    timeout,
		handler:    handler,
		log:        log,
	}
	t.log.Debug("store value task started", utils.Stringer("key", key))
	t.tryToStoreValue()
}

// tryToStoreValue keeps querying closer peers; once no request remains
// in flight the closest responders are known and receive the value.
func (t *storeValueTask) tryToStoreValue() {
	request := message.FindPeerRequestBody{Target: t.Key()}
	for _, c := range t.selectNewClosest(concurrentFindPeerRequests) {
		t.sendFindPeerToStoreRequest(request, c)
	}

	if t.allRequestsCompleted() {
		t.sendStoreRequests()
	}
}

func (t *storeValueTask) sendFindPeerToStoreRequest(request message.FindPeerRequestBody, c common.Peer) {
	t.log.Debug("sending find peer request before store", utils.Stringer("to", c))

	onResponse := func(sender netip.AddrPort, h message.Header, r *message.Reader) {
		t.handleFindPeerToStoreResponse(h, r)
	}
	onError := func(err error) {
		t.markInvalid(c.ID)
		t.tryToStoreValue()
	}

	t.tracker.sendRequest(request, c.Addr, t.timeout, onResponse, onError)
}

func (t *storeValueTask) handleFindPeerToStoreResponse(h message.Header, r *message.Reader) {
	if h.Type != message.FindPeerResponse {
		t.markInvalid(h.SourceID)
		t.tryToStoreValue()
		return
	}

	var response message.FindPeerResponseBody
	if err := response.DecodeFrom(r); err != nil {
		t.log.Debug("dropping corrupt find peer response", utils.Err(err))
		t.markInvalid(h.SourceID)
	} else {
		t.markResponded(h.SourceID)
		t.addCandidates(response.Peers)
	}

	t.tryToStoreValue()
}

// sendStoreRequests replicates the value to the closest responders and
// notifies the caller.
func (t *storeValueTask) sendStoreRequests() {
	candidates := t.selectClosestValid(redundantSaveCount)

	request := message.StoreValueRequestBody{KeyHash: t.Key(), Value: t.data}
	for _, c := range candidates {
		t.log.Debug("sending store request", utils.Stringer("to", c))
		t.tracker.sendFireAndForget(request, c.Addr)
	}

	if len(candidates) == 0 {
		t.handler(kaderror.InitialPeerFailedToRespond)
	} else {
		t.handler(nil)
	}
}
