package engine

import (
	"net/netip"
	"time"

	"github.com/nmxmxh/kadstore/internal/event"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/internal/message"
	"github.com/nmxmxh/kadstore/kaderror"
	"github.com/nmxmxh/kadstore/utils"
)

// responseCallback consumes a response matched to a pending request.
// The reader is positioned at the start of the body.
type responseCallback func(sender netip.AddrPort, h message.Header, r *message.Reader)

// errorCallback consumes a request failure: a timeout or a send error.
type errorCallback func(err error)

// responseRouter correlates the random token of an inbound response
// back to the code that sent the request, enforcing one outcome per
// registration.
//
// Removal from the token map is the synchronization point: whichever of
// the response path and the timeout path removes the entry first wins,
// and the loser becomes a no-op. This is what guarantees that exactly
// one of onResponse and onError fires.
type responseRouter struct {
	callbacks map[id.ID]responseCallback
	timer     *event.Timer
	log       *utils.Logger
}

func newResponseRouter(timer *event.Timer, log *utils.Logger) *responseRouter {
	return &responseRouter{
		callbacks: make(map[id.ID]responseCallback),
		timer:     timer,
		log:       log,
	}
}

// register associates a token with its response callback and schedules
// the timeout. Tokens are freshly drawn at random; registering the same
// token twice is a programming error.
func (rr *responseRouter) register(token id.ID, ttl time.Duration, onResponse responseCallback, onError errorCallback) {
	rr.callbacks[token] = onResponse

	rr.timer.ExpiresFromNow(ttl, func() {
		// If the callback is still registered, the response never
		// arrived: report the timeout.
		if rr.remove(token) {
			onError(kaderror.TimedOut)
		}
	})
}

func (rr *responseRouter) remove(token id.ID) bool {
	if _, ok := rr.callbacks[token]; !ok {
		return false
	}
	delete(rr.callbacks, token)
	return true
}

// dispatch routes a response to its waiter, consuming the registration.
func (rr *responseRouter) dispatch(sender netip.AddrPort, h message.Header, r *message.Reader) error {
	cb, ok := rr.callbacks[h.RandomToken]
	if !ok {
		return kaderror.UnassociatedMessageID
	}
	delete(rr.callbacks, h.RandomToken)
	cb(sender, h, r)
	return nil
}

// handleNewResponse dispatches and drops unassociated responses.
func (rr *responseRouter) handleNewResponse(sender netip.AddrPort, h message.Header, r *message.Reader) {
	if err := rr.dispatch(sender, h, r); err != nil {
		rr.log.Debug("dropping unknown response", utils.Stringer("from", sender))
	}
}

// pendingCount reports the number of live waiters.
func (rr *responseRouter) pendingCount() int {
	return len(rr.callbacks)
}
