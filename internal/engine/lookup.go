package engine

import (
	"sort"
	"time"

	"github.com/nmxmxh/kadstore/internal/common"
	"github.com/nmxmxh/kadstore/internal/id"
)

// Iteration parameters. Design constants, not runtime options.
const (
	// concurrentFindPeerRequests is alpha, the number of find-peer
	// requests kept in flight per round.
	concurrentFindPeerRequests = 3
	// redundantSaveCount is c, the number of peers a value is
	// replicated to.
	redundantSaveCount = 3

	// peerLookupTimeout bounds each request of an iterative lookup.
	peerLookupTimeout = time.Second
	// initialContactTimeout bounds the first exchange with a bootstrap
	// endpoint.
	initialContactTimeout = time.Second
)

type candidateState int

const (
	stateUnknown candidateState = iota
	stateContacted
	stateResponded
	stateTimedOut
)

type candidate struct {
	peer  common.Peer
	state candidateState
}

// lookupTask is the closest-first exploration state machine shared by
// every iterative operation. Candidates are keyed by their XOR distance
// to the target key so iteration yields them closest-first; timed-out
// candidates stay in the set, bounding memory to the distinct peers
// encountered.
type lookupTask struct {
	key      id.ID
	inFlight int

	// distances is kept sorted; byDistance holds the candidate states.
	distances  []id.ID
	byDistance map[id.ID]*candidate
}

func newLookupTask(key id.ID, seed []common.Peer) lookupTask {
	t := lookupTask{
		key:        key,
		byDistance: make(map[id.ID]*candidate),
	}
	for _, p := range seed {
		t.addCandidate(p)
	}
	return t
}

func (t *lookupTask) Key() id.ID {
	return t.key
}

// addCandidates merges peers into the candidate set, skipping ones
// already present. It reports whether a strictly closer candidate than
// the previous closest was learned.
func (t *lookupTask) addCandidates(peers []common.Peer) bool {
	var previousClosest id.ID
	hadAny := len(t.distances) > 0
	if hadAny {
		previousClosest = t.distances[0]
	}

	for _, p := range peers {
		t.addCandidate(p)
	}

	return hadAny && t.distances[0].Compare(previousClosest) < 0 ||
		!hadAny && len(t.distances) > 0
}

func (t *lookupTask) addCandidate(p common.Peer) {
	d := id.Distance(p.ID, t.key)
	if _, ok := t.byDistance[d]; ok {
		return
	}
	i := sort.Search(len(t.distances), func(i int) bool {
		return t.distances[i].Compare(d) >= 0
	})
	t.distances = append(t.distances, id.ID{})
	copy(t.distances[i+1:], t.distances[i:])
	t.distances[i] = d
	t.byDistance[d] = &candidate{peer: p, state: stateUnknown}
}

// selectNewClosest marks up to max unknown candidates as contacted,
// closest first, never exceeding max requests in flight, and returns
// the peers to query.
func (t *lookupTask) selectNewClosest(max int) []common.Peer {
	var picked []common.Peer
	for _, d := range t.distances {
		if t.inFlight >= max {
			break
		}
		c := t.byDistance[d]
		if c.state != stateUnknown {
			continue
		}
		c.state = stateContacted
		t.inFlight++
		picked = append(picked, c.peer)
	}
	return picked
}

// selectClosestValid returns up to max responded candidates, closest
// first.
func (t *lookupTask) selectClosestValid(max int) []common.Peer {
	var picked []common.Peer
	for _, d := range t.distances {
		if len(picked) >= max {
			break
		}
		c := t.byDistance[d]
		if c.state == stateResponded {
			picked = append(picked, c.peer)
		}
	}
	return picked
}

// markResponded transitions a contacted candidate and releases its
// in-flight slot. Unknown identifiers and candidates not currently
// contacted are ignored.
func (t *lookupTask) markResponded(candidateID id.ID) {
	t.transition(candidateID, stateResponded)
}

// markInvalid transitions a contacted candidate to timed-out and
// releases its in-flight slot.
func (t *lookupTask) markInvalid(candidateID id.ID) {
	t.transition(candidateID, stateTimedOut)
}

func (t *lookupTask) transition(candidateID id.ID, to candidateState) {
	c, ok := t.byDistance[id.Distance(candidateID, t.key)]
	if !ok || c.state != stateContacted {
		return
	}
	t.inFlight--
	c.state = to
}

// allRequestsCompleted reports whether no request is in flight.
func (t *lookupTask) allRequestsCompleted() bool {
	return t.inFlight == 0
}
