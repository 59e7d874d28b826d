// Package routing keeps track of known peers and finds the ones
// closest to an identifier.
package routing

import (
	"fmt"
	"strings"

	"github.com/nmxmxh/kadstore/internal/common"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/utils"
)

// DefaultBucketSize is the k parameter: the capacity of each bucket
// and the count of peers returned to find-peer requests.
const DefaultBucketSize = 20

// Table is the bucketed peer cache. Bucket i holds peers whose
// identifier first differs from the local identifier at bit i, so
// higher-indexed buckets cover smaller, closer slices of the keyspace.
//
// Only the current "largest" bucket may grow past the bucket size;
// every other full bucket rejects inserts. The largest index moves
// forward on overflow and is never moved back on removal, so the table
// splits less aggressively than it could. Liveness comes from the
// find-path queries continuously refreshing buckets.
type Table struct {
	localID      id.ID
	buckets      [][]common.Peer
	bucketSize   int
	peerCount    int
	largestIndex int
	log          *utils.Logger
}

// NewTable creates a routing table owned by the given local identifier.
func NewTable(localID id.ID, bucketSize int, log *utils.Logger) *Table {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	if log == nil {
		log = utils.QuietLogger("routing")
	}
	t := &Table{
		localID:    localID,
		buckets:    make([][]common.Peer, id.BitSize),
		bucketSize: bucketSize,
		log:        log,
	}
	t.log.Debug("routing table created", utils.Stringer("id", localID))
	return t
}

// PeerCount returns the number of peers across all buckets.
func (t *Table) PeerCount() int {
	return t.peerCount
}

// Push registers a peer. It reports false when the identifier is
// already known or the target bucket is full and not the splittable
// largest bucket.
func (t *Table) Push(p common.Peer) bool {
	index := t.bucketIndex(p.ID)
	bucket := t.buckets[index]

	if len(bucket) == t.bucketSize {
		t.updateLargestIndex(index)
		if index != t.largestIndex {
			return false
		}
	}

	for _, known := range bucket {
		if known.ID == p.ID {
			return false
		}
	}

	t.buckets[index] = append(bucket, p)
	t.peerCount++
	t.log.Debug("peer pushed", utils.Stringer("peer", p), utils.Int("bucket", index))
	return true
}

// Remove drops a peer by identifier, reporting whether it was known.
func (t *Table) Remove(peerID id.ID) bool {
	index := t.bucketIndex(peerID)
	bucket := t.buckets[index]
	for i, known := range bucket {
		if known.ID == peerID {
			t.buckets[index] = append(bucket[:i], bucket[i+1:]...)
			t.peerCount--
			return true
		}
	}
	return false
}

// EachClosest visits known peers in increasing XOR distance from the
// target, starting in the target's bucket and walking down through
// lower-indexed buckets. The visitor returns false to stop early.
func (t *Table) EachClosest(target id.ID, visit func(common.Peer) bool) {
	index := t.bucketIndex(target)
	if lowest := t.lowestBucketIndex(); lowest > index {
		index = lowest
	}

	for i := index; i >= 0; i-- {
		for _, p := range t.buckets[i] {
			if !visit(p) {
				return
			}
		}
	}
}

// ClosestTo returns up to max peers ordered closest-first from the
// target's bucket downward.
func (t *Table) ClosestTo(target id.ID, max int) []common.Peer {
	var peers []common.Peer
	t.EachClosest(target, func(p common.Peer) bool {
		peers = append(peers, p)
		return len(peers) < max
	})
	return peers
}

// bucketIndex is the index of the first bit where the identifier
// differs from the local identifier, saturating at the last bucket.
func (t *Table) bucketIndex(target id.ID) int {
	index := 0
	for index < id.BitSize-1 && target.Bit(index) == t.localID.Bit(index) {
		index++
	}
	return index
}

// lowestBucketIndex bounds find() starts so that sparse tables begin
// iterating where peers actually are.
func (t *Table) lowestBucketIndex() int {
	i, last := 0, len(t.buckets)-1
	for count := 0; i != last && count <= t.bucketSize; i++ {
		count += len(t.buckets[i])
	}
	return i
}

func (t *Table) updateLargestIndex(index int) {
	if len(t.buckets[t.largestIndex]) <= t.bucketSize {
		t.largestIndex = index
	}
}

// String dumps the table in a JSON shape for diagnostics.
func (t *Table) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{\n")
	fmt.Fprintf(&b, "\t%q: %q,\n", "id", t.localID.String())
	fmt.Fprintf(&b, "\t%q: %d,\n", "peer_count", t.peerCount)
	fmt.Fprintf(&b, "\t%q: %d,\n", "bucket_size", t.bucketSize)
	fmt.Fprintf(&b, "\t%q: [\n", "buckets")
	for i := range t.buckets {
		bit := 0
		if t.localID.Bit(i) {
			bit = 1
		}
		fmt.Fprintf(&b, "\t{\"index\": %d, \"bit_value\": %d, \"peer_count\": %d}\n",
			i, bit, len(t.buckets[i]))
	}
	fmt.Fprintf(&b, "\t]\n}")
	return b.String()
}
