package kadstore

import (
	"time"

	"github.com/nmxmxh/kadstore/utils"
)

// Config describes a participant. The zero value of every optional
// field selects the default; only the listen endpoints are required,
// and DefaultConfig fills those too.
type Config struct {
	// InitialPeer, when set, is the bootstrap contact. Without it the
	// participant waits to be contacted (a first session).
	InitialPeer *Endpoint

	// ListenIPv4 and ListenIPv6 are the two listen endpoints, one per
	// family. Either may use the any-address.
	ListenIPv4 Endpoint
	ListenIPv6 Endpoint

	// LocalID optionally pins the participant identifier as a hex
	// string of at most 40 characters. Empty means random.
	LocalID string

	// BucketSize overrides the routing-table bucket capacity k.
	BucketSize int

	// PeerLookupTimeout bounds each request of an iterative lookup.
	PeerLookupTimeout time.Duration

	// InitialContactTimeout bounds the first exchange with the
	// bootstrap peer.
	InitialContactTimeout time.Duration

	// Logger receives the participant's diagnostics. Defaults to a
	// quiet warnings-only logger.
	Logger *utils.Logger
}

// DefaultConfig listens on the any-address of both families at the
// default port.
func DefaultConfig() Config {
	return Config{
		ListenIPv4: NewEndpoint("0.0.0.0", DefaultPort),
		ListenIPv6: NewEndpoint("::", DefaultPort),
	}
}
