// Package common holds the small data types shared by the routing
// table, the wire codec and the engine.
package common

import (
	"fmt"
	"net/netip"

	"github.com/nmxmxh/kadstore/internal/id"
)

// Peer pairs a peer identifier with the UDP endpoint it listens on.
// Peers compare by identifier.
type Peer struct {
	ID   id.ID
	Addr netip.AddrPort
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.ID, p.Addr)
}

// Equal reports identifier equality, the peer identity relation.
func (p Peer) Equal(o Peer) bool {
	return p.ID == o.ID
}
