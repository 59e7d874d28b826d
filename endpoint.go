package kadstore

import (
	"fmt"
	"net"
	"strconv"

	"github.com/nmxmxh/kadstore/internal/network"
)

// DefaultPort is the well-known kademlia UDP port for both address
// families.
const DefaultPort = network.DefaultPort

// Endpoint names a UDP endpoint before resolution: a host (name or
// address literal) and a service (numeric port or services-database
// name). Resolution happens through the transport when the session is
// built.
type Endpoint struct {
	Address string
	Service string
}

// NewEndpoint builds an endpoint from a host and a numeric port.
func NewEndpoint(address string, port uint16) Endpoint {
	return Endpoint{Address: address, Service: strconv.Itoa(int(port))}
}

// ParseEndpoint accepts the textual forms `A.B.C.D:PORT` and
// `[x:x::x]:PORT`, where PORT is numeric or a service name.
func ParseEndpoint(s string) (Endpoint, error) {
	host, service, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("malformed endpoint %q: %w", s, err)
	}
	return Endpoint{Address: host, Service: service}, nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, e.Service)
}
