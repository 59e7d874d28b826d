// Package network binds the UDP sockets and resolves endpoint names.
// One socket per address family; inbound datagrams are posted onto the
// event loop so the engine stays single-threaded.
package network

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/nmxmxh/kadstore/internal/event"
	"github.com/nmxmxh/kadstore/kaderror"
	"github.com/nmxmxh/kadstore/utils"
)

const (
	// DefaultPort is the well-known kademlia UDP port for both families.
	DefaultPort = 27980
	// MaxDatagramSize is the largest datagram a peer may send.
	MaxDatagramSize = 65535
)

// Handler consumes inbound datagrams on the event loop. The data slice
// is owned by the handler.
type Handler func(sender netip.AddrPort, data []byte)

// UDPNetwork owns the IPv4 and IPv6 sockets.
type UDPNetwork struct {
	conn4   *net.UDPConn
	conn6   *net.UDPConn
	loop    *event.Loop
	handler Handler
	log     *utils.Logger
}

// NewUDPNetwork resolves both listen endpoints and binds one socket per
// family. The handler runs on the loop for every inbound datagram.
func NewUDPNetwork(ipv4Host, ipv4Service, ipv6Host, ipv6Service string, loop *event.Loop, handler Handler, log *utils.Logger) (*UDPNetwork, error) {
	if log == nil {
		log = utils.QuietLogger("network")
	}

	conn4, err := bind("udp4", ipv4Host, ipv4Service, func(a netip.Addr) bool { return a.Is4() || a.Is4In6() })
	if err != nil {
		return nil, kaderror.Wrap(kaderror.CodeInvalidIPv4Address, "cannot listen on IPv4 endpoint", err)
	}
	conn6, err := bind("udp6", ipv6Host, ipv6Service, func(a netip.Addr) bool { return a.Is6() && !a.Is4In6() })
	if err != nil {
		conn4.Close()
		return nil, kaderror.Wrap(kaderror.CodeInvalidIPv6Address, "cannot listen on IPv6 endpoint", err)
	}

	return &UDPNetwork{
		conn4:   conn4,
		conn6:   conn6,
		loop:    loop,
		handler: handler,
		log:     log,
	}, nil
}

func bind(family, host, service string, match func(netip.Addr) bool) (*net.UDPConn, error) {
	candidates, err := ResolveEndpoint(host, service)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if !match(c.Addr()) {
			continue
		}
		conn, err := net.ListenUDP(family, net.UDPAddrFromAddrPort(c))
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return nil, errors.New("no address of the requested family")
}

// ResolveEndpoint resolves a host and service name into the candidate
// UDP endpoints. Hosts may be names or address literals; services may
// be numeric or services-database names.
func ResolveEndpoint(host, service string) ([]netip.AddrPort, error) {
	port, err := net.LookupPort("udp", service)
	if err != nil {
		return nil, err
	}
	addrs, err := net.DefaultResolver.LookupNetIP(context.Background(), "ip", host)
	if err != nil {
		return nil, err
	}
	endpoints := make([]netip.AddrPort, 0, len(addrs))
	for _, a := range addrs {
		endpoints = append(endpoints, netip.AddrPortFrom(a.Unmap(), uint16(port)))
	}
	return endpoints, nil
}

// Start spawns one reader per socket. Each datagram is copied and
// posted to the loop.
func (n *UDPNetwork) Start() {
	go n.receiveLoop(n.conn4)
	go n.receiveLoop(n.conn6)
}

func (n *UDPNetwork) receiveLoop(conn *net.UDPConn) {
	buf := make([]byte, MaxDatagramSize)
	for {
		size, sender, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			// Socket closed during shutdown.
			return
		}
		data := make([]byte, size)
		copy(data, buf[:size])
		from := netip.AddrPortFrom(sender.Addr().Unmap(), sender.Port())
		n.loop.Post(func() {
			n.handler(from, data)
		})
	}
}

// Send writes a datagram to the peer, choosing the socket matching the
// destination family.
func (n *UDPNetwork) Send(data []byte, to netip.AddrPort) error {
	conn := n.conn6
	if to.Addr().Is4() || to.Addr().Is4In6() {
		conn = n.conn4
	}
	_, err := conn.WriteToUDPAddrPort(data, to)
	if err != nil {
		n.log.Warn("send failed", utils.Stringer("to", to), utils.Err(err))
	}
	return err
}

// Close shuts both sockets down; the readers exit on their next
// receive.
func (n *UDPNetwork) Close() {
	n.conn4.Close()
	n.conn6.Close()
}

// LocalPort4 reports the bound IPv4 port, useful when listening on an
// ephemeral port.
func (n *UDPNetwork) LocalPort4() uint16 {
	return uint16(n.conn4.LocalAddr().(*net.UDPAddr).Port)
}
