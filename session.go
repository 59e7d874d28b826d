// Package kadstore is an embeddable peer-to-peer key/value store built
// on the Kademlia distributed hash table. A Session publishes opaque
// byte values under opaque byte keys and retrieves them later; values
// are replicated across the peers closest to each key's hash.
package kadstore

import (
	"crypto/rand"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/nmxmxh/kadstore/internal/engine"
	"github.com/nmxmxh/kadstore/internal/event"
	"github.com/nmxmxh/kadstore/internal/id"
	"github.com/nmxmxh/kadstore/internal/network"
	"github.com/nmxmxh/kadstore/kaderror"
	"github.com/nmxmxh/kadstore/utils"
)

// SaveHandler receives the outcome of AsyncSave, exactly once, on the
// goroutine running Run.
type SaveHandler func(err error)

// LoadHandler receives the outcome of AsyncLoad, exactly once, on the
// goroutine running Run.
type LoadHandler func(data []byte, err error)

// Session is a DHT participant. Create one with NewSession or
// NewFirstSession, then call Run on a dedicated goroutine; AsyncSave,
// AsyncLoad and Abort are safe from any goroutine.
type Session struct {
	loop    *event.Loop
	engine  *engine.Engine
	network *network.UDPNetwork

	// running guards against a second concurrent Run.
	running atomic.Bool
}

// NewSession creates a participant that bootstraps against the given
// initial peer.
func NewSession(initialPeer, listenIPv4, listenIPv6 Endpoint) (*Session, error) {
	cfg := DefaultConfig()
	cfg.InitialPeer = &initialPeer
	cfg.ListenIPv4 = listenIPv4
	cfg.ListenIPv6 = listenIPv6
	return NewSessionWithConfig(cfg)
}

// NewFirstSession creates the first participant of a fresh network. It
// has nobody to bootstrap against and serves as everyone else's
// initial peer.
func NewFirstSession(listenIPv4, listenIPv6 Endpoint) (*Session, error) {
	cfg := DefaultConfig()
	cfg.ListenIPv4 = listenIPv4
	cfg.ListenIPv6 = listenIPv6
	return NewSessionWithConfig(cfg)
}

// NewSessionWithConfig creates a participant from an explicit Config.
func NewSessionWithConfig(cfg Config) (*Session, error) {
	log := cfg.Logger
	if log == nil {
		log = utils.QuietLogger("kademlia")
	}

	var myID id.ID
	var err error
	if cfg.LocalID != "" {
		myID, err = id.FromHex(cfg.LocalID)
	} else {
		myID, err = id.Random(rand.Reader)
	}
	if err != nil {
		return nil, err
	}

	loop := event.NewLoop()
	timer := event.NewTimer(clock.New(), loop)

	eng := engine.New(myID, loop, timer, rand.Reader, engine.Config{
		BucketSize:            cfg.BucketSize,
		PeerLookupTimeout:     cfg.PeerLookupTimeout,
		InitialContactTimeout: cfg.InitialContactTimeout,
	}, log.Component("engine"))

	net, err := network.NewUDPNetwork(
		cfg.ListenIPv4.Address, cfg.ListenIPv4.Service,
		cfg.ListenIPv6.Address, cfg.ListenIPv6.Service,
		loop, eng.HandleNewMessage, log.Component("network"))
	if err != nil {
		return nil, err
	}
	eng.AttachNetwork(net)
	net.Start()

	s := &Session{loop: loop, engine: eng, network: net}

	if cfg.InitialPeer != nil {
		endpoints, err := network.ResolveEndpoint(cfg.InitialPeer.Address, cfg.InitialPeer.Service)
		if err != nil {
			net.Close()
			return nil, kaderror.Wrap(kaderror.CodeInitialPeerFailedToRespond,
				"cannot resolve initial peer", err)
		}
		eng.Bootstrap(endpoints)
	}

	return s, nil
}

// Run executes the participant's event loop on the calling goroutine
// until Abort is called, then returns RunAborted. A second concurrent
// Run returns AlreadyRunning. A fatal bootstrap failure is returned as
// its error.
func (s *Session) Run() error {
	if !s.running.CompareAndSwap(false, true) {
		return kaderror.AlreadyRunning
	}
	defer s.running.Store(false)

	return s.loop.Run()
}

// Abort stops Run. Safe from any goroutine; in-flight requests are not
// canceled, their timers die with the session.
func (s *Session) Abort() {
	s.loop.RequestAbort()
}

// AsyncSave publishes data under key. The handler fires once from
// within Run, after store requests were sent to the closest responding
// peers or the operation failed. Store requests are not acknowledged.
func (s *Session) AsyncSave(key, data []byte, handler SaveHandler) {
	s.loop.Post(func() {
		s.engine.AsyncSave(key, data, engine.SaveCallback(handler))
	})
}

// AsyncLoad retrieves the value stored under key. The handler fires
// once from within Run.
func (s *Session) AsyncLoad(key []byte, handler LoadHandler) {
	s.loop.Post(func() {
		s.engine.AsyncLoad(key, engine.LoadCallback(handler))
	})
}

// RoutingTableDump renders the routing table for diagnostics.
func (s *Session) RoutingTableDump() string {
	return s.engine.Table().String()
}

// Close releases the sockets. Call after Run has returned.
func (s *Session) Close() {
	s.network.Close()
}
