package dhtrunner

import (
	"context"
	"net"
	"net/netip"

	"github.com/anacrolix/log"
)

// The DHT engine a Runner drives. Routing, lookups and replication are the engine's business;
// the Runner only owns its lifetime, its maintenance schedule and the callback contract.
//
// Methods may be called concurrently. Blocking methods must return promptly once ctx is done.
type Engine interface {
	Addr() net.Addr
	ID() PeerID
	// Contacts the seeds concurrently, then tries to populate the peer table. Returns nil if the
	// engine ends up with a usable peer set, whether or not every seed responded.
	Bootstrap(ctx context.Context, seeds []netip.AddrPort) error
	// Announces value under target. value is owned by the engine after the call.
	Put(ctx context.Context, target InfoHash, value []byte) error
	// Looks up target, calling found serially with each batch of values discovered. found
	// returning false stops the lookup early, which is not an error. Returns nil if the lookup
	// completed, regardless of whether anything was found.
	Get(ctx context.Context, target InfoHash, found func(values [][]byte) (more bool)) error
	// The current peer table, in a stable order.
	Nodes() []NodeExport
	// Adds peers to the table without contacting them.
	AddNodes(nodes []NodeExport) (added int)
	// Periodic table upkeep: refreshes, pings, expiry.
	Maintain(ctx context.Context)
	Close() error
}

type EngineConfig struct {
	Port   uint16
	Logger log.Logger
	// host:port addresses the engine falls back on when its table is empty.
	BootstrapNodes []string
	// Also fall back on the engine's well-known global bootstrap nodes.
	GlobalBootstrap bool
}

type NewEngineFunc func(EngineConfig) (Engine, error)

// A peer descriptor, as persisted in snapshots.
type NodeExport struct {
	ID   PeerID
	Addr netip.AddrPort
}

func (me NodeExport) String() string {
	return me.Addr.String() + "/" + me.ID.String()
}
