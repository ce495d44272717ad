// Package memdht is an in-process Engine for tests and simulations. Nodes on a Network find each
// other by port, and values replicate to every live peer a node knows about.
package memdht

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/netip"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	"github.com/anacrolix/dhtrunner"
)

var ErrPortInUse = errors.New("port in use")

// Ports handed out for port 0.
const firstEphemeralPort = 49152

type Network struct {
	// Each contact between nodes waits this long first. Tests use it to hold operations in
	// flight.
	Delay time.Duration

	mu       sync.Mutex
	nodes    map[uint16]*Node
	nextPort uint16
}

func NewNetwork() *Network {
	return &Network{
		nextPort: firstEphemeralPort,
	}
}

// A dhtrunner.NewEngineFunc that creates Nodes on this Network.
func (me *Network) NewEngine(cfg dhtrunner.EngineConfig) (dhtrunner.Engine, error) {
	return me.NewNode(cfg.Port, cfg.Logger)
}

// Adds a node on the port, or on an unused one if port is 0.
func (me *Network) NewNode(port uint16, logger log.Logger) (_ *Node, err error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if port == 0 {
		port, err = me.allocPortLocked()
		if err != nil {
			return
		}
	} else if g.MapContains(me.nodes, port) {
		err = fmt.Errorf("%w: %v", ErrPortInUse, port)
		return
	}
	n := &Node{
		net:    me,
		addr:   netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port),
		logger: logger,
	}
	rand.Read(n.id[:])
	g.MakeMapIfNil(&me.nodes)
	me.nodes[port] = n
	return n, nil
}

func (me *Network) allocPortLocked() (uint16, error) {
	for range 1 << 16 {
		port := me.nextPort
		me.nextPort++
		if me.nextPort == 0 {
			me.nextPort = firstEphemeralPort
		}
		if port != 0 && !g.MapContains(me.nodes, port) {
			return port, nil
		}
	}
	return 0, errors.New("no free ports")
}

// The live node at addr. Nodes are identified by port alone, so any IP reaches them.
func (me *Network) lookup(addr netip.AddrPort) g.Option[*Node] {
	me.mu.Lock()
	defer me.mu.Unlock()
	n, ok := me.nodes[addr.Port()]
	return g.OptionFromTuple(n, ok)
}

func (me *Network) remove(n *Node) {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.nodes[n.addr.Port()] == n {
		delete(me.nodes, n.addr.Port())
	}
}

// Number of live nodes.
func (me *Network) Len() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return len(me.nodes)
}

// Waits out the Network's Delay, unless ctx is done first.
func (me *Network) contact(ctx context.Context) error {
	if me.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(me.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
