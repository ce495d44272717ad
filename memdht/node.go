package memdht

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"net"
	"net/netip"
	"slices"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"

	"github.com/anacrolix/dhtrunner"
)

var (
	ErrNoPeers = errors.New("no live peers")
	ErrClosed  = errors.New("node closed")
)

type Node struct {
	net    *Network
	id     dhtrunner.PeerID
	addr   netip.AddrPort
	logger log.Logger

	mu     sync.Mutex
	closed bool
	peers  map[netip.AddrPort]dhtrunner.PeerID
	// Values in insertion order.
	values map[dhtrunner.InfoHash][][]byte
}

var _ dhtrunner.Engine = (*Node)(nil)

func (me *Node) Addr() net.Addr {
	return net.UDPAddrFromAddrPort(me.addr)
}

func (me *Node) AddrPort() netip.AddrPort {
	return me.addr
}

func (me *Node) ID() dhtrunner.PeerID {
	return me.id
}

func (me *Node) export() dhtrunner.NodeExport {
	return dhtrunner.NodeExport{ID: me.id, Addr: me.addr}
}

// Adds peer to the table. Returns false if it was already there, is this node, or this node is
// closed.
func (me *Node) addPeer(peer dhtrunner.NodeExport) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.closed || peer.Addr.Port() == me.addr.Port() {
		return false
	}
	g.MakeMapIfNil(&me.peers)
	if old, ok := me.peers[peer.Addr]; ok && old == peer.ID {
		return false
	}
	me.peers[peer.Addr] = peer.ID
	return true
}

// Links the nodes into each other's tables.
func (me *Node) link(other *Node) {
	me.addPeer(other.export())
	other.addPeer(me.export())
}

func (me *Node) peerAddrs() (ret []netip.AddrPort) {
	me.mu.Lock()
	defer me.mu.Unlock()
	for addr := range me.peers {
		ret = append(ret, addr)
	}
	slices.SortFunc(ret, netip.AddrPort.Compare)
	return
}

// The peers in the table that are live, in address order. Dead ones are dropped.
func (me *Node) livePeers() (ret []*Node) {
	for _, addr := range me.peerAddrs() {
		opt := me.net.lookup(addr)
		if !opt.Ok {
			me.dropPeer(addr)
			continue
		}
		ret = append(ret, opt.Value)
	}
	return
}

func (me *Node) dropPeer(addr netip.AddrPort) {
	me.mu.Lock()
	defer me.mu.Unlock()
	delete(me.peers, addr)
}

func (me *Node) Bootstrap(ctx context.Context, seeds []netip.AddrPort) error {
	for _, seed := range seeds {
		if err := me.net.contact(ctx); err != nil {
			return err
		}
		opt := me.net.lookup(seed)
		if !opt.Ok || opt.Value == me {
			me.logger.Levelf(log.Debug, "seed %v didn't respond", seed)
			continue
		}
		s := opt.Value
		me.link(s)
		for _, p := range s.Nodes() {
			me.addPeer(p)
		}
	}
	for _, p := range me.livePeers() {
		me.link(p)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if me.NumNodes() == 0 {
		return ErrNoPeers
	}
	return nil
}

func (me *Node) NumNodes() int {
	me.mu.Lock()
	defer me.mu.Unlock()
	return len(me.peers)
}

func (me *Node) store(target dhtrunner.InfoHash, value []byte) bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.closed {
		return false
	}
	vs := me.values[target]
	if slices.ContainsFunc(vs, func(v []byte) bool { return bytes.Equal(v, value) }) {
		return true
	}
	g.MakeMapIfNil(&me.values)
	me.values[target] = append(vs, bytes.Clone(value))
	return true
}

func (me *Node) load(target dhtrunner.InfoHash) (ret [][]byte) {
	me.mu.Lock()
	defer me.mu.Unlock()
	for _, v := range me.values[target] {
		ret = append(ret, bytes.Clone(v))
	}
	return
}

// Stores the value locally and on every live peer. Fails if no peer took it.
func (me *Node) Put(ctx context.Context, target dhtrunner.InfoHash, value []byte) error {
	if !me.store(target, value) {
		return ErrClosed
	}
	stored := 0
	for _, p := range me.livePeers() {
		if err := me.net.contact(ctx); err != nil {
			return err
		}
		if p.store(target, value) {
			stored++
		}
	}
	if stored == 0 {
		return ErrNoPeers
	}
	return nil
}

// Delivers the local values, then each live peer's, stopping if found returns false.
func (me *Node) Get(ctx context.Context, target dhtrunner.InfoHash, found func([][]byte) bool) error {
	if vs := me.load(target); len(vs) != 0 && !found(vs) {
		return nil
	}
	for _, p := range me.livePeers() {
		if err := me.net.contact(ctx); err != nil {
			return err
		}
		if vs := p.load(target); len(vs) != 0 && !found(vs) {
			return nil
		}
	}
	return ctx.Err()
}

func (me *Node) Nodes() (ret []dhtrunner.NodeExport) {
	me.mu.Lock()
	defer me.mu.Unlock()
	for addr, id := range me.peers {
		ret = append(ret, dhtrunner.NodeExport{ID: id, Addr: addr})
	}
	slices.SortFunc(ret, func(a, b dhtrunner.NodeExport) int {
		return cmp.Or(a.Addr.Compare(b.Addr), slices.Compare(a.ID[:], b.ID[:]))
	})
	return
}

func (me *Node) AddNodes(nodes []dhtrunner.NodeExport) (added int) {
	for _, n := range nodes {
		if me.addPeer(n) {
			added++
		}
	}
	return
}

// Drops peers that have gone away.
func (me *Node) Maintain(ctx context.Context) {
	n := len(me.livePeers())
	me.logger.Levelf(log.Debug, "maintenance: %d live peers", n)
}

func (me *Node) Close() error {
	me.mu.Lock()
	if me.closed {
		me.mu.Unlock()
		return ErrClosed
	}
	me.closed = true
	me.mu.Unlock()
	me.net.remove(me)
	return nil
}
