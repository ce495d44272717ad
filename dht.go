package dhtrunner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/dht/v2/bep44"
	"github.com/anacrolix/dht/v2/exts/getput"
	"github.com/anacrolix/dht/v2/krpc"
	"github.com/anacrolix/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Below this many good nodes, maintenance bootstraps again.
const minGoodNodes = 8

// An Engine backed by an anacrolix/dht Server on a UDP socket. Values are stored as BEP 44
// mutable items, see valueSet.
type anacrolixEngine struct {
	server *dht.Server
	store  bep44.Store
	logger log.Logger
	// Serializes read-merge-write of local items.
	putMu sync.Mutex
}

var _ Engine = (*anacrolixEngine)(nil)

func NewAnacrolixEngine(cfg EngineConfig) (_ Engine, err error) {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return
	}
	store := bep44.NewMemory()
	sc := dht.NewDefaultServerConfig()
	sc.Conn = conn
	sc.Logger = cfg.Logger
	sc.Store = store
	sc.StartingNodes = startingNodes(cfg.BootstrapNodes, cfg.GlobalBootstrap)
	s, err := dht.NewServer(sc)
	if err != nil {
		conn.Close()
		return
	}
	return &anacrolixEngine{
		server: s,
		store:  store,
		logger: cfg.Logger,
	}, nil
}

func startingNodes(hostPorts []string, global bool) func() ([]dht.Addr, error) {
	return func() (addrs []dht.Addr, err error) {
		if len(hostPorts) != 0 {
			addrs, err = dht.ResolveHostPorts(hostPorts)
			if err != nil {
				return
			}
		}
		if global {
			var more []dht.Addr
			more, err = dht.GlobalBootstrapAddrs("udp")
			addrs = append(addrs, more...)
		}
		return
	}
}

func (me *anacrolixEngine) Addr() net.Addr {
	return me.server.Addr()
}

func (me *anacrolixEngine) ID() PeerID {
	return PeerID(me.server.ID())
}

func (me *anacrolixEngine) Bootstrap(ctx context.Context, seeds []netip.AddrPort) error {
	errs := make([]error, len(seeds))
	var eg errgroup.Group
	for i, seed := range seeds {
		eg.Go(func() error {
			errs[i] = me.server.Ping(net.UDPAddrFromAddrPort(seed)).ToError()
			return nil
		})
	}
	eg.Wait()
	if err := multierr.Combine(errs...); err != nil {
		me.logger.Levelf(log.Debug, "%d of %d seeds failed: %v", len(multierr.Errors(err)), len(seeds), err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stats, err := me.server.BootstrapContext(ctx)
	if err != nil {
		me.logger.Levelf(log.Debug, "bootstrap traversal: %v", err)
	} else {
		me.logger.Levelf(log.Debug, "bootstrap traversal: %+v", stats)
	}
	if me.server.NumNodes() == 0 {
		return multierr.Append(errors.New("no nodes after bootstrap"), err)
	}
	return nil
}

func (me *anacrolixEngine) localValues(vs valueSet) (values []string, seq int64, ok bool) {
	item, err := me.store.Get(vs.itemTarget())
	if err != nil {
		if !errors.Is(err, bep44.ErrItemNotFound) {
			me.logger.Levelf(log.Warning, "getting local item for %v: %v", vs.target, err)
		}
		return
	}
	return decodeValueSet(item.V), item.Seq, true
}

func (me *anacrolixEngine) Put(ctx context.Context, target InfoHash, value []byte) error {
	vs := newValueSet(target)
	itemTarget := vs.itemTarget()
	current, seq, _ := me.localValues(vs)
	res, _, err := getput.Get(ctx, itemTarget, me.server, nil, nil)
	if err == nil && res.Mutable {
		for _, v := range decodeValueSet(res.V) {
			if merged, ok := mergeValueSet(current, v); ok {
				current = merged
			}
		}
		seq = max(seq, res.Seq)
	} else if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	values, ok := mergeValueSet(current, string(value))
	if !ok {
		return fmt.Errorf("value of %d bytes too large for an item", len(value))
	}
	var put bep44.Put
	_, err = getput.Put(ctx, krpc.ID(itemTarget), me.server, nil, func(netSeq int64) bep44.Put {
		put = vs.put(values, max(seq, netSeq)+1)
		return put
	})
	if put.V != nil {
		me.storeLocal(vs, values, put.Seq)
	}
	return err
}

func (me *anacrolixEngine) storeLocal(vs valueSet, values []string, seq int64) {
	me.putMu.Lock()
	defer me.putMu.Unlock()
	if _, cur, ok := me.localValues(vs); ok && cur >= seq {
		return
	}
	item, err := vs.item(values, seq)
	if err == nil {
		err = me.store.Put(item)
	}
	if err != nil {
		me.logger.Levelf(log.Warning, "storing local item for %v: %v", vs.target, err)
	}
}

func (me *anacrolixEngine) Get(ctx context.Context, target InfoHash, found func([][]byte) bool) error {
	vs := newValueSet(target)
	if values, _, ok := me.localValues(vs); ok && len(values) != 0 {
		if !found(valueBatch(values)) {
			return nil
		}
	}
	res, stats, err := getput.Get(ctx, vs.itemTarget(), me.server, nil, nil)
	if err != nil {
		if stats == nil || ctx.Err() != nil {
			return err
		}
		// The traversal ran but nobody had the item.
		return nil
	}
	if values := decodeValueSet(res.V); res.Mutable && len(values) != 0 {
		found(valueBatch(values))
	}
	return nil
}

func (me *anacrolixEngine) Nodes() (ret []NodeExport) {
	for _, ni := range me.server.Nodes() {
		n, err := exportFromNodeInfo(ni)
		if err != nil {
			continue
		}
		ret = append(ret, n)
	}
	slices.SortFunc(ret, func(a, b NodeExport) int {
		return cmp.Or(a.Addr.Compare(b.Addr), slices.Compare(a.ID[:], b.ID[:]))
	})
	return
}

func (me *anacrolixEngine) AddNodes(nodes []NodeExport) (added int) {
	for _, n := range nodes {
		if err := me.server.AddNode(nodeInfoFromExport(n)); err != nil {
			me.logger.Levelf(log.Debug, "adding node %v: %v", n, err)
			continue
		}
		added++
	}
	return
}

func (me *anacrolixEngine) Maintain(ctx context.Context) {
	good := me.server.Stats().GoodNodes
	if good >= minGoodNodes {
		return
	}
	me.logger.Levelf(log.Debug, "%d good nodes, bootstrapping", good)
	if _, err := me.server.BootstrapContext(ctx); err != nil && ctx.Err() == nil {
		me.logger.Levelf(log.Debug, "maintenance bootstrap: %v", err)
	}
}

func (me *anacrolixEngine) WriteStatus(w io.Writer) {
	me.server.WriteStatus(w)
}

func (me *anacrolixEngine) Close() error {
	me.server.Close()
	return nil
}
