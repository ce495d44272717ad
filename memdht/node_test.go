package memdht

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/dhtrunner"
)

func newTestNode(t *testing.T, net *Network, port uint16) *Node {
	n, err := net.NewNode(port, log.Default.WithNames("memdht"))
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func TestPorts(t *testing.T) {
	net := NewNetwork()
	a := newTestNode(t, net, 4222)
	assert.EqualValues(t, 4222, a.AddrPort().Port())
	_, err := net.NewNode(4222, log.Default)
	assert.True(t, errors.Is(err, ErrPortInUse))
	b := newTestNode(t, net, 0)
	assert.NotEqualValues(t, 0, b.AddrPort().Port())
	assert.NotEqual(t, a.AddrPort(), b.AddrPort())
	assert.Equal(t, 2, net.Len())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, net.Len())
	newTestNode(t, net, 4222)
}

func TestBootstrapLinksPeers(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	a := newTestNode(t, net, 4222)
	b := newTestNode(t, net, 4223)
	c := newTestNode(t, net, 4224)

	assert.ErrorIs(t, a.Bootstrap(ctx, nil), ErrNoPeers)
	require.NoError(t, b.Bootstrap(ctx, []netip.AddrPort{a.AddrPort()}))
	assert.Equal(t, []dhtrunner.NodeExport{b.export()}, a.Nodes())
	assert.Equal(t, []dhtrunner.NodeExport{a.export()}, b.Nodes())

	// c learns about b through a.
	require.NoError(t, c.Bootstrap(ctx, []netip.AddrPort{netip.MustParseAddrPort("10.0.0.1:4222")}))
	assert.Equal(t, []dhtrunner.NodeExport{a.export(), b.export()}, c.Nodes())
	assert.Equal(t, 2, len(b.Nodes()))

	assert.NoError(t, c.Bootstrap(ctx, []netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:1")}))
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	a := newTestNode(t, net, 4222)
	b := newTestNode(t, net, 4223)
	key := dhtrunner.HashKey([]byte("key"))

	assert.ErrorIs(t, a.Put(ctx, key, []byte("lonely")), ErrNoPeers)

	require.NoError(t, b.Bootstrap(ctx, []netip.AddrPort{a.AddrPort()}))
	require.NoError(t, a.Put(ctx, key, []byte("v1")))
	require.NoError(t, a.Put(ctx, key, []byte("v1")))

	var batches [][][]byte
	require.NoError(t, b.Get(ctx, key, func(values [][]byte) bool {
		batches = append(batches, values)
		return true
	}))
	// b's own copy, then a's.
	assert.Equal(t, [][][]byte{
		{[]byte("v1")},
		{[]byte("lonely"), []byte("v1")},
	}, batches)

	batches = nil
	require.NoError(t, b.Get(ctx, key, func(values [][]byte) bool {
		batches = append(batches, values)
		return false
	}))
	assert.Len(t, batches, 1)

	require.NoError(t, b.Get(ctx, dhtrunner.HashKey([]byte("nothing")), func([][]byte) bool {
		t.Fatal("unexpected values")
		return false
	}))
}

func TestMaintainDropsDeadPeers(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	a := newTestNode(t, net, 4222)
	b := newTestNode(t, net, 0)
	require.NoError(t, b.Bootstrap(ctx, []netip.AddrPort{a.AddrPort()}))
	require.NoError(t, b.Close())
	assert.Len(t, a.Nodes(), 1)
	a.Maintain(ctx)
	assert.Empty(t, a.Nodes())
}

func TestAddNodes(t *testing.T) {
	net := NewNetwork()
	a := newTestNode(t, net, 4222)
	nodes := []dhtrunner.NodeExport{
		{Addr: netip.MustParseAddrPort("127.0.0.1:5000")},
		{Addr: netip.MustParseAddrPort("127.0.0.1:4222")},
		{Addr: netip.MustParseAddrPort("127.0.0.1:5000")},
	}
	assert.Equal(t, 1, a.AddNodes(nodes))
	assert.Equal(t, nodes[:1], a.Nodes())
}

func TestDelayHonoursContext(t *testing.T) {
	net := NewNetwork()
	net.Delay = time.Hour
	a := newTestNode(t, net, 4222)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Bootstrap(ctx, []netip.AddrPort{a.AddrPort()})
	assert.ErrorIs(t, err, context.Canceled)
}
