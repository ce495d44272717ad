package dhtrunner

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func testNodes() []NodeExport {
	return []NodeExport{
		{ID: PeerID(HashKey([]byte("a"))), Addr: netip.MustParseAddrPort("127.0.0.1:4222")},
		{ID: PeerID(HashKey([]byte("b"))), Addr: netip.MustParseAddrPort("[2001:db8::1]:6881")},
		{ID: PeerID(HashKey([]byte("c"))), Addr: netip.MustParseAddrPort("10.1.2.3:65535")},
	}
}

func TestNodesRoundTrip(t *testing.T) {
	for _, nodes := range [][]NodeExport{testNodes(), {}} {
		b, err := MarshalNodes(nodes)
		require.NoError(t, err)
		got, err := UnmarshalNodes(b)
		require.NoError(t, err)
		if diff := cmp.Diff(nodes, got, cmp.Comparer(func(a, b netip.AddrPort) bool { return a == b })); diff != "" {
			t.Fatal(diff)
		}
	}
}

func TestMarshalMappedAddrs(t *testing.T) {
	nodes := []NodeExport{{Addr: netip.MustParseAddrPort("[::ffff:1.2.3.4]:80")}}
	b, err := MarshalNodes(nodes)
	require.NoError(t, err)
	got, err := UnmarshalNodes(b)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("1.2.3.4:80"), got[0].Addr)

	_, err = MarshalNodes([]NodeExport{{}})
	assert.Error(t, err)
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	b, err := MarshalNodes(testNodes())
	require.NoError(t, err)
	for i := range len(b) {
		_, err := UnmarshalNodes(b[:i])
		assert.ErrorIs(t, err, ErrDecode, "prefix of length %d", i)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	b, err := msgpack.Marshal([]map[string]any{{
		"id":      make([]byte, 20),
		"addr":    []byte{127, 0, 0, 1, 0x10, 0x7e},
		"rtt":     12.5,
		"flags":   []string{"good"},
		"version": 2,
	}})
	require.NoError(t, err)
	nodes, err := UnmarshalNodes(b)
	require.NoError(t, err)
	assert.Equal(t, []NodeExport{{Addr: netip.MustParseAddrPort("127.0.0.1:4222")}}, nodes)
}

func TestUnmarshalValidates(t *testing.T) {
	for _, rec := range []map[string]any{
		{"id": make([]byte, 19), "addr": []byte{127, 0, 0, 1, 0x10, 0x7e}},
		{"addr": []byte{127, 0, 0, 1, 0x10, 0x7e}},
		{"id": make([]byte, 20), "addr": []byte{127, 0, 0, 1, 0x10}},
		{"id": make([]byte, 20), "addr": []byte{127, 0, 0, 1, 0, 0}},
		{"id": make([]byte, 20)},
	} {
		b, err := msgpack.Marshal([]map[string]any{rec})
		require.NoError(t, err)
		_, err = UnmarshalNodes(b)
		assert.ErrorIs(t, err, ErrDecode, "%v", rec)
	}
	_, err := UnmarshalNodes([]byte("not msgpack at all"))
	assert.ErrorIs(t, err, ErrDecode)
}
