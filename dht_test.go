package dhtrunner_test

import (
	"net"
	"net/netip"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/dhtrunner"
)

// Runs two real anacrolix/dht nodes over loopback UDP. Opt in with DHTRUNNER_UDP_TESTS=1.
func TestAnacrolixEngineLoopback(t *testing.T) {
	if os.Getenv("DHTRUNNER_UDP_TESTS") == "" {
		t.Skip("set DHTRUNNER_UDP_TESTS to run tests that use UDP sockets")
	}
	newNode := func() *dhtrunner.Runner {
		cfg := dhtrunner.NewDefaultConfig()
		cfg.Logger = cfg.Logger.WithContextText(t.Name())
		r := dhtrunner.New(cfg)
		t.Cleanup(r.Close)
		require.NoError(t, r.Run(0))
		return r
	}
	loopback := func(r *dhtrunner.Runner) netip.AddrPort {
		port := r.Addr().(*net.UDPAddr).Port
		return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(port))
	}
	a := newNode()
	b := newNode()
	require.True(t, recv(t, b.BootstrapAsync([]netip.AddrPort{loopback(a)})))
	require.True(t, recv(t, a.BootstrapAsync([]netip.AddrPort{loopback(b)})))
	require.True(t, recv(t, a.PutAsync([]byte("key"), []byte("hello"))))
	var got []string
	for v := range b.GetChan(t.Context(), []byte("key")) {
		got = append(got, string(v))
	}
	assert.Contains(t, got, "hello")
}
