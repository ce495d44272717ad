package dhtrunner_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anacrolix/dhtrunner"
	"github.com/anacrolix/dhtrunner/memdht"
)

const waitTimeout = 5 * time.Second

func newRunner(t *testing.T, net *memdht.Network) (*dhtrunner.Runner, *clock.Mock) {
	cfg := dhtrunner.TestingConfig(t, net.NewEngine)
	r := dhtrunner.New(cfg)
	t.Cleanup(r.Close)
	return r, cfg.Clock.(*clock.Mock)
}

func newRunning(t *testing.T, net *memdht.Network, port uint16) (*dhtrunner.Runner, *clock.Mock) {
	r, mock := newRunner(t, net)
	require.NoError(t, r.Run(port))
	return r, mock
}

func addrPort(t *testing.T, r *dhtrunner.Runner) netip.AddrPort {
	addr := r.Addr()
	require.NotNil(t, addr)
	ap, err := netip.ParseAddrPort(addr.String())
	require.NoError(t, err)
	return ap
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out")
		panic("unreachable")
	}
}

func bootstrap(t *testing.T, r *dhtrunner.Runner, seeds ...*dhtrunner.Runner) {
	var addrs []netip.AddrPort
	for _, s := range seeds {
		addrs = append(addrs, addrPort(t, s))
	}
	require.True(t, recv(t, r.BootstrapAsync(addrs)))
}

// Two nodes on 4222 and 4223: the second bootstraps from the first, a value put on the first is
// found by the second.
func TestEndToEnd(t *testing.T) {
	net := memdht.NewNetwork()
	a, _ := newRunning(t, net, 4222)
	b, _ := newRunning(t, net, 4223)
	assert.True(t, a.IsRunning())
	assert.Equal(t, "127.0.0.1:4223", b.Addr().String())

	bootstrap(t, b, a)
	require.True(t, recv(t, a.PutAsync([]byte("hello"), []byte("world"))))

	var batches [][][]byte
	done := make(chan bool, 1)
	b.Get([]byte("hello"), func(values [][]byte) bool {
		var batch [][]byte
		for _, v := range values {
			batch = append(batch, append([]byte(nil), v...))
		}
		batches = append(batches, batch)
		return true
	}, func(success bool) {
		done <- success
	})
	assert.True(t, recv(t, done))
	assert.Equal(t, [][][]byte{{[]byte("world")}}, batches)

	a.Join()
	b.Join()
	assert.False(t, a.IsRunning())
	assert.Nil(t, a.Addr())
}

func TestRunStartupFailure(t *testing.T) {
	net := memdht.NewNetwork()
	newRunning(t, net, 4222)
	r, _ := newRunner(t, net)
	err := r.Run(4222)
	assert.ErrorIs(t, err, dhtrunner.ErrStartup)
	assert.False(t, r.IsRunning())
	require.NoError(t, r.Run(0))
	assert.True(t, r.IsRunning())
	assert.ErrorIs(t, r.Run(0), dhtrunner.ErrStartup)

	r.Join()
	require.NoError(t, r.Run(0), "runs again after join")
	r.Close()
	assert.ErrorIs(t, r.Run(0), dhtrunner.ErrClosed)
}

func TestOperationsWhenNotRunning(t *testing.T) {
	r, _ := newRunner(t, memdht.NewNetwork())
	assert.False(t, recv(t, r.PutAsync([]byte("k"), []byte("v"))))
	assert.False(t, recv(t, r.BootstrapAsync(nil)))
	done := make(chan bool, 1)
	r.Get([]byte("k"), func([][]byte) bool {
		t.Error("unexpected values")
		return true
	}, func(success bool) { done <- success })
	assert.False(t, recv(t, done))
	s := r.Listen([]byte("k"), nil)
	recv(t, s.Ended())
	// Nil callbacks are fine.
	r.Put([]byte("k"), []byte("v"), nil)
	_, ok := r.ID()
	assert.False(t, ok)
}

func TestBootstrapWithoutSeeds(t *testing.T) {
	r, _ := newRunning(t, memdht.NewNetwork(), 0)
	assert.False(t, recv(t, r.BootstrapAsync(nil)))
	assert.Equal(t, dhtrunner.Outcomes{Failed: 1}, r.Stats().Bootstraps)
}

func TestDoneFiresExactlyOnce(t *testing.T) {
	net := memdht.NewNetwork()
	a, _ := newRunning(t, net, 0)
	b, _ := newRunning(t, net, 0)
	bootstrap(t, b, a)
	var mu sync.Mutex
	calls := 0
	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		a.Put([]byte{byte(i)}, []byte("v"), func(bool) {
			mu.Lock()
			calls++
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	a.Join()
	assert.Equal(t, n, calls)
}

func TestJoinCancelsInFlight(t *testing.T) {
	net := memdht.NewNetwork()
	a, _ := newRunning(t, net, 0)
	b, _ := newRunning(t, net, 0)
	bootstrap(t, b, a)
	net.Delay = time.Hour

	var results []bool
	a.Put([]byte("k"), []byte("v"), func(success bool) {
		results = append(results, success)
	})
	a.Get([]byte("k"), nil, func(success bool) {
		results = append(results, success)
	})
	s := a.Listen([]byte("k"), func([][]byte) bool { return true })
	joined := make(chan struct{})
	go func() {
		a.Join()
		close(joined)
	}()
	recv(t, joined)
	// Join flushes callbacks, so the results are in.
	assert.Equal(t, []bool{false, false}, results)
	recv(t, s.Ended())
	assert.False(t, a.IsRunning())
	// Repeated and concurrent joins are harmless.
	a.Join()
}

func TestCallbackPanicsAreContained(t *testing.T) {
	net := memdht.NewNetwork()
	a, _ := newRunning(t, net, 0)
	b, _ := newRunning(t, net, 0)
	bootstrap(t, b, a)
	require.True(t, recv(t, a.PutAsync([]byte("k"), []byte("v"))))

	done := make(chan bool, 1)
	b.Get([]byte("k"), func([][]byte) bool {
		panic("host bug")
	}, func(success bool) {
		done <- success
		panic("another host bug")
	})
	// A panicking get callback stops the get.
	assert.True(t, recv(t, done))
	// The callback goroutine survived.
	assert.True(t, recv(t, b.PutAsync([]byte("k"), []byte("w"))))
}

func TestStopGetFromCallback(t *testing.T) {
	net := memdht.NewNetwork()
	a, _ := newRunning(t, net, 0)
	b, _ := newRunning(t, net, 0)
	c, _ := newRunning(t, net, 0)
	bootstrap(t, b, a)
	bootstrap(t, c, a)
	require.True(t, recv(t, b.PutAsync([]byte("k"), []byte("from b"))))
	require.True(t, recv(t, c.PutAsync([]byte("k"), []byte("from c"))))

	batches := 0
	done := make(chan bool, 1)
	a.Get([]byte("k"), func([][]byte) bool {
		batches++
		return false
	}, func(success bool) { done <- success })
	assert.True(t, recv(t, done))
	assert.Equal(t, 1, batches)
}

func TestLoopDeadlines(t *testing.T) {
	net := memdht.NewNetwork()
	r, mock := newRunner(t, net)
	cfg := dhtrunner.NewDefaultConfig()

	now := mock.Now()
	assert.Equal(t, now.Add(cfg.IdleLoopInterval), r.Loop())
	assert.EqualValues(t, cfg.IdleLoopInterval/time.Millisecond, r.LoopMillis())
	_, ok := r.Tick()
	assert.False(t, ok)

	require.NoError(t, r.Run(0))
	assert.Equal(t, now.Add(cfg.MaintenanceInterval), r.Loop())
	s := r.Listen([]byte("k"), nil)
	assert.Equal(t, now.Add(cfg.ListenRefreshInterval), r.Loop())
	assert.EqualValues(t, cfg.ListenRefreshInterval/time.Millisecond, r.LoopMillis())

	mock.Add(cfg.ListenRefreshInterval)
	next, ok := r.Tick()
	assert.True(t, ok)
	assert.Equal(t, mock.Now().Add(cfg.ListenRefreshInterval), next)

	s.Cancel()
	assert.Equal(t, now.Add(cfg.MaintenanceInterval), r.Loop())
	mock.Add(time.Hour)
	assert.EqualValues(t, 0, dhtrunner.MillisUntil(mock.Now(), now.Add(cfg.MaintenanceInterval)))
	assert.Equal(t, mock.Now().Add(cfg.MaintenanceInterval), r.Loop())
}

func TestPumpLoopReturnsOnJoin(t *testing.T) {
	r, _ := newRunning(t, memdht.NewNetwork(), 0)
	errs := make(chan error, 1)
	go func() {
		errs <- r.PumpLoop(context.Background())
	}()
	r.Join()
	assert.NoError(t, recv(t, errs))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Run(0))
	go func() {
		errs <- r.PumpLoop(ctx)
	}()
	cancel()
	assert.ErrorIs(t, recv(t, errs), context.Canceled)
}

func TestStats(t *testing.T) {
	net := memdht.NewNetwork()
	a, _ := newRunning(t, net, 0)
	b, _ := newRunning(t, net, 0)
	bootstrap(t, b, a)
	require.True(t, recv(t, b.PutAsync([]byte("k"), []byte("v"))))
	for range a.GetChan(context.Background(), []byte("k")) {
	}
	b.Listen([]byte("k"), nil)
	st := b.Stats()
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.Nodes)
	assert.Equal(t, 1, st.Listens)
	assert.Equal(t, dhtrunner.Outcomes{Succeeded: 1}, st.Bootstraps)
	assert.Equal(t, dhtrunner.Outcomes{Succeeded: 1}, st.Puts)
	st = a.Stats()
	assert.Equal(t, dhtrunner.Outcomes{Succeeded: 1}, st.Gets)
	assert.EqualValues(t, 1, st.GetBatches)
}
