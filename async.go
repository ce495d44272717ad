package dhtrunner

import (
	"bytes"
	"context"
	"net/netip"
	"time"
)

// Buffered values per GetChan or ListenChan. A consumer that falls this far behind ends the get
// or subscription.
const chanBufferSize = 10

// Put, with the outcome delivered on a channel.
func (r *Runner) PutAsync(key, value []byte) <-chan bool {
	ch := make(chan bool, 1)
	r.Put(key, value, func(success bool) {
		ch <- success
	})
	return ch
}

// Bootstrap, with the outcome delivered on a channel.
func (r *Runner) BootstrapAsync(addrs []netip.AddrPort) <-chan bool {
	ch := make(chan bool, 1)
	r.Bootstrap(addrs, func(success bool) {
		ch <- success
	})
	return ch
}

// Get, delivering copies of each value on the returned channel, which is closed when the get
// completes. The get stops early if ctx is done or the channel buffer is full.
func (r *Runner) GetChan(ctx context.Context, key []byte) <-chan []byte {
	ch := make(chan []byte, chanBufferSize)
	if r.closing.Load() {
		close(ch)
		return ch
	}
	r.Get(key, func(values [][]byte) bool {
		return pushValues(ctx, ch, values)
	}, func(bool) {
		close(ch)
	})
	return ch
}

// Listen, delivering copies of each new value on the returned channel, which is closed when the
// subscription ends. The subscription ends when ctx is done or the channel buffer is full.
func (r *Runner) ListenChan(ctx context.Context, key []byte) <-chan []byte {
	ch := make(chan []byte, chanBufferSize)
	s := r.listen(key, func(values [][]byte) bool {
		return pushValues(ctx, ch, values)
	}, func() {
		close(ch)
	})
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.Ended():
		}
	}()
	return ch
}

func pushValues(ctx context.Context, ch chan<- []byte, values [][]byte) bool {
	for _, v := range values {
		select {
		case ch <- bytes.Clone(v):
		default:
			return false
		}
	}
	return ctx.Err() == nil
}

// Runs Loop, returning the next deadline and whether the Runner is still running. Once ok is
// false there's no need to call Tick again until the next Run.
func (r *Runner) Tick() (next time.Time, ok bool) {
	next = r.Loop()
	return next, r.IsRunning()
}

// Calls Tick whenever it's due until the Runner stops or ctx is done. For hosts that would rather
// not drive Loop themselves.
func (r *Runner) PumpLoop(ctx context.Context) error {
	for {
		stopped := r.stoppedChan()
		next, ok := r.Tick()
		if !ok {
			return nil
		}
		t := r.clock.Timer(next.Sub(r.clock.Now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-stopped:
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Closed when the current run has stopped. nil if there's no current run, which blocks forever
// in a select.
func (r *Runner) stoppedChan() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != stateRunning {
		return nil
	}
	return r.stopped.Done()
}
