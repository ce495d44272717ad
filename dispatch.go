package dhtrunner

import (
	"runtime/debug"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
)

// Runs host callbacks serially on a single goroutine: the runner's "engine thread". Engine work
// happens on other goroutines and hands its results here, so host code never runs concurrently
// with itself for a given Runner.
type dispatcher struct {
	logger log.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	exited chansync.SetOnce
}

func (me *dispatcher) init(logger log.Logger) {
	me.logger = logger
	me.wake = make(chan struct{}, 1)
	go me.run()
}

func (me *dispatcher) run() {
	defer me.exited.Set()
	for {
		me.mu.Lock()
		batch := me.queue
		me.queue = nil
		closed := me.closed
		me.mu.Unlock()
		for _, f := range batch {
			me.call(f)
		}
		if len(batch) != 0 {
			continue
		}
		if closed {
			return
		}
		<-me.wake
	}
}

// Runs f, converting a panic in host code into a log message. Returns false if f panicked.
func (me *dispatcher) call(f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			me.logger.Levelf(log.Error, "recovered panic in callback: %v\n%s", r, debug.Stack())
			ok = false
		}
	}()
	f()
	return true
}

// Queues f to run on the dispatcher goroutine. Returns false if the dispatcher is closed, in
// which case f never runs.
func (me *dispatcher) submit(f func()) bool {
	me.mu.Lock()
	if me.closed {
		me.mu.Unlock()
		return false
	}
	me.queue = append(me.queue, f)
	me.mu.Unlock()
	select {
	case me.wake <- struct{}{}:
	default:
	}
	return true
}

// Runs f on the dispatcher goroutine and waits for it to return. Must not be called from the
// dispatcher goroutine.
func (me *dispatcher) callSync(f func()) (ran bool) {
	done := make(chan struct{})
	if !me.submit(func() {
		defer close(done)
		f()
	}) {
		return false
	}
	<-done
	return true
}

// Waits until everything queued before the call has run.
func (me *dispatcher) flush() {
	me.callSync(func() {})
}

// Stops accepting callbacks, runs what's already queued, and waits for the goroutine to exit.
func (me *dispatcher) close() {
	me.mu.Lock()
	me.closed = true
	me.mu.Unlock()
	select {
	case me.wake <- struct{}{}:
	default:
	}
	<-me.exited.Done()
}

