package dhtrunner

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	"github.com/benbjohnson/clock"

	"github.com/anacrolix/dhtrunner/internal/panicif"
)

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
	stateStopped
)

func (me runState) String() string {
	switch me {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("runState(%d)", int(me))
	}
}

// A Runner is the handle to a single DHT node. It owns the engine, the goroutines doing engine
// work, and the goroutine on which all host callbacks run. Create one with New, start it with Run,
// drive it with Loop, stop it with Join, and release it with Close.
type Runner struct {
	config    Config
	logger    log.Logger
	clock     clock.Clock
	callbacks dispatcher
	stats     counters
	closing   atomic.Bool
	closed    chansync.SetOnce

	mu     sync.RWMutex
	state  runState
	engine Engine
	runCtx context.Context
	cancel context.CancelFunc
	// Set when the current run has fully stopped.
	stopped *chansync.SetOnce
	// Goroutines doing engine work for the current run.
	ops         sync.WaitGroup
	schedule    schedule
	maintaining atomic.Bool
	subs        map[*Subscription]struct{}
	// Peers restored while not running. They seed the engine on the next Run.
	pendingNodes []NodeExport
	// The peer table as of the last Join, so a stopped Runner can still be serialized.
	lastNodes []NodeExport
}

// Creates an idle Runner. cfg may be nil for the defaults.
func New(cfg *Config) *Runner {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	r := &Runner{
		config:   *cfg,
		schedule: newSchedule(),
	}
	r.config.setDefaults()
	r.logger = r.config.Logger
	r.clock = r.config.Clock
	r.stats.init()
	r.callbacks.init(r.logger.WithNames("callbacks"))
	return r
}

// Starts the engine on the given UDP port (0 for any). On failure the error wraps ErrStartup and
// the Runner can be run again, for example on another port.
func (r *Runner) Run(port uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing.Load() {
		return ErrClosed
	}
	switch r.state {
	case stateRunning:
		return fmt.Errorf("%w: already running", ErrStartup)
	case stateStopping:
		return fmt.Errorf("%w: still stopping", ErrStartup)
	}
	e, err := r.config.NewEngine(r.config.engineConfig(port))
	if err != nil {
		r.logger.Levelf(log.Warning, "error starting engine on port %v: %v", port, err)
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	r.engine = e
	r.runCtx, r.cancel = context.WithCancel(log.ContextWithLogger(context.Background(), r.logger))
	r.stopped = new(chansync.SetOnce)
	r.subs = make(map[*Subscription]struct{})
	r.state = stateRunning
	now := r.clock.Now()
	r.schedule.clear()
	r.schedule.add(&task{
		interval: r.config.MaintenanceInterval,
		fire:     r.maintain,
	}, now.Add(r.config.MaintenanceInterval))
	r.logger.Levelf(log.Info, "dht node %v running on %v", e.ID(), e.Addr())
	if nodes := r.pendingNodes; len(nodes) != 0 {
		r.pendingNodes = nil
		r.seedLocked(nodes)
	}
	return nil
}

// Doesn't block.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == stateRunning
}

// The engine's bound address, or nil when not running.
func (r *Runner) Addr() net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine == nil {
		return nil
	}
	return r.engine.Addr()
}

func (r *Runner) ID() (id PeerID, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine == nil {
		return
	}
	return r.engine.ID(), true
}

// Stops the engine and blocks until all background activity has quiesced: in-flight operations
// complete with failure, listen subscriptions end, and every callback they produced has run.
// Safe to call from any goroutine, concurrently, and repeatedly, but never from inside a callback
// of the same Runner, which deadlocks.
func (r *Runner) Join() {
	r.mu.Lock()
	switch r.state {
	case stateRunning:
	case stateStopping:
		stopped := r.stopped
		r.mu.Unlock()
		<-stopped.Done()
		return
	default:
		r.mu.Unlock()
		return
	}
	r.state = stateStopping
	r.cancel()
	e := r.engine
	subs := r.subs
	r.subs = nil
	r.schedule.clear()
	stopped := r.stopped
	r.mu.Unlock()

	for s := range subs {
		s.end()
	}
	r.ops.Wait()
	nodes := e.Nodes()
	if err := e.Close(); err != nil {
		r.logger.Levelf(log.Warning, "error closing engine: %v", err)
	}
	r.callbacks.flush()

	r.mu.Lock()
	panicif.NotEqual(r.state, stateStopping)
	r.lastNodes = nodes
	r.engine = nil
	r.state = stateStopped
	r.mu.Unlock()
	stopped.Set()
	r.logger.Levelf(log.Debug, "stopped with %d nodes in table", len(nodes))
}

// Stops the Runner if it's running and releases it. No callbacks fire after Close returns. Must
// not be called from inside a callback.
func (r *Runner) Close() {
	if !r.closing.CompareAndSwap(false, true) {
		<-r.closed.Done()
		return
	}
	r.Join()
	r.callbacks.close()
	r.closed.Set()
}

// Runs the maintenance that's due, and returns the deadline by which Loop should be called
// again. The deadline is on the Runner's monotonic clock.
func (r *Runner) Loop() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if r.state != stateRunning {
		return now.Add(r.config.IdleLoopInterval)
	}
	for {
		t, ok := r.schedule.popDue(now)
		if !ok {
			break
		}
		t.fire()
		r.schedule.add(t, now.Add(t.interval))
	}
	if next, ok := r.schedule.next(); ok {
		return next
	}
	return now.Add(r.config.IdleLoopInterval)
}

// Like Loop, but returns whole milliseconds until the next call is due, 0 meaning immediately.
func (r *Runner) LoopMillis() uint64 {
	now := r.clock.Now()
	return MillisUntil(now, r.Loop())
}

// Milliseconds from now until deadline, rounded down, or 0 if the deadline has passed.
func MillisUntil(now, deadline time.Time) uint64 {
	if !deadline.After(now) {
		return 0
	}
	return uint64(deadline.Sub(now) / time.Millisecond)
}

// Called from Loop with r.mu held.
func (r *Runner) maintain() {
	if !r.maintaining.CompareAndSwap(false, true) {
		return
	}
	r.ops.Add(1)
	e, ctx := r.engine, r.runCtx
	go func() {
		defer r.ops.Done()
		defer r.maintaining.Store(false)
		e.Maintain(ctx)
	}()
}

// Registers an operation against the current run. ok is false if the Runner isn't running, in
// which case the caller must not call r.ops.Done.
func (r *Runner) startOp() (ctx context.Context, e Engine, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != stateRunning {
		err = fmt.Errorf("%w (%v)", ErrNotRunning, r.state)
		return
	}
	r.ops.Add(1)
	return r.runCtx, r.engine, nil
}

// Fires the done callback on the callback goroutine.
func (r *Runner) finish(d *doneOnce, success bool) {
	if !r.callbacks.submit(func() { d.fire(success) }) {
		r.logger.Levelf(log.Debug, "dropped completion after close")
	}
}

// Hands a batch to a get or listen callback on the callback goroutine, and waits for its answer.
// A panicking callback answers false.
func (r *Runner) deliver(got GetFunc, values [][]byte) (more bool) {
	if got == nil {
		return true
	}
	r.callbacks.callSync(func() {
		more = got(values)
	})
	return
}
