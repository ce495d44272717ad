package dhtrunner

import (
	"sync/atomic"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// A listen subscription. It's refreshed from Runner.Loop on the listen schedule and delivers
// values it hasn't delivered before. It ends when cancelled, when its callback returns false, or
// when the Runner stops.
type Subscription struct {
	r      *Runner
	target InfoHash
	got    GetFunc
	// Values already delivered. Bounded: a value evicted from here is delivered again if it's
	// seen again.
	seen       *lru.Cache[string, struct{}]
	task       *task
	refreshing atomic.Bool
	ending     atomic.Bool
	ended      chansync.SetOnce
	// Runs on the callback goroutine after the last delivery.
	onEnd func()
}

// Watches the InfoHash of key, calling got with each batch of values not delivered before, for as
// long as the subscription lasts. Unlike Get there's no done callback. If the Runner isn't running
// the returned subscription has already ended.
func (r *Runner) Listen(key []byte, got GetFunc) *Subscription {
	return r.listen(key, got, nil)
}

func (r *Runner) listen(key []byte, got GetFunc, onEnd func()) *Subscription {
	s := &Subscription{
		r:      r,
		target: HashKey(key),
		got:    got,
		onEnd:  onEnd,
	}
	s.seen, _ = lru.New[string, struct{}](r.config.ListenDedupSize)
	s.task = &task{
		interval: r.config.ListenRefreshInterval,
		fire:     s.refreshLocked,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateRunning {
		s.end()
		return s
	}
	r.subs[s] = struct{}{}
	r.schedule.add(s.task, r.clock.Now().Add(s.task.interval))
	s.refreshLocked()
	return s
}

func (s *Subscription) Target() InfoHash {
	return s.target
}

// Closed when the subscription has ended.
func (s *Subscription) Ended() <-chan struct{} {
	return s.ended.Done()
}

// Ends the subscription. A delivery already in progress completes, but none start afterwards.
func (s *Subscription) Cancel() {
	r := s.r
	r.mu.Lock()
	if _, ok := r.subs[s]; ok {
		delete(r.subs, s)
		r.schedule.remove(s.task)
	}
	r.mu.Unlock()
	s.end()
}

func (s *Subscription) end() {
	if !s.ending.CompareAndSwap(false, true) {
		return
	}
	s.ended.Set()
	if s.onEnd != nil && !s.r.callbacks.submit(s.onEnd) {
		s.onEnd()
	}
}

// Starts a lookup for the subscription unless one is already in flight. Called with r.mu held
// while running.
func (s *Subscription) refreshLocked() {
	if s.ended.IsSet() || !s.refreshing.CompareAndSwap(false, true) {
		return
	}
	r := s.r
	if l := r.config.ListenRefreshLimiter; l != nil && !l.Allow() {
		s.refreshing.Store(false)
		return
	}
	r.ops.Add(1)
	ctx, e := r.runCtx, r.engine
	go func() {
		defer r.ops.Done()
		defer s.refreshing.Store(false)
		err := e.Get(ctx, s.target, s.found)
		if err != nil && ctx.Err() == nil {
			r.logger.Levelf(log.Debug, "error refreshing listen on %v: %v", s.target, err)
		}
	}()
}

func (s *Subscription) found(values [][]byte) (more bool) {
	var batch [][]byte
	for _, v := range values {
		k := string(v)
		if s.seen.Contains(k) {
			continue
		}
		s.seen.Add(k, struct{}{})
		batch = append(batch, v)
	}
	if len(batch) == 0 {
		return !s.ended.IsSet()
	}
	s.r.callbacks.callSync(func() {
		if s.ended.IsSet() {
			return
		}
		s.r.stats.listenBatches.Add(1)
		if s.got == nil {
			more = true
			return
		}
		more = s.got(batch)
	})
	if !more {
		s.Cancel()
	}
	return
}
