package dhtrunner

import (
	"bytes"
	"context"
	"net/netip"
	"slices"

	"github.com/anacrolix/log"
)

// Contacts addrs concurrently as seed peers, then fires done once with whether the node ended up
// with a usable peer set. An empty addrs is valid: the engine may still find peers by other means.
func (r *Runner) Bootstrap(addrs []netip.AddrPort, done DoneFunc) {
	d := newDoneOnce(done)
	seeds := slices.Clone(addrs)
	ctx, e, err := r.startOp()
	if err != nil {
		r.logger.Levelf(log.Debug, "bootstrap: %v", err)
		r.stats.bootstraps.record(false)
		r.finish(d, false)
		return
	}
	go func() {
		defer r.ops.Done()
		r.finish(d, r.bootstrap(ctx, e, seeds))
	}()
}

func (r *Runner) bootstrap(ctx context.Context, e Engine, seeds []netip.AddrPort) bool {
	err := e.Bootstrap(ctx, seeds)
	if err != nil {
		r.logger.Levelf(log.Debug, "error bootstrapping from %d seeds: %v", len(seeds), err)
	}
	r.stats.bootstraps.record(err == nil)
	return err == nil
}

// Feeds restored peers to the engine and bootstraps from them. r.mu must be held and the Runner
// running.
func (r *Runner) seedLocked(nodes []NodeExport) {
	e, ctx := r.engine, r.runCtx
	added := e.AddNodes(nodes)
	r.logger.Levelf(log.Debug, "added %d of %d restored nodes", added, len(nodes))
	seeds := make([]netip.AddrPort, 0, len(nodes))
	for _, n := range nodes {
		seeds = append(seeds, n.Addr)
	}
	r.ops.Add(1)
	go func() {
		defer r.ops.Done()
		r.bootstrap(ctx, e, seeds)
	}()
}

// Announces value under the InfoHash of key. value is copied, so the caller's buffer is free
// once Put returns. done fires once the announce attempt completes.
func (r *Runner) Put(key, value []byte, done DoneFunc) {
	target := HashKey(key)
	value = bytes.Clone(value)
	d := newDoneOnce(done)
	ctx, e, err := r.startOp()
	if err != nil {
		r.logger.Levelf(log.Debug, "put: %v", err)
		r.stats.puts.record(false)
		r.finish(d, false)
		return
	}
	go func() {
		defer r.ops.Done()
		err := e.Put(ctx, target, value)
		if err != nil {
			r.logger.Levelf(log.Debug, "error putting %v: %v", target, err)
		}
		r.stats.puts.record(err == nil)
		r.finish(d, err == nil)
	}()
}

// Looks up the values stored under the InfoHash of key. got is called with each batch of values
// not seen before in this lookup, and can return false to end the lookup early. done fires once
// afterwards: success reports whether the lookup completed (including when got ended it), not
// whether anything was found.
func (r *Runner) Get(key []byte, got GetFunc, done DoneFunc) {
	target := HashKey(key)
	d := newDoneOnce(done)
	ctx, e, err := r.startOp()
	if err != nil {
		r.logger.Levelf(log.Debug, "get: %v", err)
		r.stats.gets.record(false)
		r.finish(d, false)
		return
	}
	go func() {
		defer r.ops.Done()
		seen := make(seenValues)
		err := e.Get(ctx, target, func(values [][]byte) bool {
			batch := seen.fresh(values)
			if len(batch) == 0 {
				return true
			}
			r.stats.getBatches.Add(1)
			return r.deliver(got, batch)
		})
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			r.logger.Levelf(log.Debug, "error getting %v: %v", target, err)
		}
		r.stats.gets.record(err == nil)
		r.finish(d, err == nil)
	}()
}
