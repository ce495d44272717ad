package dhtrunner

import (
	"sync/atomic"
)

// Called exactly once when a put, get or bootstrap completes. success is false for any
// operation that didn't complete normally, including those cut short by Join.
type DoneFunc func(success bool)

// Called with a batch of newly found values. The slices are only valid for the duration of the
// call: copy anything that needs to be kept. Return false to stop receiving values.
type GetFunc func(values [][]byte) (more bool)

// Guards a DoneFunc so that it fires exactly once no matter how many completion paths race to
// it.
type doneOnce struct {
	f     DoneFunc
	fired atomic.Bool
}

func newDoneOnce(f DoneFunc) *doneOnce {
	return &doneOnce{f: f}
}

// Returns false if the callback had already fired.
func (me *doneOnce) fire(success bool) bool {
	if !me.fired.CompareAndSwap(false, true) {
		return false
	}
	if me.f != nil {
		me.f(success)
	}
	return true
}

// Removes values already seen by a get operation, so each batch only carries new values.
type seenValues map[string]struct{}

func (me seenValues) fresh(values [][]byte) (ret [][]byte) {
	for _, v := range values {
		k := string(v)
		if _, ok := me[k]; ok {
			continue
		}
		me[k] = struct{}{}
		ret = append(ret, v)
	}
	return
}
