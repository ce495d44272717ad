// Package handle maps opaque integer tokens to Go values, for handing across boundaries that
// can't hold Go pointers. A token names a slot and the slot's generation, so a token for a value
// that's been removed is detected rather than aliasing whatever reuses the slot.
package handle

import (
	"errors"
	"fmt"

	"github.com/anacrolix/sync"
)

// Never 0, so the zero value can mean "no handle".
type Handle uint64

var ErrStaleHandle = errors.New("stale or invalid handle")

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (me Handle) index() uint32 {
	return uint32(me)
}

func (me Handle) gen() uint32 {
	return uint32(me >> 32)
}

func (me Handle) String() string {
	return fmt.Sprintf("%d.%d", me.index(), me.gen())
}

type slot[T any] struct {
	gen   uint32
	live  bool
	value T
}

// Safe for concurrent use. The zero value is ready.
type Table[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
	len   int
}

func (me *Table[T]) Insert(v T) Handle {
	me.mu.Lock()
	defer me.mu.Unlock()
	var i uint32
	if n := len(me.free); n != 0 {
		i = me.free[n-1]
		me.free = me.free[:n-1]
	} else {
		i = uint32(len(me.slots))
		me.slots = append(me.slots, slot[T]{})
	}
	s := &me.slots[i]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	s.value = v
	me.len++
	return makeHandle(i, s.gen)
}

func (me *Table[T]) slotLocked(h Handle) (*slot[T], bool) {
	i := h.index()
	if h == 0 || int64(i) >= int64(len(me.slots)) {
		return nil, false
	}
	s := &me.slots[i]
	if !s.live || s.gen != h.gen() {
		return nil, false
	}
	return s, true
}

func (me *Table[T]) Get(h Handle) (v T, err error) {
	me.mu.RLock()
	defer me.mu.RUnlock()
	s, ok := me.slotLocked(h)
	if !ok {
		err = fmt.Errorf("%w: %v", ErrStaleHandle, h)
		return
	}
	return s.value, nil
}

// Removes and returns the value. Fails for a handle that's already been removed.
func (me *Table[T]) Remove(h Handle) (v T, err error) {
	me.mu.Lock()
	defer me.mu.Unlock()
	s, ok := me.slotLocked(h)
	if !ok {
		err = fmt.Errorf("%w: %v", ErrStaleHandle, h)
		return
	}
	v = s.value
	var zero T
	s.value = zero
	s.live = false
	me.free = append(me.free, h.index())
	me.len--
	return v, nil
}

func (me *Table[T]) Len() int {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return me.len
}
