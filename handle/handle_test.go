package handle

import (
	"errors"
	"testing"

	qt "github.com/go-quicktest/qt"
)

func TestInsertGetRemove(t *testing.T) {
	var tab Table[string]
	a := tab.Insert("a")
	b := tab.Insert("b")
	qt.Assert(t, qt.Not(qt.Equals(a, 0)))
	qt.Assert(t, qt.Not(qt.Equals(a, b)))
	qt.Assert(t, qt.Equals(tab.Len(), 2))
	v, err := tab.Get(a)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(v, "a"))
	v, err = tab.Remove(a)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(v, "a"))
	qt.Check(t, qt.Equals(tab.Len(), 1))
	_, err = tab.Get(a)
	qt.Check(t, qt.ErrorIs(err, ErrStaleHandle))
	_, err = tab.Remove(a)
	qt.Check(t, qt.ErrorIs(err, ErrStaleHandle))
	v, err = tab.Get(b)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(v, "b"))
}

func TestReusedSlotRejectsOldHandle(t *testing.T) {
	var tab Table[int]
	old := tab.Insert(1)
	_, err := tab.Remove(old)
	qt.Assert(t, qt.IsNil(err))
	fresh := tab.Insert(2)
	qt.Check(t, qt.Equals(fresh.index(), old.index()))
	qt.Check(t, qt.Not(qt.Equals(fresh, old)))
	_, err = tab.Get(old)
	qt.Check(t, qt.IsTrue(errors.Is(err, ErrStaleHandle)))
	v, err := tab.Get(fresh)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(v, 2))
}

func TestZeroAndUnknownHandles(t *testing.T) {
	var tab Table[int]
	_, err := tab.Get(0)
	qt.Check(t, qt.ErrorIs(err, ErrStaleHandle))
	_, err = tab.Get(makeHandle(7, 1))
	qt.Check(t, qt.ErrorIs(err, ErrStaleHandle))
}
