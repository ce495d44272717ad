package dhtrunner

import (
	"testing"

	qt "github.com/go-quicktest/qt"
)

func TestHashKeyIsSha1(t *testing.T) {
	qt.Check(t, qt.Equals(HashKey([]byte("hello")).HexString(), "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"))
	qt.Check(t, qt.Equals(HashKey(nil).HexString(), "da39a3ee5e6b4b0d3255bfef95601890afd80709"))
	qt.Check(t, qt.Equals(HashKey([]byte("key")), HashKey([]byte("key"))))
	qt.Check(t, qt.Not(qt.Equals(HashKey([]byte("key")), HashKey([]byte("key2")))))
}

func TestInfoHashText(t *testing.T) {
	ih := HashKey([]byte("hello"))
	b, err := ih.MarshalText()
	qt.Assert(t, qt.IsNil(err))
	var ih2 InfoHash
	qt.Assert(t, qt.IsNil(ih2.UnmarshalText(b)))
	qt.Check(t, qt.Equals(ih2, ih))
	qt.Check(t, qt.IsNotNil(ih2.FromHexString("abc")))
	qt.Check(t, qt.IsTrue(InfoHash{}.IsZero()))
}
