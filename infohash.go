package dhtrunner

import (
	"crypto/sha1"
	"encoding"
	"encoding/hex"
	"fmt"
)

const InfoHashSize = sha1.Size

// InfoHash is the DHT storage address of a key: the SHA-1 of the key bytes.
type InfoHash [InfoHashSize]byte

// HashKey derives the InfoHash for an arbitrary-length key. It's pure and stable across calls and
// processes.
func HashKey(key []byte) InfoHash {
	return sha1.Sum(key)
}

func (me InfoHash) Bytes() []byte {
	return me[:]
}

func (me InfoHash) String() string {
	return me.HexString()
}

func (me InfoHash) HexString() string {
	return hex.EncodeToString(me[:])
}

func (me InfoHash) IsZero() bool {
	return me == InfoHash{}
}

func (me *InfoHash) FromHexString(s string) (err error) {
	if len(s) != 2*InfoHashSize {
		return fmt.Errorf("info hash hex string has bad length: %d", len(s))
	}
	_, err = hex.Decode(me[:], []byte(s))
	return
}

var (
	_ encoding.TextUnmarshaler = (*InfoHash)(nil)
	_ encoding.TextMarshaler   = InfoHash{}
)

func (me *InfoHash) UnmarshalText(b []byte) error {
	return me.FromHexString(string(b))
}

func (me InfoHash) MarshalText() ([]byte, error) {
	return []byte(me.HexString()), nil
}

// PeerID is a node's identity in the overlay. It shares the InfoHash keyspace.
type PeerID [20]byte

func (me PeerID) String() string {
	return hex.EncodeToString(me[:])
}
