package dhtrunner

import (
	"crypto/ed25519"
	"crypto/sha256"
	"slices"

	"github.com/anacrolix/dht/v2/bep44"
	"github.com/anacrolix/torrent/bencode"
)

// BEP 44 limits the bencoded v field.
const maxValueSetSize = 1000

// The values under an InfoHash are kept in a single BEP 44 mutable item whose key pair is derived
// from the InfoHash, so any node can read, extend and re-sign it.
type valueSet struct {
	target InfoHash
	priv   ed25519.PrivateKey
	pub    [32]byte
}

func newValueSet(ih InfoHash) (vs valueSet) {
	seed := sha256.Sum256(append([]byte("dhtrunner value set "), ih[:]...))
	vs.target = ih
	vs.priv = ed25519.NewKeyFromSeed(seed[:])
	copy(vs.pub[:], vs.priv.Public().(ed25519.PublicKey))
	return
}

// The DHT target the item is stored under.
func (vs valueSet) itemTarget() bep44.Target {
	put := bep44.Put{K: &vs.pub}
	return put.Target()
}

func (vs valueSet) put(values []string, seq int64) bep44.Put {
	put := bep44.Put{
		V:   values,
		K:   &vs.pub,
		Seq: seq,
	}
	put.Sign(vs.priv)
	return put
}

func (vs valueSet) item(values []string, seq int64) (*bep44.Item, error) {
	return bep44.NewItem(values, nil, seq, 0, vs.priv)
}

// Decodes an item's v field. Anything that isn't a list of strings is treated as empty.
func decodeValueSet(v any) (values []string) {
	var b []byte
	switch v := v.(type) {
	case nil:
		return nil
	case bencode.Bytes:
		b = v
	case []string:
		return v
	default:
		var err error
		b, err = bencode.Marshal(v)
		if err != nil {
			return nil
		}
	}
	if bencode.Unmarshal(b, &values) != nil {
		return nil
	}
	return
}

// Appends value to values unless it's present, then drops the oldest values until the encoding
// fits in an item. A value that can't fit on its own returns ok false.
func mergeValueSet(values []string, value string) (_ []string, ok bool) {
	if !slices.Contains(values, value) {
		values = append(slices.Clone(values), value)
	}
	for len(values) != 0 {
		b, err := bencode.Marshal(values)
		if err == nil && len(b) <= maxValueSetSize {
			return values, true
		}
		if len(values) == 1 {
			break
		}
		values = values[1:]
	}
	return nil, false
}

func valueBatch(values []string) (batch [][]byte) {
	batch = make([][]byte, 0, len(values))
	for _, v := range values {
		batch = append(batch, []byte(v))
	}
	return
}
