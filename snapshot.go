package dhtrunner

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"slices"

	"github.com/anacrolix/log"
	"github.com/vmihailenco/msgpack/v5"
)

// A snapshot is a MessagePack array of these. Unknown keys are skipped when decoding, so records
// written by newer versions with extra fields still load.
type nodeRecord struct {
	ID []byte `msgpack:"id"`
	// Compact form: 4 or 16 IP bytes followed by the big-endian port.
	Addr []byte `msgpack:"addr"`
}

func MarshalNodes(nodes []NodeExport) ([]byte, error) {
	records := make([]nodeRecord, 0, len(nodes))
	for _, n := range nodes {
		addr, err := marshalCompactAddr(n.Addr)
		if err != nil {
			return nil, fmt.Errorf("node %v: %w", n.ID, err)
		}
		records = append(records, nodeRecord{
			ID:   n.ID[:],
			Addr: addr,
		})
	}
	return msgpack.Marshal(records)
}

// Decodes and validates every record before returning any. Errors wrap ErrDecode.
func UnmarshalNodes(b []byte) ([]NodeExport, error) {
	var records []nodeRecord
	if err := msgpack.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	nodes := make([]NodeExport, 0, len(records))
	for i, rec := range records {
		var n NodeExport
		if len(rec.ID) != len(n.ID) {
			return nil, fmt.Errorf("%w: record %d: id has length %d", ErrDecode, i, len(rec.ID))
		}
		copy(n.ID[:], rec.ID)
		var err error
		n.Addr, err = unmarshalCompactAddr(rec.Addr)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrDecode, i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func marshalCompactAddr(ap netip.AddrPort) ([]byte, error) {
	if !ap.IsValid() {
		return nil, fmt.Errorf("invalid address %v", ap)
	}
	b := ap.Addr().Unmap().AsSlice()
	return binary.BigEndian.AppendUint16(b, ap.Port()), nil
}

func unmarshalCompactAddr(b []byte) (ap netip.AddrPort, err error) {
	var addr netip.Addr
	switch len(b) {
	case 4 + 2:
		addr = netip.AddrFrom4([4]byte(b[:4]))
	case 16 + 2:
		addr = netip.AddrFrom16([16]byte(b[:16])).Unmap()
	default:
		err = fmt.Errorf("compact address has length %d", len(b))
		return
	}
	port := binary.BigEndian.Uint16(b[len(b)-2:])
	if port == 0 {
		err = fmt.Errorf("address %v has zero port", addr)
		return
	}
	return netip.AddrPortFrom(addr, port), nil
}

// The peer table: live when running, otherwise as of the last Join plus anything restored since.
func (r *Runner) Nodes() []NodeExport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.engine != nil {
		return r.engine.Nodes()
	}
	return append(slices.Clone(r.lastNodes), r.pendingNodes...)
}

// Encodes the peer table and passes it to push. The buffer is only valid for the duration of the
// call.
func (r *Runner) Serialize(push func(b []byte)) error {
	b, err := MarshalNodes(r.Nodes())
	if err != nil {
		return err
	}
	push(b)
	return nil
}

// Returns the encoded peer table.
func (r *Runner) Snapshot() ([]byte, error) {
	return MarshalNodes(r.Nodes())
}

// Restores peers from a snapshot and bootstraps from them. If the Runner isn't running they're
// kept for the next Run. A corrupt or truncated buffer is rejected, wrapping ErrDecode, without
// changing anything.
func (r *Runner) Deserialize(b []byte) error {
	nodes, err := UnmarshalNodes(b)
	if err != nil {
		r.logger.Levelf(log.Warning, "rejected snapshot of %d bytes: %v", len(b), err)
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing.Load() {
		return ErrClosed
	}
	if len(nodes) == 0 {
		return nil
	}
	if r.state == stateRunning {
		r.seedLocked(nodes)
	} else {
		r.pendingNodes = append(r.pendingNodes, nodes...)
	}
	return nil
}
