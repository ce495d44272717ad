package dhtrunner

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
)

// Snapshot persistence of the peer table across process restarts, for hosts that don't keep
// the serialized buffer themselves.

var snapshotFileMu sync.Mutex

// Writes the peer table snapshot to path, replacing any previous file atomically.
func (r *Runner) SaveSnapshotFile(path string) error {
	b, err := r.Snapshot()
	if err != nil {
		return err
	}
	snapshotFileMu.Lock()
	defer snapshotFileMu.Unlock()
	err = writeSnapshotFile(path, b)
	if err != nil {
		return err
	}
	r.logger.Levelf(log.Debug, "saved %d byte snapshot to %q", len(b), path)
	return nil
}

// Restores the peer table snapshot from path, as for Deserialize. A missing file isn't an error:
// loaded is false.
func (r *Runner) LoadSnapshotFile(path string) (loaded bool, err error) {
	snapshotFileMu.Lock()
	b, err := os.ReadFile(path)
	snapshotFileMu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = r.Deserialize(b)
	return err == nil, err
}

func writeSnapshotFile(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
