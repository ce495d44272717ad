// Package snapshotdb keeps serialized peer tables in a bbolt database, keyed by name, so a node
// can restore its table after a restart.
package snapshotdb

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var (
	ErrNotFound = errors.New("snapshot not found")

	snapshotsBucketKey = []byte("snapshots")
)

type DB struct {
	db *bbolt.DB
}

func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotsBucketKey)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating bucket")
	}
	return &DB{db}, nil
}

func (me *DB) Close() error {
	return me.db.Close()
}

func (me *DB) Save(name string, snapshot []byte) error {
	err := me.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotsBucketKey).Put([]byte(name), snapshot)
	})
	return errors.Wrapf(err, "saving snapshot %q", name)
}

// Returns a copy of the named snapshot, or ErrNotFound.
func (me *DB) Load(name string) (snapshot []byte, err error) {
	err = me.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(snapshotsBucketKey).Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}
		// bbolt values are only valid for the life of the transaction.
		snapshot = bytes.Clone(v)
		return nil
	})
	return
}

func (me *DB) Delete(name string) error {
	err := me.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotsBucketKey).Delete([]byte(name))
	})
	return errors.Wrapf(err, "deleting snapshot %q", name)
}

func (me *DB) Names() (names []string, err error) {
	err = me.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(snapshotsBucketKey).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return
}
