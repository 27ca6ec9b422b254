package boltstore

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/boltdb/bolt"
	pkgerrors "github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/persistence"
)

var (
	journalBucket   = []byte("journal")
	snapshotsBucket = []byte("snapshots")
)

var (
	// ErrBucketNotFound is an error indicating a given bucket does not exist
	ErrBucketNotFound = errors.New("bucket not found")
)

const (
	// Permissions to use on the db file. This is only used if the
	// database file does not exist and needs to be created.
	dbFileMode = 0600
)

type Options struct {
	// Path is the file path to the BoltDB to use
	Path string

	// BoltOptions contains any specific BoltDB options you might
	// want to specify [e.g. open timeout]
	BoltOptions *bolt.Options

	// NoSync causes the database to skip fsync calls after each
	// write to the log. This is unsafe, so it should be used
	// with caution.
	NoSync bool
}

// BoltStore is a persistence.Journal backed by BoltDB. Each persistence id
// has its own bucket inside the journal bucket, keyed by big-endian
// sequence numbers.
type BoltStore struct {
	conn    *bolt.DB
	options Options
	mtx     sync.Mutex
}

func New(options Options) (*BoltStore, error) {
	handle, err := bolt.Open(options.Path, dbFileMode, options.BoltOptions)
	if err != nil {
		return nil, err
	}
	handle.NoSync = options.NoSync

	store := &BoltStore{
		conn:    handle,
		options: options,
	}
	return store, store.initStore()
}

func (b *BoltStore) initStore() error {
	tx, err := b.conn.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, name := range [][]byte{journalBucket, snapshotsBucket} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close is used to gracefully close the DB connection.
func (b *BoltStore) Close() error {
	return b.conn.Close()
}

func uint64ToBytes(u uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	return buf
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func (b *BoltStore) Append(records ...persistence.Record) error {
	if len(records) == 0 {
		return nil
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()
	tx, err := b.conn.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	root := tx.Bucket(journalBucket)
	if root == nil {
		return ErrBucketNotFound
	}
	for _, record := range records {
		bucket, err := root.CreateBucketIfNotExists([]byte(record.PersistenceID))
		if err != nil {
			return err
		}
		if record.Sequence != bucket.Sequence()+1 {
			return pkgerrors.Wrapf(persistence.ErrSequenceConflict, "%s: expected %d, got %d",
				record.PersistenceID, bucket.Sequence()+1, record.Sequence)
		}
		payload, err := persistence.EncodeRecord(record)
		if err != nil {
			return err
		}
		if err := bucket.Put(uint64ToBytes(record.Sequence), payload); err != nil {
			return err
		}
		if err := bucket.SetSequence(record.Sequence); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *BoltStore) Replay(persistenceID string, from uint64, f func(persistence.Record) error) error {
	return b.conn.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(journalBucket)
		if root == nil {
			return ErrBucketNotFound
		}
		bucket := root.Bucket([]byte(persistenceID))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for key, value := cursor.Seek(uint64ToBytes(from)); key != nil; key, value = cursor.Next() {
			record, err := persistence.DecodeRecord(value)
			if err != nil {
				return pkgerrors.Wrapf(err, "corrupted record %d", bytesToUint64(key))
			}
			if err := f(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltStore) HighestSequence(persistenceID string) (uint64, error) {
	var out uint64
	err := b.conn.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(journalBucket)
		if root == nil {
			return ErrBucketNotFound
		}
		if bucket := root.Bucket([]byte(persistenceID)); bucket != nil {
			out = bucket.Sequence()
		}
		return nil
	})
	return out, err
}

func (b *BoltStore) DeleteTo(persistenceID string, sequence uint64) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.conn.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(journalBucket)
		if root == nil {
			return ErrBucketNotFound
		}
		bucket := root.Bucket([]byte(persistenceID))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for key, _ := cursor.First(); key != nil && bytesToUint64(key) <= sequence; key, _ = cursor.First() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltStore) SaveSnapshot(snapshot persistence.Snapshot) error {
	payload, err := persistence.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return b.conn.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(snapshotsBucket)
		if bucket == nil {
			return ErrBucketNotFound
		}
		return bucket.Put([]byte(snapshot.PersistenceID), payload)
	})
}

func (b *BoltStore) LoadSnapshot(persistenceID string) (persistence.Snapshot, bool, error) {
	var out persistence.Snapshot
	found := false
	err := b.conn.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(snapshotsBucket)
		if bucket == nil {
			return ErrBucketNotFound
		}
		payload := bucket.Get([]byte(persistenceID))
		if payload == nil {
			return nil
		}
		snapshot, err := persistence.DecodeSnapshot(payload)
		if err != nil {
			return err
		}
		out = snapshot
		found = true
		return nil
	})
	return out, found, err
}

// PersistenceIDs lists the persistence ids having a journal.
func (b *BoltStore) PersistenceIDs() ([]string, error) {
	out := []string{}
	err := b.conn.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(journalBucket)
		if root == nil {
			return ErrBucketNotFound
		}
		return root.ForEach(func(k, v []byte) error {
			if v == nil {
				out = append(out, string(k))
			}
			return nil
		})
	})
	return out, err
}
