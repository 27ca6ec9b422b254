package memstore

import (
	"fmt"
	"sort"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/persistence"
)

const (
	journalTable   = "journal"
	sequencesTable = "sequences"
	snapshotsTable = "snapshots"
)

type journalEntry struct {
	Key           string
	PersistenceID string
	Sequence      uint64
	Data          []byte
}

type sequenceEntry struct {
	PersistenceID string
	Highest       uint64
}

type snapshotEntry struct {
	PersistenceID string
	Data          []byte
}

// MemDBStore is an in-memory persistence.Journal. Records are stored
// encoded, like on disk, so that tests exercise the same decoding path.
type MemDBStore struct {
	db *memdb.MemDB
}

func New() *MemDBStore {
	db, err := memdb.NewMemDB(&memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			journalTable: {
				Name: journalTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:         "id",
						Indexer:      &memdb.StringFieldIndex{Field: "Key"},
						Unique:       true,
						AllowMissing: false,
					},
					"persistence_id": {
						Name:         "persistence_id",
						Indexer:      &memdb.StringFieldIndex{Field: "PersistenceID"},
						Unique:       false,
						AllowMissing: false,
					},
				},
			},
			sequencesTable: {
				Name: sequencesTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:         "id",
						Indexer:      &memdb.StringFieldIndex{Field: "PersistenceID"},
						Unique:       true,
						AllowMissing: false,
					},
				},
			},
			snapshotsTable: {
				Name: snapshotsTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:         "id",
						Indexer:      &memdb.StringFieldIndex{Field: "PersistenceID"},
						Unique:       true,
						AllowMissing: false,
					},
				},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return &MemDBStore{db: db}
}

func recordKey(persistenceID string, sequence uint64) string {
	return fmt.Sprintf("%s/%020d", persistenceID, sequence)
}

func (s *MemDBStore) read(statement func(tx *memdb.Txn) error) error {
	tx := s.db.Txn(false)
	defer tx.Abort()
	return statement(tx)
}

func (s *MemDBStore) write(statement func(tx *memdb.Txn) error) error {
	tx := s.db.Txn(true)
	err := statement(tx)
	if err != nil {
		tx.Abort()
		return err
	}
	tx.Commit()
	return nil
}

func highest(tx *memdb.Txn, persistenceID string) (uint64, error) {
	raw, err := tx.First(sequencesTable, "id", persistenceID)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	return raw.(*sequenceEntry).Highest, nil
}

func (s *MemDBStore) Append(records ...persistence.Record) error {
	return s.write(func(tx *memdb.Txn) error {
		for _, record := range records {
			current, err := highest(tx, record.PersistenceID)
			if err != nil {
				return err
			}
			if record.Sequence != current+1 {
				return errors.Wrapf(persistence.ErrSequenceConflict, "%s: expected %d, got %d",
					record.PersistenceID, current+1, record.Sequence)
			}
			payload, err := persistence.EncodeRecord(record)
			if err != nil {
				return err
			}
			err = tx.Insert(journalTable, &journalEntry{
				Key:           recordKey(record.PersistenceID, record.Sequence),
				PersistenceID: record.PersistenceID,
				Sequence:      record.Sequence,
				Data:          payload,
			})
			if err != nil {
				return err
			}
			err = tx.Insert(sequencesTable, &sequenceEntry{PersistenceID: record.PersistenceID, Highest: record.Sequence})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MemDBStore) entries(tx *memdb.Txn, persistenceID string) ([]*journalEntry, error) {
	iterator, err := tx.Get(journalTable, "persistence_id", persistenceID)
	if err != nil {
		return nil, err
	}
	out := []*journalEntry{}
	for {
		payload := iterator.Next()
		if payload == nil {
			break
		}
		out = append(out, payload.(*journalEntry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemDBStore) Replay(persistenceID string, from uint64, f func(persistence.Record) error) error {
	var entries []*journalEntry
	err := s.read(func(tx *memdb.Txn) error {
		var err error
		entries, err = s.entries(tx, persistenceID)
		return err
	})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Sequence < from {
			continue
		}
		record, err := persistence.DecodeRecord(entry.Data)
		if err != nil {
			return errors.Wrapf(err, "corrupted record %d", entry.Sequence)
		}
		if err := f(record); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemDBStore) HighestSequence(persistenceID string) (uint64, error) {
	var out uint64
	err := s.read(func(tx *memdb.Txn) error {
		var err error
		out, err = highest(tx, persistenceID)
		return err
	})
	return out, err
}

func (s *MemDBStore) DeleteTo(persistenceID string, sequence uint64) error {
	return s.write(func(tx *memdb.Txn) error {
		entries, err := s.entries(tx, persistenceID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Sequence > sequence {
				break
			}
			if err := tx.Delete(journalTable, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MemDBStore) SaveSnapshot(snapshot persistence.Snapshot) error {
	payload, err := persistence.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return s.write(func(tx *memdb.Txn) error {
		return tx.Insert(snapshotsTable, &snapshotEntry{PersistenceID: snapshot.PersistenceID, Data: payload})
	})
}

func (s *MemDBStore) LoadSnapshot(persistenceID string) (persistence.Snapshot, bool, error) {
	var out persistence.Snapshot
	found := false
	err := s.read(func(tx *memdb.Txn) error {
		raw, err := tx.First(snapshotsTable, "id", persistenceID)
		if err != nil || raw == nil {
			return err
		}
		snapshot, err := persistence.DecodeSnapshot(raw.(*snapshotEntry).Data)
		if err != nil {
			return err
		}
		out = snapshot
		found = true
		return nil
	})
	return out, found, err
}

func (s *MemDBStore) Close() error {
	return nil
}
