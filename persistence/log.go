package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Log is the write side of one persistence id. It is not safe for
// concurrent use: a persistent component owns exactly one Log.
type Log struct {
	journal       Journal
	persistenceID string
	writerUUID    string
	serializerID  int32
	sequence      uint64
}

func NewLog(journal Journal, persistenceID string, serializerID int32) *Log {
	return &Log{
		journal:       journal,
		persistenceID: persistenceID,
		writerUUID:    uuid.New().String(),
		serializerID:  serializerID,
	}
}

func (l *Log) PersistenceID() string {
	return l.persistenceID
}

// Sequence returns the sequence number of the last persisted or replayed
// event.
func (l *Log) Sequence() uint64 {
	return l.sequence
}

// Recover loads the latest snapshot, if any, then replays the events that
// follow it.
func (l *Log) Recover(onSnapshot func(Snapshot) error, onEvent func(Record) error) error {
	snapshot, found, err := l.journal.LoadSnapshot(l.persistenceID)
	if err != nil {
		return errors.Wrap(err, "failed to load snapshot")
	}
	from := uint64(1)
	if found {
		if err := onSnapshot(snapshot); err != nil {
			return errors.Wrap(err, "failed to apply snapshot")
		}
		l.sequence = snapshot.Sequence
		from = snapshot.Sequence + 1
	}
	err = l.journal.Replay(l.persistenceID, from, func(r Record) error {
		if err := onEvent(r); err != nil {
			return errors.Wrapf(err, "failed to replay event %d", r.Sequence)
		}
		l.sequence = r.Sequence
		return nil
	})
	if err != nil {
		return err
	}
	highest, err := l.journal.HighestSequence(l.persistenceID)
	if err != nil {
		return errors.Wrap(err, "failed to read highest sequence number")
	}
	if highest > l.sequence {
		l.sequence = highest
	}
	return nil
}

// Persist appends one event. The sequence number only advances when the
// journal acknowledged the write.
func (l *Log) Persist(manifest string, payload []byte) (uint64, error) {
	next := l.sequence + 1
	err := l.journal.Append(Record{
		PersistenceID: l.persistenceID,
		Sequence:      next,
		SerializerID:  l.serializerID,
		Manifest:      manifest,
		Payload:       payload,
		WriterUUID:    l.writerUUID,
	})
	if err != nil {
		return 0, err
	}
	l.sequence = next
	return next, nil
}

// SaveSnapshot stores a snapshot of the state reached at the current
// sequence number.
func (l *Log) SaveSnapshot(manifest string, payload []byte) error {
	return l.journal.SaveSnapshot(Snapshot{
		PersistenceID: l.persistenceID,
		Sequence:      l.sequence,
		Timestamp:     time.Now().UnixNano(),
		SerializerID:  l.serializerID,
		Manifest:      manifest,
		Payload:       payload,
	})
}

// DeleteEvents removes the events up to sequence 'to'. Callers only delete
// events already covered by a saved snapshot.
func (l *Log) DeleteEvents(to uint64) error {
	return l.journal.DeleteTo(l.persistenceID, to)
}
