// Package persistence defines the event journal and snapshot store used by
// event sourced components, and the record encoding shared by its backends.
package persistence

import (
	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/persistence/pb"
)

var (
	// ErrSequenceConflict is returned when an appended record does not
	// directly follow the highest stored sequence number.
	ErrSequenceConflict = errors.New("sequence number conflict")
	ErrClosed           = errors.New("journal closed")
)

// Record is one persisted event.
type Record struct {
	PersistenceID string
	Sequence      uint64
	SerializerID  int32
	Manifest      string
	Payload       []byte
	WriterUUID    string
	Sender        string
}

// Snapshot is the latest saved state of a persistent component.
type Snapshot struct {
	PersistenceID string
	Sequence      uint64
	Timestamp     int64
	SerializerID  int32
	Manifest      string
	Payload       []byte
}

// Journal stores ordered events and snapshots per persistence id. Each
// persistence id has a single writer.
type Journal interface {
	// Append stores records atomically. Their sequence numbers must follow
	// the highest stored one without gaps.
	Append(records ...Record) error
	// Replay calls f for every record of persistenceID with a sequence
	// number greater than or equal to from, in order.
	Replay(persistenceID string, from uint64, f func(Record) error) error
	HighestSequence(persistenceID string) (uint64, error)
	// DeleteTo removes records up to and including sequence. The highest
	// sequence number is kept.
	DeleteTo(persistenceID string, sequence uint64) error
	SaveSnapshot(snapshot Snapshot) error
	LoadSnapshot(persistenceID string) (Snapshot, bool, error)
	Close() error
}

func EncodeRecord(r Record) ([]byte, error) {
	return proto.Marshal(&pb.PersistentMessage{
		Payload: &pb.PersistentPayload{
			SerializerId:    r.SerializerID,
			Payload:         r.Payload,
			PayloadManifest: []byte(r.Manifest),
		},
		SequenceNr:    int64(r.Sequence),
		PersistenceId: r.PersistenceID,
		Sender:        r.Sender,
		Manifest:      r.Manifest,
		WriterUuid:    r.WriterUUID,
	})
}

func DecodeRecord(buf []byte) (Record, error) {
	m := &pb.PersistentMessage{}
	if err := proto.Unmarshal(buf, m); err != nil {
		return Record{}, errors.Wrap(err, "failed to decode persistent message")
	}
	out := Record{
		PersistenceID: m.PersistenceId,
		Sequence:      uint64(m.SequenceNr),
		Manifest:      m.Manifest,
		WriterUUID:    m.WriterUuid,
		Sender:        m.Sender,
	}
	if m.Payload != nil {
		out.SerializerID = m.Payload.SerializerId
		out.Payload = m.Payload.Payload
		if out.Manifest == "" {
			out.Manifest = string(m.Payload.PayloadManifest)
		}
	}
	return out, nil
}

func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return proto.Marshal(&pb.SnapshotMessage{
		PersistenceId: s.PersistenceID,
		SequenceNr:    int64(s.Sequence),
		Timestamp:     s.Timestamp,
		Payload: &pb.PersistentPayload{
			SerializerId:    s.SerializerID,
			Payload:         s.Payload,
			PayloadManifest: []byte(s.Manifest),
		},
	})
}

func DecodeSnapshot(buf []byte) (Snapshot, error) {
	m := &pb.SnapshotMessage{}
	if err := proto.Unmarshal(buf, m); err != nil {
		return Snapshot{}, errors.Wrap(err, "failed to decode snapshot")
	}
	out := Snapshot{
		PersistenceID: m.PersistenceId,
		Sequence:      uint64(m.SequenceNr),
		Timestamp:     m.Timestamp,
	}
	if m.Payload != nil {
		out.SerializerID = m.Payload.SerializerId
		out.Payload = m.Payload.Payload
		out.Manifest = string(m.Payload.PayloadManifest)
	}
	return out, nil
}
