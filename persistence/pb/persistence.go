package pb

import (
	"github.com/gogo/protobuf/proto"
)

// Messages below mirror persistence.proto and are marshalled by
// github.com/gogo/protobuf through their struct tags.

type PersistentPayload struct {
	SerializerId    int32  `protobuf:"varint,1,opt,name=serializerId,proto3" json:"serializerId,omitempty"`
	Payload         []byte `protobuf:"bytes,2,opt,name=payload,proto3" json:"payload,omitempty"`
	PayloadManifest []byte `protobuf:"bytes,3,opt,name=payloadManifest,proto3" json:"payloadManifest,omitempty"`
}

func (m *PersistentPayload) Reset()         { *m = PersistentPayload{} }
func (m *PersistentPayload) String() string { return proto.CompactTextString(m) }
func (*PersistentPayload) ProtoMessage()    {}

type PersistentMessage struct {
	Payload       *PersistentPayload `protobuf:"bytes,1,opt,name=payload,proto3" json:"payload,omitempty"`
	SequenceNr    int64              `protobuf:"varint,2,opt,name=sequenceNr,proto3" json:"sequenceNr,omitempty"`
	PersistenceId string             `protobuf:"bytes,3,opt,name=persistenceId,proto3" json:"persistenceId,omitempty"`
	Deleted       bool               `protobuf:"varint,4,opt,name=deleted,proto3" json:"deleted,omitempty"`
	Sender        string             `protobuf:"bytes,11,opt,name=sender,proto3" json:"sender,omitempty"`
	Manifest      string             `protobuf:"bytes,12,opt,name=manifest,proto3" json:"manifest,omitempty"`
	WriterUuid    string             `protobuf:"bytes,13,opt,name=writerUuid,proto3" json:"writerUuid,omitempty"`
}

func (m *PersistentMessage) Reset()         { *m = PersistentMessage{} }
func (m *PersistentMessage) String() string { return proto.CompactTextString(m) }
func (*PersistentMessage) ProtoMessage()    {}

type SnapshotMessage struct {
	PersistenceId string             `protobuf:"bytes,1,opt,name=persistenceId,proto3" json:"persistenceId,omitempty"`
	SequenceNr    int64              `protobuf:"varint,2,opt,name=sequenceNr,proto3" json:"sequenceNr,omitempty"`
	Timestamp     int64              `protobuf:"varint,3,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Payload       *PersistentPayload `protobuf:"bytes,4,opt,name=payload,proto3" json:"payload,omitempty"`
}

func (m *SnapshotMessage) Reset()         { *m = SnapshotMessage{} }
func (m *SnapshotMessage) String() string { return proto.CompactTextString(m) }
func (*SnapshotMessage) ProtoMessage()    {}
