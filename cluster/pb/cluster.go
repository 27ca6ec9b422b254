package pb

import (
	"github.com/golang/protobuf/proto"
)

// Messages below mirror cluster.proto. They are marshalled by
// github.com/golang/protobuf through their struct tags.

type Address struct {
	System   string `protobuf:"bytes,1,opt,name=system,proto3" json:"system,omitempty"`
	Hostname string `protobuf:"bytes,2,opt,name=hostname,proto3" json:"hostname,omitempty"`
	Port     uint32 `protobuf:"varint,3,opt,name=port,proto3" json:"port,omitempty"`
	Protocol string `protobuf:"bytes,4,opt,name=protocol,proto3" json:"protocol,omitempty"`
}

func (m *Address) Reset()         { *m = Address{} }
func (m *Address) String() string { return proto.CompactTextString(m) }
func (*Address) ProtoMessage()    {}

type UniqueAddress struct {
	Address *Address `protobuf:"bytes,1,opt,name=address,proto3" json:"address,omitempty"`
	Uid     uint32   `protobuf:"varint,2,opt,name=uid,proto3" json:"uid,omitempty"`
}

func (m *UniqueAddress) Reset()         { *m = UniqueAddress{} }
func (m *UniqueAddress) String() string { return proto.CompactTextString(m) }
func (*UniqueAddress) ProtoMessage()    {}

type Join struct {
	Node  *UniqueAddress `protobuf:"bytes,1,opt,name=node,proto3" json:"node,omitempty"`
	Roles []string       `protobuf:"bytes,2,rep,name=roles,proto3" json:"roles,omitempty"`
}

func (m *Join) Reset()         { *m = Join{} }
func (m *Join) String() string { return proto.CompactTextString(m) }
func (*Join) ProtoMessage()    {}

type Welcome struct {
	From   *UniqueAddress `protobuf:"bytes,1,opt,name=from,proto3" json:"from,omitempty"`
	Gossip *Gossip        `protobuf:"bytes,2,opt,name=gossip,proto3" json:"gossip,omitempty"`
}

func (m *Welcome) Reset()         { *m = Welcome{} }
func (m *Welcome) String() string { return proto.CompactTextString(m) }
func (*Welcome) ProtoMessage()    {}

type GossipEnvelope struct {
	From             *UniqueAddress `protobuf:"bytes,1,opt,name=from,proto3" json:"from,omitempty"`
	To               *UniqueAddress `protobuf:"bytes,2,opt,name=to,proto3" json:"to,omitempty"`
	SerializedGossip []byte         `protobuf:"bytes,3,opt,name=serializedGossip,proto3" json:"serializedGossip,omitempty"`
}

func (m *GossipEnvelope) Reset()         { *m = GossipEnvelope{} }
func (m *GossipEnvelope) String() string { return proto.CompactTextString(m) }
func (*GossipEnvelope) ProtoMessage()    {}

type GossipStatus struct {
	From      *UniqueAddress `protobuf:"bytes,1,opt,name=from,proto3" json:"from,omitempty"`
	AllHashes []string       `protobuf:"bytes,2,rep,name=allHashes,proto3" json:"allHashes,omitempty"`
	Version   *VectorClock   `protobuf:"bytes,3,opt,name=version,proto3" json:"version,omitempty"`
}

func (m *GossipStatus) Reset()         { *m = GossipStatus{} }
func (m *GossipStatus) String() string { return proto.CompactTextString(m) }
func (*GossipStatus) ProtoMessage()    {}

type Gossip struct {
	AllAddresses []*UniqueAddress `protobuf:"bytes,1,rep,name=allAddresses,proto3" json:"allAddresses,omitempty"`
	AllRoles     []string         `protobuf:"bytes,2,rep,name=allRoles,proto3" json:"allRoles,omitempty"`
	AllHashes    []string         `protobuf:"bytes,3,rep,name=allHashes,proto3" json:"allHashes,omitempty"`
	Members      []*Member        `protobuf:"bytes,4,rep,name=members,proto3" json:"members,omitempty"`
	Overview     *GossipOverview  `protobuf:"bytes,5,opt,name=overview,proto3" json:"overview,omitempty"`
	Version      *VectorClock     `protobuf:"bytes,6,opt,name=version,proto3" json:"version,omitempty"`
	Tombstones   []*Tombstone     `protobuf:"bytes,7,rep,name=tombstones,proto3" json:"tombstones,omitempty"`
}

func (m *Gossip) Reset()         { *m = Gossip{} }
func (m *Gossip) String() string { return proto.CompactTextString(m) }
func (*Gossip) ProtoMessage()    {}

type GossipOverview struct {
	Seen                 []int32                 `protobuf:"varint,1,rep,packed,name=seen,proto3" json:"seen,omitempty"`
	ObserverReachability []*ObserverReachability `protobuf:"bytes,2,rep,name=observerReachability,proto3" json:"observerReachability,omitempty"`
}

func (m *GossipOverview) Reset()         { *m = GossipOverview{} }
func (m *GossipOverview) String() string { return proto.CompactTextString(m) }
func (*GossipOverview) ProtoMessage()    {}

type ObserverReachability struct {
	AddressIndex        int32                  `protobuf:"varint,1,opt,name=addressIndex,proto3" json:"addressIndex,omitempty"`
	SubjectReachability []*SubjectReachability `protobuf:"bytes,2,rep,name=subjectReachability,proto3" json:"subjectReachability,omitempty"`
	Version             int64                  `protobuf:"varint,4,opt,name=version,proto3" json:"version,omitempty"`
}

func (m *ObserverReachability) Reset()         { *m = ObserverReachability{} }
func (m *ObserverReachability) String() string { return proto.CompactTextString(m) }
func (*ObserverReachability) ProtoMessage()    {}

type SubjectReachability struct {
	AddressIndex int32 `protobuf:"varint,1,opt,name=addressIndex,proto3" json:"addressIndex,omitempty"`
	Status       int32 `protobuf:"varint,3,opt,name=status,proto3" json:"status,omitempty"`
	Version      int64 `protobuf:"varint,4,opt,name=version,proto3" json:"version,omitempty"`
}

func (m *SubjectReachability) Reset()         { *m = SubjectReachability{} }
func (m *SubjectReachability) String() string { return proto.CompactTextString(m) }
func (*SubjectReachability) ProtoMessage()    {}

type Tombstone struct {
	AddressIndex int32 `protobuf:"varint,1,opt,name=addressIndex,proto3" json:"addressIndex,omitempty"`
	Timestamp    int64 `protobuf:"varint,2,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

func (m *Tombstone) Reset()         { *m = Tombstone{} }
func (m *Tombstone) String() string { return proto.CompactTextString(m) }
func (*Tombstone) ProtoMessage()    {}

type Member struct {
	AddressIndex int32   `protobuf:"varint,1,opt,name=addressIndex,proto3" json:"addressIndex,omitempty"`
	UpNumber     int32   `protobuf:"varint,2,opt,name=upNumber,proto3" json:"upNumber,omitempty"`
	Status       int32   `protobuf:"varint,3,opt,name=status,proto3" json:"status,omitempty"`
	RolesIndexes []int32 `protobuf:"varint,4,rep,packed,name=rolesIndexes,proto3" json:"rolesIndexes,omitempty"`
}

func (m *Member) Reset()         { *m = Member{} }
func (m *Member) String() string { return proto.CompactTextString(m) }
func (*Member) ProtoMessage()    {}

type VectorClock struct {
	Timestamp int64                  `protobuf:"varint,1,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Versions  []*VectorClock_Version `protobuf:"bytes,2,rep,name=versions,proto3" json:"versions,omitempty"`
}

func (m *VectorClock) Reset()         { *m = VectorClock{} }
func (m *VectorClock) String() string { return proto.CompactTextString(m) }
func (*VectorClock) ProtoMessage()    {}

type VectorClock_Version struct {
	HashIndex int32 `protobuf:"varint,1,opt,name=hashIndex,proto3" json:"hashIndex,omitempty"`
	Timestamp int64 `protobuf:"varint,2,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
}

func (m *VectorClock_Version) Reset()         { *m = VectorClock_Version{} }
func (m *VectorClock_Version) String() string { return proto.CompactTextString(m) }
func (*VectorClock_Version) ProtoMessage()    {}

// Packet is the envelope of every message exchanged between nodes.
type Packet struct {
	Manifest     string `protobuf:"bytes,1,opt,name=manifest,proto3" json:"manifest,omitempty"`
	Payload      []byte `protobuf:"bytes,2,opt,name=payload,proto3" json:"payload,omitempty"`
	Recipient    string `protobuf:"bytes,3,opt,name=recipient,proto3" json:"recipient,omitempty"`
	Sender       string `protobuf:"bytes,4,opt,name=sender,proto3" json:"sender,omitempty"`
	SerializerId int32  `protobuf:"varint,5,opt,name=serializerId,proto3" json:"serializerId,omitempty"`
}

func (m *Packet) Reset()         { *m = Packet{} }
func (m *Packet) String() string { return proto.CompactTextString(m) }
func (*Packet) ProtoMessage()    {}
