package pb

import (
	"github.com/golang/protobuf/proto"
)

// Messages below mirror sharding.proto.

type CoordinatorState struct {
	Shards            []*CoordinatorState_ShardEntry `protobuf:"bytes,1,rep,name=shards,proto3" json:"shards,omitempty"`
	Regions           []string                       `protobuf:"bytes,2,rep,name=regions,proto3" json:"regions,omitempty"`
	RegionProxies     []string                       `protobuf:"bytes,3,rep,name=regionProxies,proto3" json:"regionProxies,omitempty"`
	UnallocatedShards []string                       `protobuf:"bytes,4,rep,name=unallocatedShards,proto3" json:"unallocatedShards,omitempty"`
}

func (m *CoordinatorState) Reset()         { *m = CoordinatorState{} }
func (m *CoordinatorState) String() string { return proto.CompactTextString(m) }
func (*CoordinatorState) ProtoMessage()    {}

type CoordinatorState_ShardEntry struct {
	ShardId   string `protobuf:"bytes,1,opt,name=shardId,proto3" json:"shardId,omitempty"`
	RegionRef string `protobuf:"bytes,2,opt,name=regionRef,proto3" json:"regionRef,omitempty"`
}

func (m *CoordinatorState_ShardEntry) Reset()         { *m = CoordinatorState_ShardEntry{} }
func (m *CoordinatorState_ShardEntry) String() string { return proto.CompactTextString(m) }
func (*CoordinatorState_ShardEntry) ProtoMessage()    {}

type ActorRefMessage struct {
	Ref string `protobuf:"bytes,1,opt,name=ref,proto3" json:"ref,omitempty"`
}

func (m *ActorRefMessage) Reset()         { *m = ActorRefMessage{} }
func (m *ActorRefMessage) String() string { return proto.CompactTextString(m) }
func (*ActorRefMessage) ProtoMessage()    {}

type ShardIdMessage struct {
	Shard string `protobuf:"bytes,1,opt,name=shard,proto3" json:"shard,omitempty"`
}

func (m *ShardIdMessage) Reset()         { *m = ShardIdMessage{} }
func (m *ShardIdMessage) String() string { return proto.CompactTextString(m) }
func (*ShardIdMessage) ProtoMessage()    {}

type ShardHomeAllocated struct {
	Shard  string `protobuf:"bytes,1,opt,name=shard,proto3" json:"shard,omitempty"`
	Region string `protobuf:"bytes,2,opt,name=region,proto3" json:"region,omitempty"`
}

func (m *ShardHomeAllocated) Reset()         { *m = ShardHomeAllocated{} }
func (m *ShardHomeAllocated) String() string { return proto.CompactTextString(m) }
func (*ShardHomeAllocated) ProtoMessage()    {}

type ShardHome struct {
	Shard  string `protobuf:"bytes,1,opt,name=shard,proto3" json:"shard,omitempty"`
	Region string `protobuf:"bytes,2,opt,name=region,proto3" json:"region,omitempty"`
}

func (m *ShardHome) Reset()         { *m = ShardHome{} }
func (m *ShardHome) String() string { return proto.CompactTextString(m) }
func (*ShardHome) ProtoMessage()    {}

type EntityState struct {
	Entities []string `protobuf:"bytes,1,rep,name=entities,proto3" json:"entities,omitempty"`
}

func (m *EntityState) Reset()         { *m = EntityState{} }
func (m *EntityState) String() string { return proto.CompactTextString(m) }
func (*EntityState) ProtoMessage()    {}

type EntityStarted struct {
	EntityId string `protobuf:"bytes,1,opt,name=entityId,proto3" json:"entityId,omitempty"`
}

func (m *EntityStarted) Reset()         { *m = EntityStarted{} }
func (m *EntityStarted) String() string { return proto.CompactTextString(m) }
func (*EntityStarted) ProtoMessage()    {}

type EntityStopped struct {
	EntityId string `protobuf:"bytes,1,opt,name=entityId,proto3" json:"entityId,omitempty"`
}

func (m *EntityStopped) Reset()         { *m = EntityStopped{} }
func (m *EntityStopped) String() string { return proto.CompactTextString(m) }
func (*EntityStopped) ProtoMessage()    {}

type ShardStats struct {
	Shard       string `protobuf:"bytes,1,opt,name=shard,proto3" json:"shard,omitempty"`
	EntityCount int32  `protobuf:"varint,2,opt,name=entityCount,proto3" json:"entityCount,omitempty"`
}

func (m *ShardStats) Reset()         { *m = ShardStats{} }
func (m *ShardStats) String() string { return proto.CompactTextString(m) }
func (*ShardStats) ProtoMessage()    {}

type StartEntity struct {
	EntityId string `protobuf:"bytes,1,opt,name=entityId,proto3" json:"entityId,omitempty"`
}

func (m *StartEntity) Reset()         { *m = StartEntity{} }
func (m *StartEntity) String() string { return proto.CompactTextString(m) }
func (*StartEntity) ProtoMessage()    {}

type StartEntityAck struct {
	EntityId string `protobuf:"bytes,1,opt,name=entityId,proto3" json:"entityId,omitempty"`
	ShardId  string `protobuf:"bytes,2,opt,name=shardId,proto3" json:"shardId,omitempty"`
}

func (m *StartEntityAck) Reset()         { *m = StartEntityAck{} }
func (m *StartEntityAck) String() string { return proto.CompactTextString(m) }
func (*StartEntityAck) ProtoMessage()    {}
