// Package codec serializes the sharding protocol, the coordinator and shard
// events and their snapshots. Actor references travel as paths and are
// resolved again on decoding.
package codec

import (
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/actor"
	clustercodec "github.com/vx-labs/cluster-sharding/cluster/codec"
	"github.com/vx-labs/cluster-sharding/sharding"
	"github.com/vx-labs/cluster-sharding/sharding/pb"
)

const SerializerID int32 = 13

const (
	CoordinatorStateManifest           = "AA"
	ShardRegionRegisteredManifest      = "AB"
	ShardRegionProxyRegisteredManifest = "AC"
	ShardRegionTerminatedManifest      = "AD"
	ShardRegionProxyTerminatedManifest = "AE"
	ShardHomeAllocatedManifest         = "AF"
	ShardHomeDeallocatedManifest       = "AG"

	RegisterManifest                = "BA"
	RegisterProxyManifest           = "BB"
	RegisterAckManifest             = "BC"
	GetShardHomeManifest            = "BD"
	ShardHomeManifest               = "BE"
	HostShardManifest               = "BF"
	ShardStartedManifest            = "BG"
	BeginHandOffManifest            = "BH"
	BeginHandOffAckManifest         = "BI"
	HandOffManifest                 = "BJ"
	ShardStoppedManifest            = "BK"
	GracefulShutdownRequestManifest = "BL"

	EntityStateManifest   = "CA"
	EntityStartedManifest = "CB"
	EntityStoppedManifest = "CD"

	GetShardStatsManifest = "DA"
	ShardStatsManifest    = "DB"

	StartEntityManifest    = "EA"
	StartEntityAckManifest = "EB"
)

var (
	ErrUnknownManifest = errors.New("unknown manifest")
	ErrUnknownMessage  = errors.New("unknown message type")
)

// Codec implements actor.Serializer for the sharding messages.
type Codec struct {
	resolver actor.Resolver
}

func New(resolver actor.Resolver) *Codec {
	return &Codec{resolver: resolver}
}

func (c *Codec) Identifier() int32 {
	return SerializerID
}

func (c *Codec) Manifest(msg interface{}) (string, bool) {
	switch msg.(type) {
	case sharding.State:
		return CoordinatorStateManifest, true
	case sharding.ShardRegionRegistered:
		return ShardRegionRegisteredManifest, true
	case sharding.ShardRegionProxyRegistered:
		return ShardRegionProxyRegisteredManifest, true
	case sharding.ShardRegionTerminated:
		return ShardRegionTerminatedManifest, true
	case sharding.ShardRegionProxyTerminated:
		return ShardRegionProxyTerminatedManifest, true
	case sharding.ShardHomeAllocated:
		return ShardHomeAllocatedManifest, true
	case sharding.ShardHomeDeallocated:
		return ShardHomeDeallocatedManifest, true
	case sharding.Register:
		return RegisterManifest, true
	case sharding.RegisterProxy:
		return RegisterProxyManifest, true
	case sharding.RegisterAck:
		return RegisterAckManifest, true
	case sharding.GetShardHome:
		return GetShardHomeManifest, true
	case sharding.ShardHome:
		return ShardHomeManifest, true
	case sharding.HostShard:
		return HostShardManifest, true
	case sharding.ShardStarted:
		return ShardStartedManifest, true
	case sharding.BeginHandOff:
		return BeginHandOffManifest, true
	case sharding.BeginHandOffAck:
		return BeginHandOffAckManifest, true
	case sharding.HandOff:
		return HandOffManifest, true
	case sharding.ShardStopped:
		return ShardStoppedManifest, true
	case sharding.GracefulShutdownRequest:
		return GracefulShutdownRequestManifest, true
	case sharding.ShardState:
		return EntityStateManifest, true
	case sharding.EntityStarted:
		return EntityStartedManifest, true
	case sharding.EntityStopped:
		return EntityStoppedManifest, true
	case sharding.GetShardStats:
		return GetShardStatsManifest, true
	case sharding.ShardStats:
		return ShardStatsManifest, true
	case sharding.StartEntity:
		return StartEntityManifest, true
	case sharding.StartEntityAck:
		return StartEntityAckManifest, true
	}
	return "", false
}

func refMessage(ref actor.Ref) ([]byte, error) {
	return proto.Marshal(&pb.ActorRefMessage{Ref: actor.PathOf(ref)})
}

func shardMessage(shard string) ([]byte, error) {
	return proto.Marshal(&pb.ShardIdMessage{Shard: shard})
}

func (c *Codec) ToBinary(msg interface{}) ([]byte, error) {
	switch m := msg.(type) {
	case sharding.State:
		return c.coordinatorStateToBinary(m)
	case sharding.ShardRegionRegistered:
		return refMessage(m.Region)
	case sharding.ShardRegionProxyRegistered:
		return refMessage(m.RegionProxy)
	case sharding.ShardRegionTerminated:
		return refMessage(m.Region)
	case sharding.ShardRegionProxyTerminated:
		return refMessage(m.RegionProxy)
	case sharding.ShardHomeAllocated:
		return proto.Marshal(&pb.ShardHomeAllocated{Shard: m.Shard, Region: actor.PathOf(m.Region)})
	case sharding.ShardHomeDeallocated:
		return shardMessage(m.Shard)
	case sharding.Register:
		return refMessage(m.ShardRegion)
	case sharding.RegisterProxy:
		return refMessage(m.ShardRegionProxy)
	case sharding.RegisterAck:
		return refMessage(m.Coordinator)
	case sharding.GetShardHome:
		return shardMessage(m.Shard)
	case sharding.ShardHome:
		return proto.Marshal(&pb.ShardHome{Shard: m.Shard, Region: actor.PathOf(m.Ref)})
	case sharding.HostShard:
		return shardMessage(m.Shard)
	case sharding.ShardStarted:
		return shardMessage(m.Shard)
	case sharding.BeginHandOff:
		return shardMessage(m.Shard)
	case sharding.BeginHandOffAck:
		return shardMessage(m.Shard)
	case sharding.HandOff:
		return shardMessage(m.Shard)
	case sharding.ShardStopped:
		return shardMessage(m.Shard)
	case sharding.GracefulShutdownRequest:
		return refMessage(m.ShardRegion)
	case sharding.ShardState:
		return proto.Marshal(&pb.EntityState{Entities: m.Entities()})
	case sharding.EntityStarted:
		return proto.Marshal(&pb.EntityStarted{EntityId: m.EntityID})
	case sharding.EntityStopped:
		return proto.Marshal(&pb.EntityStopped{EntityId: m.EntityID})
	case sharding.GetShardStats:
		return []byte{}, nil
	case sharding.ShardStats:
		return proto.Marshal(&pb.ShardStats{Shard: m.Shard, EntityCount: m.EntityCount})
	case sharding.StartEntity:
		return proto.Marshal(&pb.StartEntity{EntityId: m.EntityID})
	case sharding.StartEntityAck:
		return proto.Marshal(&pb.StartEntityAck{EntityId: m.EntityID, ShardId: m.Shard})
	}
	return nil, errors.Wrapf(ErrUnknownMessage, "%T", msg)
}

func (c *Codec) FromBinary(manifest string, payload []byte) (interface{}, error) {
	switch manifest {
	case CoordinatorStateManifest:
		return c.coordinatorStateFromBinary(payload)
	case ShardRegionRegisteredManifest:
		ref, err := c.refFromBinary(payload)
		return sharding.ShardRegionRegistered{Region: ref}, err
	case ShardRegionProxyRegisteredManifest:
		ref, err := c.refFromBinary(payload)
		return sharding.ShardRegionProxyRegistered{RegionProxy: ref}, err
	case ShardRegionTerminatedManifest:
		ref, err := c.refFromBinary(payload)
		return sharding.ShardRegionTerminated{Region: ref}, err
	case ShardRegionProxyTerminatedManifest:
		ref, err := c.refFromBinary(payload)
		return sharding.ShardRegionProxyTerminated{RegionProxy: ref}, err
	case ShardHomeAllocatedManifest:
		m := &pb.ShardHomeAllocated{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode ShardHomeAllocated")
		}
		ref, err := c.resolve(m.Region)
		return sharding.ShardHomeAllocated{Shard: m.Shard, Region: ref}, err
	case ShardHomeDeallocatedManifest:
		shard, err := shardFromBinary(payload)
		return sharding.ShardHomeDeallocated{Shard: shard}, err
	case RegisterManifest:
		ref, err := c.refFromBinary(payload)
		return sharding.Register{ShardRegion: ref}, err
	case RegisterProxyManifest:
		ref, err := c.refFromBinary(payload)
		return sharding.RegisterProxy{ShardRegionProxy: ref}, err
	case RegisterAckManifest:
		ref, err := c.refFromBinary(payload)
		return sharding.RegisterAck{Coordinator: ref}, err
	case GetShardHomeManifest:
		shard, err := shardFromBinary(payload)
		return sharding.GetShardHome{Shard: shard}, err
	case ShardHomeManifest:
		m := &pb.ShardHome{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode ShardHome")
		}
		ref, err := c.resolve(m.Region)
		return sharding.ShardHome{Shard: m.Shard, Ref: ref}, err
	case HostShardManifest:
		shard, err := shardFromBinary(payload)
		return sharding.HostShard{Shard: shard}, err
	case ShardStartedManifest:
		shard, err := shardFromBinary(payload)
		return sharding.ShardStarted{Shard: shard}, err
	case BeginHandOffManifest:
		shard, err := shardFromBinary(payload)
		return sharding.BeginHandOff{Shard: shard}, err
	case BeginHandOffAckManifest:
		shard, err := shardFromBinary(payload)
		return sharding.BeginHandOffAck{Shard: shard}, err
	case HandOffManifest:
		shard, err := shardFromBinary(payload)
		return sharding.HandOff{Shard: shard}, err
	case ShardStoppedManifest:
		shard, err := shardFromBinary(payload)
		return sharding.ShardStopped{Shard: shard}, err
	case GracefulShutdownRequestManifest:
		ref, err := c.refFromBinary(payload)
		return sharding.GracefulShutdownRequest{ShardRegion: ref}, err
	case EntityStateManifest:
		m := &pb.EntityState{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode EntityState")
		}
		return sharding.NewShardState(m.Entities...), nil
	case EntityStartedManifest:
		m := &pb.EntityStarted{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode EntityStarted")
		}
		return sharding.EntityStarted{EntityID: m.EntityId}, nil
	case EntityStoppedManifest:
		m := &pb.EntityStopped{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode EntityStopped")
		}
		return sharding.EntityStopped{EntityID: m.EntityId}, nil
	case GetShardStatsManifest:
		return sharding.GetShardStats{}, nil
	case ShardStatsManifest:
		m := &pb.ShardStats{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode ShardStats")
		}
		return sharding.ShardStats{Shard: m.Shard, EntityCount: m.EntityCount}, nil
	case StartEntityManifest:
		m := &pb.StartEntity{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode StartEntity")
		}
		return sharding.StartEntity{EntityID: m.EntityId}, nil
	case StartEntityAckManifest:
		m := &pb.StartEntityAck{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode StartEntityAck")
		}
		return sharding.StartEntityAck{EntityID: m.EntityId, Shard: m.ShardId}, nil
	}
	return nil, errors.Wrapf(ErrUnknownManifest, "%q", manifest)
}

func shardFromBinary(payload []byte) (string, error) {
	m := &pb.ShardIdMessage{}
	if err := proto.Unmarshal(payload, m); err != nil {
		return "", errors.Wrap(err, "failed to decode shard id")
	}
	return m.Shard, nil
}

func (c *Codec) refFromBinary(payload []byte) (actor.Ref, error) {
	m := &pb.ActorRefMessage{}
	if err := proto.Unmarshal(payload, m); err != nil {
		return nil, errors.Wrap(err, "failed to decode actor ref")
	}
	return c.resolve(m.Ref)
}

func (c *Codec) resolve(path string) (actor.Ref, error) {
	ref, err := c.resolver.Resolve(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %q", path)
	}
	return ref, nil
}

func (c *Codec) coordinatorStateToBinary(s sharding.State) ([]byte, error) {
	m := &pb.CoordinatorState{}
	for _, region := range s.Regions() {
		m.Regions = append(m.Regions, region.Region.Path())
		for _, shard := range region.Shards {
			m.Shards = append(m.Shards, &pb.CoordinatorState_ShardEntry{ShardId: shard, RegionRef: region.Region.Path()})
		}
	}
	for _, proxy := range s.Proxies() {
		m.RegionProxies = append(m.RegionProxies, proxy.Path())
	}
	m.UnallocatedShards = s.UnallocatedShards()
	buf, err := proto.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode CoordinatorState")
	}
	return clustercodec.Compress(buf)
}

func (c *Codec) coordinatorStateFromBinary(payload []byte) (sharding.State, error) {
	buf, err := clustercodec.Decompress(payload)
	if err != nil {
		return sharding.State{}, err
	}
	m := &pb.CoordinatorState{}
	if err := proto.Unmarshal(buf, m); err != nil {
		return sharding.State{}, errors.Wrap(err, "failed to decode CoordinatorState")
	}
	refs := map[string]actor.Ref{}
	resolve := func(path string) (actor.Ref, error) {
		if ref, ok := refs[path]; ok {
			return ref, nil
		}
		ref, err := c.resolve(path)
		if err != nil {
			return nil, err
		}
		refs[path] = ref
		return ref, nil
	}
	regions := make([]actor.Ref, 0, len(m.Regions))
	for _, path := range m.Regions {
		ref, err := resolve(path)
		if err != nil {
			return sharding.State{}, err
		}
		regions = append(regions, ref)
	}
	shards := make(map[string]actor.Ref, len(m.Shards))
	for _, entry := range m.Shards {
		ref, err := resolve(entry.RegionRef)
		if err != nil {
			return sharding.State{}, err
		}
		shards[entry.ShardId] = ref
	}
	proxies := make([]actor.Ref, 0, len(m.RegionProxies))
	for _, path := range m.RegionProxies {
		ref, err := resolve(path)
		if err != nil {
			return sharding.State{}, err
		}
		proxies = append(proxies, ref)
	}
	return sharding.FromSnapshot(shards, regions, proxies, m.UnallocatedShards), nil
}
