package sharding

import "github.com/vx-labs/cluster-sharding/actor"

// DomainEvent is a persisted coordinator state transition.
type DomainEvent interface {
	domainEvent()
}

type ShardRegionRegistered struct {
	Region actor.Ref
}

type ShardRegionProxyRegistered struct {
	RegionProxy actor.Ref
}

type ShardRegionTerminated struct {
	Region actor.Ref
}

type ShardRegionProxyTerminated struct {
	RegionProxy actor.Ref
}

type ShardHomeAllocated struct {
	Shard  string
	Region actor.Ref
}

type ShardHomeDeallocated struct {
	Shard string
}

func (ShardRegionRegistered) domainEvent()      {}
func (ShardRegionProxyRegistered) domainEvent() {}
func (ShardRegionTerminated) domainEvent()      {}
func (ShardRegionProxyTerminated) domainEvent() {}
func (ShardHomeAllocated) domainEvent()         {}
func (ShardHomeDeallocated) domainEvent()       {}

// ShardEvent is a persisted shard state transition.
type ShardEvent interface {
	shardEvent()
}

type EntityStarted struct {
	EntityID string
}

type EntityStopped struct {
	EntityID string
}

func (EntityStarted) shardEvent() {}
func (EntityStopped) shardEvent() {}
