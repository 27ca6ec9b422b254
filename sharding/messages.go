package sharding

import "github.com/vx-labs/cluster-sharding/actor"

// Coordinator protocol. Shard ids and entity ids are plain strings.

// Register is sent by a shard region to the coordinator.
type Register struct {
	ShardRegion actor.Ref
}

// RegisterProxy is sent by a region that routes messages but hosts no shard.
type RegisterProxy struct {
	ShardRegionProxy actor.Ref
}

type RegisterAck struct {
	Coordinator actor.Ref
}

type GetShardHome struct {
	Shard string
}

type ShardHome struct {
	Shard string
	Ref   actor.Ref
}

// HostShard asks a region to start a shard allocated to it.
type HostShard struct {
	Shard string
}

// ShardStarted acknowledges a HostShard.
type ShardStarted struct {
	Shard string
}

type BeginHandOff struct {
	Shard string
}

type BeginHandOffAck struct {
	Shard string
}

type HandOff struct {
	Shard string
}

type ShardStopped struct {
	Shard string
}

type GracefulShutdownRequest struct {
	ShardRegion actor.Ref
}

// GetShardStats is answered by a shard with ShardStats.
type GetShardStats struct{}

type ShardStats struct {
	Shard       string
	EntityCount int32
}

// StartEntity asks the shard owning an entity to start it.
type StartEntity struct {
	EntityID string
}

type StartEntityAck struct {
	EntityID string
	Shard    string
}
