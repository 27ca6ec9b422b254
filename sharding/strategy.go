package sharding

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/actor"
)

var ErrNoRegion = errors.New("no region available")

// AllocationStrategy decides where shards live.
type AllocationStrategy interface {
	// AllocateShard picks the region for a new shard among current, which
	// is in registration order.
	AllocateShard(requester actor.Ref, shard string, current []RegionShards) (actor.Ref, error)
	// Rebalance returns the shards that should be handed off.
	Rebalance(current []RegionShards, inProgress map[string]struct{}) []string
}

// LeastShardAllocationStrategy allocates new shards to the region with the
// fewest shards, the first registered region winning ties. It rebalances
// from the most loaded region once the difference with the least loaded
// one exceeds RebalanceThreshold, and never on a difference of one shard.
// A round moves the excess over the threshold, at most half of the
// difference, and at most MaxSimultaneousRebalance shards in flight.
type LeastShardAllocationStrategy struct {
	RebalanceThreshold       int
	MaxSimultaneousRebalance int
}

func (l LeastShardAllocationStrategy) AllocateShard(requester actor.Ref, shard string, current []RegionShards) (actor.Ref, error) {
	if len(current) == 0 {
		return nil, ErrNoRegion
	}
	best := current[0]
	for _, candidate := range current[1:] {
		if len(candidate.Shards) < len(best.Shards) {
			best = candidate
		}
	}
	return best.Region, nil
}

func (l LeastShardAllocationStrategy) Rebalance(current []RegionShards, inProgress map[string]struct{}) []string {
	if len(inProgress) >= l.MaxSimultaneousRebalance || len(current) < 2 {
		return nil
	}
	least := current[0]
	for _, candidate := range current[1:] {
		if len(candidate.Shards) < len(least.Shards) {
			least = candidate
		}
	}
	var most []string
	for _, candidate := range current {
		pending := []string{}
		for _, shard := range candidate.Shards {
			if _, ok := inProgress[shard]; !ok {
				pending = append(pending, shard)
			}
		}
		if len(pending) > len(most) {
			most = pending
		}
	}
	difference := len(most) - len(least.Shards)
	if difference <= l.RebalanceThreshold || difference < 2 {
		return nil
	}
	n := difference - l.RebalanceThreshold
	if n > difference/2 {
		n = difference / 2
	}
	if room := l.MaxSimultaneousRebalance - len(inProgress); n > room {
		n = room
	}
	sort.Strings(most)
	if n > len(most) {
		n = len(most)
	}
	return most[:n]
}
