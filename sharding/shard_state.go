package sharding

import "sort"

// ShardState is the set of entities running in a shard, replayed on shard
// restart so that they can be started again.
type ShardState struct {
	entities map[string]struct{}
}

func EmptyShardState() ShardState {
	return ShardState{entities: map[string]struct{}{}}
}

func NewShardState(entities ...string) ShardState {
	out := EmptyShardState()
	for _, id := range entities {
		out.entities[id] = struct{}{}
	}
	return out
}

func (s ShardState) Updated(event ShardEvent) ShardState {
	out := ShardState{entities: make(map[string]struct{}, len(s.entities)+1)}
	for k := range s.entities {
		out.entities[k] = struct{}{}
	}
	switch ev := event.(type) {
	case EntityStarted:
		out.entities[ev.EntityID] = struct{}{}
	case EntityStopped:
		delete(out.entities, ev.EntityID)
	}
	return out
}

func (s ShardState) Contains(entityID string) bool {
	_, ok := s.entities[entityID]
	return ok
}

func (s ShardState) Len() int {
	return len(s.entities)
}

// Entities returns the sorted entity ids.
func (s ShardState) Entities() []string {
	out := make([]string, 0, len(s.entities))
	for id := range s.entities {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
