// Package sharding holds the messages, events and persisted state of the
// shard coordinator and of shards.
package sharding

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/actor"
)

var ErrInvalidEvent = errors.New("invalid event")

// State is the persisted coordinator aggregate. It is immutable: Updated
// returns a modified copy. Regions are kept in registration order, which
// is used to break allocation ties.
type State struct {
	shards      map[string]actor.Ref
	regions     map[string][]string
	regionRefs  map[string]actor.Ref
	regionOrder []string
	proxies     map[string]actor.Ref
	unallocated map[string]struct{}
}

func EmptyState() State {
	return State{
		shards:      map[string]actor.Ref{},
		regions:     map[string][]string{},
		regionRefs:  map[string]actor.Ref{},
		proxies:     map[string]actor.Ref{},
		unallocated: map[string]struct{}{},
	}
}

// RegionShards is the allocation of one region.
type RegionShards struct {
	Region actor.Ref
	Shards []string
}

// ShardHome returns the region owning shard.
func (s State) ShardHome(shard string) (actor.Ref, bool) {
	ref, ok := s.shards[shard]
	return ref, ok
}

// Shards returns a copy of the shard to region mapping.
func (s State) Shards() map[string]actor.Ref {
	out := make(map[string]actor.Ref, len(s.shards))
	for k, v := range s.shards {
		out[k] = v
	}
	return out
}

func (s State) HasRegion(region actor.Ref) bool {
	_, ok := s.regionRefs[region.Path()]
	return ok
}

func (s State) HasProxy(proxy actor.Ref) bool {
	_, ok := s.proxies[proxy.Path()]
	return ok
}

// RegionShardsOf returns the shards allocated to region, in allocation
// order.
func (s State) RegionShardsOf(region actor.Ref) []string {
	shards := s.regions[region.Path()]
	out := make([]string, len(shards))
	copy(out, shards)
	return out
}

// Regions returns every region in registration order.
func (s State) Regions() []RegionShards {
	out := make([]RegionShards, 0, len(s.regionOrder))
	for _, path := range s.regionOrder {
		shards := make([]string, len(s.regions[path]))
		copy(shards, s.regions[path])
		out = append(out, RegionShards{Region: s.regionRefs[path], Shards: shards})
	}
	return out
}

// Proxies returns the registered proxies sorted by path.
func (s State) Proxies() []actor.Ref {
	out := make([]actor.Ref, 0, len(s.proxies))
	for _, ref := range s.proxies {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// UnallocatedShards returns the sorted shards waiting for a new home.
func (s State) UnallocatedShards() []string {
	out := make([]string, 0, len(s.unallocated))
	for shard := range s.unallocated {
		out = append(out, shard)
	}
	sort.Strings(out)
	return out
}

func (s State) clone() State {
	out := State{
		shards:      make(map[string]actor.Ref, len(s.shards)),
		regions:     make(map[string][]string, len(s.regions)),
		regionRefs:  make(map[string]actor.Ref, len(s.regionRefs)),
		regionOrder: make([]string, len(s.regionOrder)),
		proxies:     make(map[string]actor.Ref, len(s.proxies)),
		unallocated: make(map[string]struct{}, len(s.unallocated)),
	}
	for k, v := range s.shards {
		out.shards[k] = v
	}
	for k, v := range s.regions {
		out.regions[k] = v
	}
	for k, v := range s.regionRefs {
		out.regionRefs[k] = v
	}
	copy(out.regionOrder, s.regionOrder)
	for k, v := range s.proxies {
		out.proxies[k] = v
	}
	for k := range s.unallocated {
		out.unallocated[k] = struct{}{}
	}
	return out
}

func removeString(l []string, v string) []string {
	out := make([]string, 0, len(l))
	for _, e := range l {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}

// Updated applies a domain event. Events violating the state invariants are
// rejected and leave the state untouched.
func (s State) Updated(event DomainEvent) (State, error) {
	switch ev := event.(type) {
	case ShardRegionRegistered:
		if s.HasRegion(ev.Region) {
			return s, errors.Wrapf(ErrInvalidEvent, "region %s already registered", ev.Region.Path())
		}
		out := s.clone()
		path := ev.Region.Path()
		out.regions[path] = []string{}
		out.regionRefs[path] = ev.Region
		out.regionOrder = append(out.regionOrder, path)
		return out, nil
	case ShardRegionProxyRegistered:
		if s.HasProxy(ev.RegionProxy) {
			return s, errors.Wrapf(ErrInvalidEvent, "region proxy %s already registered", ev.RegionProxy.Path())
		}
		out := s.clone()
		out.proxies[ev.RegionProxy.Path()] = ev.RegionProxy
		return out, nil
	case ShardRegionTerminated:
		if !s.HasRegion(ev.Region) {
			return s, errors.Wrapf(ErrInvalidEvent, "terminated region %s not registered", ev.Region.Path())
		}
		out := s.clone()
		path := ev.Region.Path()
		for _, shard := range s.regions[path] {
			delete(out.shards, shard)
			out.unallocated[shard] = struct{}{}
		}
		delete(out.regions, path)
		delete(out.regionRefs, path)
		out.regionOrder = removeString(out.regionOrder, path)
		return out, nil
	case ShardRegionProxyTerminated:
		if !s.HasProxy(ev.RegionProxy) {
			return s, errors.Wrapf(ErrInvalidEvent, "terminated region proxy %s not registered", ev.RegionProxy.Path())
		}
		out := s.clone()
		delete(out.proxies, ev.RegionProxy.Path())
		return out, nil
	case ShardHomeAllocated:
		if !s.HasRegion(ev.Region) {
			return s, errors.Wrapf(ErrInvalidEvent, "region %s for shard %s not registered", ev.Region.Path(), ev.Shard)
		}
		if _, ok := s.shards[ev.Shard]; ok {
			return s, errors.Wrapf(ErrInvalidEvent, "shard %s already allocated", ev.Shard)
		}
		out := s.clone()
		path := ev.Region.Path()
		out.shards[ev.Shard] = s.regionRefs[path]
		shards := make([]string, len(s.regions[path]), len(s.regions[path])+1)
		copy(shards, s.regions[path])
		out.regions[path] = append(shards, ev.Shard)
		delete(out.unallocated, ev.Shard)
		return out, nil
	case ShardHomeDeallocated:
		region, ok := s.shards[ev.Shard]
		if !ok {
			return s, errors.Wrapf(ErrInvalidEvent, "shard %s not allocated", ev.Shard)
		}
		if !s.HasRegion(region) {
			return s, errors.Wrapf(ErrInvalidEvent, "region %s for shard %s not registered", region.Path(), ev.Shard)
		}
		out := s.clone()
		delete(out.shards, ev.Shard)
		out.regions[region.Path()] = removeString(s.regions[region.Path()], ev.Shard)
		out.unallocated[ev.Shard] = struct{}{}
		return out, nil
	}
	return s, errors.Wrapf(ErrInvalidEvent, "unknown event %T", event)
}

// Replay folds events into an empty state.
func Replay(events ...DomainEvent) (State, error) {
	return EmptyState().Apply(events...)
}

// Apply folds events into the state.
func (s State) Apply(events ...DomainEvent) (State, error) {
	out := s
	for _, ev := range events {
		next, err := out.Updated(ev)
		if err != nil {
			return s, err
		}
		out = next
	}
	return out, nil
}

// Equal compares two states by actor path.
func (s State) Equal(o State) bool {
	if len(s.shards) != len(o.shards) || len(s.regions) != len(o.regions) ||
		len(s.proxies) != len(o.proxies) || len(s.unallocated) != len(o.unallocated) {
		return false
	}
	for shard, ref := range s.shards {
		if !actor.Equal(ref, o.shards[shard]) {
			return false
		}
	}
	for idx, path := range s.regionOrder {
		if o.regionOrder[idx] != path {
			return false
		}
		a, b := s.regions[path], o.regions[path]
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	for path := range s.proxies {
		if _, ok := o.proxies[path]; !ok {
			return false
		}
	}
	for shard := range s.unallocated {
		if _, ok := o.unallocated[shard]; !ok {
			return false
		}
	}
	return true
}

// FromSnapshot rebuilds a state from its decoded parts. Regions are
// derived from the shard entries; regions without shards keep the given
// order.
func FromSnapshot(shards map[string]actor.Ref, regions []actor.Ref, proxies []actor.Ref, unallocated []string) State {
	out := EmptyState()
	for _, region := range regions {
		if _, ok := out.regionRefs[region.Path()]; ok {
			continue
		}
		out.regionRefs[region.Path()] = region
		out.regions[region.Path()] = []string{}
		out.regionOrder = append(out.regionOrder, region.Path())
	}
	names := make([]string, 0, len(shards))
	for shard := range shards {
		names = append(names, shard)
	}
	sort.Strings(names)
	for _, shard := range names {
		ref := shards[shard]
		path := ref.Path()
		if _, ok := out.regionRefs[path]; !ok {
			out.regionRefs[path] = ref
			out.regionOrder = append(out.regionOrder, path)
		}
		out.regions[path] = append(out.regions[path], shard)
		out.shards[shard] = out.regionRefs[path]
	}
	for _, proxy := range proxies {
		out.proxies[proxy.Path()] = proxy
	}
	for _, shard := range unallocated {
		if _, ok := out.shards[shard]; !ok {
			out.unallocated[shard] = struct{}{}
		}
	}
	return out
}
