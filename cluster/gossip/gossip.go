// Package gossip implements the replicated cluster membership state and the
// rules used to merge concurrent versions of it.
package gossip

import (
	"fmt"
	"strings"

	"github.com/google/btree"
	"github.com/vx-labs/cluster-sharding/cluster/reachability"
	"github.com/vx-labs/cluster-sharding/cluster/vclock"
	"github.com/vx-labs/cluster-sharding/identity"
)

const btreeDegree = 8

type AddressSet map[identity.UniqueAddress]struct{}

func (s AddressSet) Contains(addr identity.UniqueAddress) bool {
	_, ok := s[addr]
	return ok
}

// Sorted returns the set members in address order.
func (s AddressSet) Sorted() []identity.UniqueAddress {
	out := make([]identity.UniqueAddress, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	identity.SortUniqueAddresses(out)
	return out
}

type Overview struct {
	Seen         AddressSet
	Reachability reachability.Reachability
}

// Gossip is an immutable snapshot of the cluster membership. Every method
// returning a Gossip leaves the receiver untouched.
type Gossip struct {
	members    *btree.BTree
	Overview   Overview
	Version    vclock.VectorClock
	Tombstones map[identity.UniqueAddress]int64
}

// VClockNode returns the vector clock identity of a member.
func VClockNode(addr identity.UniqueAddress) vclock.Node {
	return vclock.Node(addr.String())
}

func Empty() Gossip {
	return Gossip{
		members:    btree.New(btreeDegree),
		Overview:   Overview{Seen: AddressSet{}},
		Tombstones: map[identity.UniqueAddress]int64{},
	}
}

// New creates a gossip holding the given members.
func New(members ...Member) Gossip {
	g := Empty()
	for _, m := range members {
		g.members.ReplaceOrInsert(m)
	}
	return g
}

func (g Gossip) tree() *btree.BTree {
	if g.members == nil {
		return btree.New(btreeDegree)
	}
	return g.members
}

func (g Gossip) clone() Gossip {
	out := g
	out.members = g.tree().Clone()
	out.Overview.Seen = make(AddressSet, len(g.Overview.Seen))
	for k := range g.Overview.Seen {
		out.Overview.Seen[k] = struct{}{}
	}
	out.Tombstones = make(map[identity.UniqueAddress]int64, len(g.Tombstones))
	for k, v := range g.Tombstones {
		out.Tombstones[k] = v
	}
	return out
}

// Members returns the members in address order.
func (g Gossip) Members() []Member {
	out := make([]Member, 0, g.tree().Len())
	g.tree().Ascend(func(i btree.Item) bool {
		out = append(out, i.(Member))
		return true
	})
	return out
}

func (g Gossip) MemberCount() int {
	return g.tree().Len()
}

func (g Gossip) Member(addr identity.UniqueAddress) (Member, bool) {
	item := g.tree().Get(Member{UniqueAddress: addr})
	if item == nil {
		return Member{}, false
	}
	return item.(Member), true
}

func (g Gossip) HasMember(addr identity.UniqueAddress) bool {
	_, ok := g.Member(addr)
	return ok
}

func (g Gossip) memberAddresses() AddressSet {
	out := make(AddressSet, g.tree().Len())
	g.tree().Ascend(func(i btree.Item) bool {
		out[i.(Member).UniqueAddress] = struct{}{}
		return true
	})
	return out
}

// WithMember adds or replaces a member.
func (g Gossip) WithMember(m Member) Gossip {
	out := g.clone()
	out.members.ReplaceOrInsert(m)
	return out
}

// Increment advances the version on behalf of node.
func (g Gossip) Increment(node identity.UniqueAddress) Gossip {
	out := g
	out.Version = g.Version.Increment(VClockNode(node))
	return out
}

// RemoveMember drops a member, its seen entry, its reachability records and
// its vector clock entry, and records a tombstone so that concurrent gossips
// cannot bring it back.
func (g Gossip) RemoveMember(addr identity.UniqueAddress, removedAt int64) Gossip {
	out := g.clone()
	out.members.Delete(Member{UniqueAddress: addr})
	out.Version = g.Version.Prune(VClockNode(addr))
	delete(out.Overview.Seen, addr)
	out.Overview.Reachability = g.Overview.Reachability.Remove(addr)
	out.Tombstones[addr] = removedAt
	return out
}

// PruneTombstones forgets tombstones recorded before the given timestamp.
func (g Gossip) PruneTombstones(before int64) Gossip {
	out := g
	out.Tombstones = make(map[identity.UniqueAddress]int64, len(g.Tombstones))
	for k, v := range g.Tombstones {
		if v >= before {
			out.Tombstones[k] = v
		}
	}
	return out
}

func (g Gossip) WithReachability(r reachability.Reachability) Gossip {
	out := g
	out.Overview.Reachability = r
	return out
}

// MarkSeen records that addr has seen the current version.
func (g Gossip) MarkSeen(addr identity.UniqueAddress) Gossip {
	if g.SeenByNode(addr) {
		return g
	}
	out := g.clone()
	out.Overview.Seen[addr] = struct{}{}
	return out
}

// MarkSeenAt only marks addr if version is the one currently held. A stale
// acknowledgement is ignored.
func (g Gossip) MarkSeenAt(version vclock.VectorClock, addr identity.UniqueAddress) Gossip {
	if g.Version.Compare(version) != vclock.Same {
		return g
	}
	return g.MarkSeen(addr)
}

// OnlySeen resets the seen set to addr.
func (g Gossip) OnlySeen(addr identity.UniqueAddress) Gossip {
	out := g.clone()
	out.Overview.Seen = AddressSet{addr: struct{}{}}
	return out
}

// MergeSeen unions the seen sets of two gossips holding the same version.
func (g Gossip) MergeSeen(other Gossip) Gossip {
	if g.Version.Compare(other.Version) != vclock.Same {
		return g
	}
	out := g.clone()
	for k := range other.Overview.Seen {
		out.Overview.Seen[k] = struct{}{}
	}
	return out
}

func (g Gossip) SeenByNode(addr identity.UniqueAddress) bool {
	return g.Overview.Seen.Contains(addr)
}

// Merge combines two concurrent gossips. The result holds the most terminal
// incarnation of each member, a version dominating both inputs once removed
// nodes are pruned, and an empty seen set. A member whose winning status is
// Removed is dropped and tombstoned, so that later merges with stale copies
// cannot bring it back.
func (g Gossip) Merge(that Gossip) Gossip {
	tombstones := make(map[identity.UniqueAddress]int64, len(g.Tombstones)+len(that.Tombstones))
	latest := int64(0)
	for _, src := range []map[identity.UniqueAddress]int64{g.Tombstones, that.Tombstones} {
		for k, v := range src {
			if cur, ok := tombstones[k]; !ok || v > cur {
				tombstones[k] = v
			}
			if v > latest {
				latest = v
			}
		}
	}

	winners := btree.New(btreeDegree)
	pick := func(i btree.Item) bool {
		m := i.(Member)
		if existing := winners.Get(m); existing != nil {
			m = highestPriority(existing.(Member), m)
		}
		winners.ReplaceOrInsert(m)
		return true
	}
	g.tree().Ascend(pick)
	that.tree().Ascend(pick)

	members := btree.New(btreeDegree)
	winners.Ascend(func(i btree.Item) bool {
		m := i.(Member)
		if _, removed := tombstones[m.UniqueAddress]; removed {
			return true
		}
		if m.Status == Removed {
			tombstones[m.UniqueAddress] = latest
			return true
		}
		members.ReplaceOrInsert(m)
		return true
	})

	version := g.Version.Merge(that.Version)
	for addr := range tombstones {
		version = version.Prune(VClockNode(addr))
	}
	out := Gossip{
		members:    members,
		Version:    version,
		Tombstones: tombstones,
	}
	out.Overview = Overview{
		Seen:         AddressSet{},
		Reachability: g.Overview.Reachability.Merge(out.memberAddresses(), that.Overview.Reachability),
	}
	return out
}

// Convergence reports whether every member that matters has seen the
// current version. Unreachable members block convergence unless they are
// Down or Exiting; observations made by Down members are ignored.
func (g Gossip) Convergence(self identity.UniqueAddress) bool {
	downed := []identity.UniqueAddress{}
	g.tree().Ascend(func(i btree.Item) bool {
		if m := i.(Member); m.Status == Down {
			downed = append(downed, m.UniqueAddress)
		}
		return true
	})
	reach := g.Overview.Reachability.RemoveObservers(downed...)
	unreachable := AddressSet{}
	for _, addr := range reach.AllUnreachableOrTerminated() {
		if addr == self {
			continue
		}
		m, ok := g.Member(addr)
		if !ok {
			continue
		}
		if m.Status != Down && m.Status != Exiting {
			return false
		}
		unreachable[addr] = struct{}{}
	}
	converged := true
	g.tree().Ascend(func(i btree.Item) bool {
		m := i.(Member)
		if m.Status == Down || m.Status == Removed || unreachable.Contains(m.UniqueAddress) {
			return true
		}
		if !g.SeenByNode(m.UniqueAddress) {
			converged = false
			return false
		}
		return true
	})
	return converged
}

// IsReachable reports the aggregated reachability of a member.
func (g Gossip) IsReachable(addr identity.UniqueAddress) bool {
	return g.Overview.Reachability.IsReachable(addr)
}

// Equal compares members, overview and version.
func (g Gossip) Equal(o Gossip) bool {
	if g.Version.Compare(o.Version) != vclock.Same || g.MemberCount() != o.MemberCount() {
		return false
	}
	a, b := g.Members(), o.Members()
	for idx := range a {
		if !a[idx].equal(b[idx]) {
			return false
		}
	}
	if len(g.Overview.Seen) != len(o.Overview.Seen) {
		return false
	}
	for k := range g.Overview.Seen {
		if !o.Overview.Seen.Contains(k) {
			return false
		}
	}
	return g.Overview.Reachability.Equal(o.Overview.Reachability)
}

func (g Gossip) String() string {
	members := g.Members()
	parts := make([]string, len(members))
	for idx, m := range members {
		parts[idx] = m.String()
	}
	return fmt.Sprintf("Gossip(members=[%s], seen=%d, %s)", strings.Join(parts, ", "), len(g.Overview.Seen), g.Version)
}
