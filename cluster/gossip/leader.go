package gossip

import (
	"math"

	"github.com/google/btree"
	"github.com/vx-labs/cluster-sharding/identity"
)

func leaderStatus(s MemberStatus) bool {
	return s == Up || s == Leaving
}

// Leader returns the member in charge of leader actions, as seen from self:
// the first reachable Up or Leaving member in address order.
func (g Gossip) Leader(self identity.UniqueAddress) (identity.UniqueAddress, bool) {
	return g.RoleLeader("", self)
}

// RoleLeader returns the leader among the members carrying role.
func (g Gossip) RoleLeader(role string, self identity.UniqueAddress) (identity.UniqueAddress, bool) {
	allReachable := g.Overview.Reachability.IsAllReachable()
	var fallback *Member
	var leader *Member
	g.tree().Ascend(func(i btree.Item) bool {
		m := i.(Member)
		if !m.HasRole(role) || m.Status == Down || m.Status == Removed {
			return true
		}
		if !allReachable && m.UniqueAddress != self && !g.IsReachable(m.UniqueAddress) {
			return true
		}
		if leaderStatus(m.Status) {
			leader = &m
			return false
		}
		if fallback == nil && m.Status != Exiting {
			fallback = &m
		}
		return true
	})
	switch {
	case leader != nil:
		return leader.UniqueAddress, true
	case fallback != nil:
		return fallback.UniqueAddress, true
	}
	return identity.UniqueAddress{}, false
}

// Oldest returns the Up member with role that joined the cluster first.
func (g Gossip) Oldest(role string) (Member, bool) {
	var oldest Member
	found := false
	g.tree().Ascend(func(i btree.Item) bool {
		m := i.(Member)
		if m.Status != Up || !m.HasRole(role) {
			return true
		}
		if !found || m.IsOlderThan(oldest) {
			oldest = m
			found = true
		}
		return true
	})
	return oldest, found
}

// LeaderActions moves Joining members to Up, Leaving members to Exiting,
// and removes unreachable Down or Exiting members as well as reachable
// Exiting members that every node already saw. It must only be called by the
// leader on a converged gossip. The second result is false when nothing
// changed; removed lists the pruned members.
func (g Gossip) LeaderActions(now int64) (out Gossip, removed []Member, changed bool) {
	upNumber := int32(0)
	g.tree().Ascend(func(i btree.Item) bool {
		if n := i.(Member).UpNumber; n != math.MaxInt32 && n > upNumber {
			upNumber = n
		}
		return true
	})

	out = g
	for _, m := range g.Members() {
		switch m.Status {
		case Down:
			if !g.IsReachable(m.UniqueAddress) {
				removed = append(removed, m)
			}
		case Exiting:
			removed = append(removed, m)
		case Joining:
			upNumber++
			upped, err := m.Upped(upNumber)
			if err == nil {
				out = out.WithMember(upped)
				changed = true
			}
		case Leaving:
			exiting, err := m.WithStatus(Exiting)
			if err == nil {
				out = out.WithMember(exiting)
				changed = true
			}
		}
	}
	for _, m := range removed {
		out = out.RemoveMember(m.UniqueAddress, now)
		changed = true
	}
	return out, removed, changed
}

// Downed marks a member Down. It returns false if the member is unknown or
// already Down.
func (g Gossip) Downed(addr identity.UniqueAddress) (Gossip, bool) {
	m, ok := g.Member(addr)
	if !ok || m.Status == Down || m.Status == Removed {
		return g, false
	}
	down, err := m.WithStatus(Down)
	if err != nil {
		return g, false
	}
	return g.WithMember(down), true
}

// Left marks a member Leaving. It returns false if the member is unknown or
// already on its way out.
func (g Gossip) Left(addr identity.UniqueAddress) (Gossip, bool) {
	m, ok := g.Member(addr)
	if !ok || m.Status != Joining && m.Status != Up {
		return g, false
	}
	leaving, err := m.WithStatus(Leaving)
	if err != nil {
		return g, false
	}
	return g.WithMember(leaving), true
}
