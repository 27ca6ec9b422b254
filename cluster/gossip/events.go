package gossip

import (
	"github.com/vx-labs/cluster-sharding/cluster/vclock"
	"github.com/vx-labs/cluster-sharding/identity"
)

type EventKind int

const (
	MemberJoined EventKind = iota
	MemberUp
	MemberLeft
	MemberExited
	MemberDowned
	MemberRemoved
	UnreachableMember
	ReachableMember
	LeaderChanged
)

var eventKindNames = [...]string{
	"member_joined", "member_up", "member_left", "member_exited", "member_downed",
	"member_removed", "unreachable_member", "reachable_member", "leader_changed",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// Event describes a change between two successive local gossips.
type Event struct {
	Kind           EventKind
	Member         Member
	PreviousStatus MemberStatus
	Leader         identity.UniqueAddress
}

func statusEvent(s MemberStatus) (EventKind, bool) {
	switch s {
	case Joining:
		return MemberJoined, true
	case Up:
		return MemberUp, true
	case Leaving:
		return MemberLeft, true
	case Exiting:
		return MemberExited, true
	case Down:
		return MemberDowned, true
	}
	return 0, false
}

// Diff lists the membership, reachability and leadership changes between
// two gossips, from the point of view of self.
func Diff(prev, next Gossip, self identity.UniqueAddress) []Event {
	if prev.Version.Compare(next.Version) == vclock.Same && prev.MemberCount() == next.MemberCount() &&
		prev.Overview.Reachability.Equal(next.Overview.Reachability) {
		return nil
	}
	out := []Event{}
	for _, m := range next.Members() {
		before, existed := prev.Member(m.UniqueAddress)
		if existed && before.Status == m.Status {
			continue
		}
		if kind, ok := statusEvent(m.Status); ok {
			ev := Event{Kind: kind, Member: m}
			if existed {
				ev.PreviousStatus = before.Status
			}
			out = append(out, ev)
		}
	}
	for _, m := range prev.Members() {
		if !next.HasMember(m.UniqueAddress) {
			removed := m
			removed.Status = Removed
			out = append(out, Event{Kind: MemberRemoved, Member: removed, PreviousStatus: m.Status})
		}
	}
	for _, m := range next.Members() {
		if m.UniqueAddress == self {
			continue
		}
		wasReachable := prev.IsReachable(m.UniqueAddress)
		isReachable := next.IsReachable(m.UniqueAddress)
		switch {
		case wasReachable && !isReachable:
			out = append(out, Event{Kind: UnreachableMember, Member: m})
		case !wasReachable && isReachable && prev.HasMember(m.UniqueAddress):
			out = append(out, Event{Kind: ReachableMember, Member: m})
		}
	}
	prevLeader, _ := prev.Leader(self)
	nextLeader, _ := next.Leader(self)
	if prevLeader != nextLeader {
		out = append(out, Event{Kind: LeaderChanged, Leader: nextLeader})
	}
	return out
}
