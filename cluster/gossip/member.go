package gossip

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/identity"
)

type MemberStatus int32

const (
	Joining MemberStatus = iota
	Up
	Leaving
	Exiting
	Down
	Removed
)

var ErrInvalidTransition = errors.New("invalid member status transition")

var memberStatusNames = [...]string{"joining", "up", "leaving", "exiting", "down", "removed"}

func (s MemberStatus) String() string {
	if s < 0 || int(s) >= len(memberStatusNames) {
		return fmt.Sprintf("MemberStatus(%d)", int32(s))
	}
	return memberStatusNames[s]
}

// priority orders statuses by how terminal they are. It is used to pick a
// member when two gossips disagree.
var priority = [...]int{
	Joining: 0,
	Up:      1,
	Leaving: 2,
	Exiting: 3,
	Down:    4,
	Removed: 5,
}

var allowedTransitions = map[MemberStatus][]MemberStatus{
	Joining: {Up, Leaving, Down, Removed},
	Up:      {Leaving, Down, Removed},
	Leaving: {Exiting, Down, Removed},
	Exiting: {Removed, Down},
	Down:    {Removed},
	Removed: {},
}

// Member is an immutable cluster member. Members are ordered by unique
// address only.
type Member struct {
	UniqueAddress identity.UniqueAddress
	UpNumber      int32
	Status        MemberStatus
	Roles         []string
}

// NewMember creates a Joining member.
func NewMember(addr identity.UniqueAddress, roles []string) Member {
	return Member{
		UniqueAddress: addr,
		UpNumber:      math.MaxInt32,
		Status:        Joining,
		Roles:         normalizeRoles(roles),
	}
}

func normalizeRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if _, ok := seen[role]; ok || role == "" {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func (m Member) Address() identity.Address {
	return m.UniqueAddress.Address
}

func (m Member) HasRole(role string) bool {
	if role == "" {
		return true
	}
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithStatus returns a copy of the member with a new status, if the status
// lattice allows it.
func (m Member) WithStatus(status MemberStatus) (Member, error) {
	if m.Status == status {
		return m, nil
	}
	for _, allowed := range allowedTransitions[m.Status] {
		if allowed == status {
			m.Status = status
			return m, nil
		}
	}
	return m, errors.Wrapf(ErrInvalidTransition, "%s -> %s", m.Status, status)
}

// Upped returns a copy of a Joining member moved to Up with the given upNumber.
func (m Member) Upped(upNumber int32) (Member, error) {
	out, err := m.WithStatus(Up)
	if err != nil {
		return m, err
	}
	out.UpNumber = upNumber
	return out, nil
}

// IsOlderThan is used to find the oldest member, hosting singletons.
func (m Member) IsOlderThan(o Member) bool {
	if m.UpNumber == o.UpNumber {
		return m.UniqueAddress.Less(o.UniqueAddress)
	}
	return m.UpNumber < o.UpNumber
}

func (m Member) Less(than btree.Item) bool {
	return m.UniqueAddress.Less(than.(Member).UniqueAddress)
}

func (m Member) String() string {
	return fmt.Sprintf("Member(%s, %s, roles=[%s])", m.UniqueAddress, m.Status, strings.Join(m.Roles, ","))
}

// highestPriority decides which of two incarnations of the same member wins
// a merge: the most terminal status, or the oldest member on a tie.
func highestPriority(a, b Member) Member {
	if a.Status == b.Status {
		if a.IsOlderThan(b) {
			return a
		}
		return b
	}
	if priority[a.Status] > priority[b.Status] {
		return a
	}
	return b
}

func (m Member) equal(o Member) bool {
	if m.UniqueAddress != o.UniqueAddress || m.UpNumber != o.UpNumber || m.Status != o.Status || len(m.Roles) != len(o.Roles) {
		return false
	}
	for idx := range m.Roles {
		if m.Roles[idx] != o.Roles[idx] {
			return false
		}
	}
	return true
}
