package identity

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// UniqueAddress identifies one incarnation of a cluster member. The UID
// changes when a node restarts on the same address.
type UniqueAddress struct {
	Address Address
	UID     int32
}

func (u UniqueAddress) String() string {
	return fmt.Sprintf("%s#%d", u.Address.String(), u.UID)
}

func (u UniqueAddress) Compare(o UniqueAddress) int {
	if c := u.Address.Compare(o.Address); c != 0 {
		return c
	}
	switch {
	case u.UID < o.UID:
		return -1
	case u.UID > o.UID:
		return 1
	}
	return 0
}

func (u UniqueAddress) Less(o UniqueAddress) bool {
	return u.Compare(o) < 0
}

func (u UniqueAddress) IsZero() bool {
	return u == UniqueAddress{}
}

func ParseUniqueAddress(s string) (UniqueAddress, error) {
	idx := strings.LastIndex(s, "#")
	if idx < 0 {
		return UniqueAddress{}, errors.Wrapf(ErrInvalidAddress, "missing uid in %q", s)
	}
	addr, err := ParseAddress(s[:idx])
	if err != nil {
		return UniqueAddress{}, err
	}
	uid, err := strconv.ParseInt(s[idx+1:], 10, 32)
	if err != nil {
		return UniqueAddress{}, errors.Wrapf(ErrInvalidAddress, "invalid uid in %q", s)
	}
	return UniqueAddress{Address: addr, UID: int32(uid)}, nil
}

// NewUID returns a random, non-zero incarnation id.
func NewUID() int32 {
	for {
		id := uuid.New()
		v := int32(binary.BigEndian.Uint32(id[:4]))
		if v != 0 {
			return v
		}
	}
}

// SortUniqueAddresses sorts the given slice in place.
func SortUniqueAddresses(l []UniqueAddress) {
	sort.Slice(l, func(i, j int) bool { return l[i].Less(l[j]) })
}
