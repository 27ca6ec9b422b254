package codec

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/cluster/gossip"
	"github.com/vx-labs/cluster-sharding/cluster/pb"
	"github.com/vx-labs/cluster-sharding/cluster/reachability"
	"github.com/vx-labs/cluster-sharding/cluster/vclock"
	"github.com/vx-labs/cluster-sharding/identity"
)

// addressTable assigns a stable index to every address referenced by a
// gossip, so that members, seen entries and reachability records only carry
// integers on the wire.
type addressTable struct {
	index map[identity.UniqueAddress]int32
	list  []identity.UniqueAddress
}

func newAddressTable(addrs map[identity.UniqueAddress]struct{}) *addressTable {
	t := &addressTable{index: make(map[identity.UniqueAddress]int32, len(addrs))}
	for addr := range addrs {
		t.list = append(t.list, addr)
	}
	identity.SortUniqueAddresses(t.list)
	for idx, addr := range t.list {
		t.index[addr] = int32(idx)
	}
	return t
}

func stringTable(values map[string]struct{}) ([]string, map[string]int32) {
	list := make([]string, 0, len(values))
	for v := range values {
		list = append(list, v)
	}
	sort.Strings(list)
	index := make(map[string]int32, len(list))
	for idx, v := range list {
		index[v] = int32(idx)
	}
	return list, index
}

func vectorClockToProto(v vclock.VectorClock, hashIndex map[string]int32) *pb.VectorClock {
	out := &pb.VectorClock{}
	for _, e := range v.Entries() {
		out.Versions = append(out.Versions, &pb.VectorClock_Version{
			HashIndex: hashIndex[string(e.Node)],
			Timestamp: e.Timestamp,
		})
	}
	return out
}

func vectorClockFromProto(v *pb.VectorClock, hashes []string) (vclock.VectorClock, error) {
	if v == nil {
		return vclock.VectorClock{}, nil
	}
	entries := make([]vclock.Entry, 0, len(v.Versions))
	for _, version := range v.Versions {
		if version.HashIndex < 0 || int(version.HashIndex) >= len(hashes) {
			return vclock.VectorClock{}, errors.Wrapf(ErrInvalidPayload, "hash index %d out of range", version.HashIndex)
		}
		entries = append(entries, vclock.Entry{Node: vclock.Node(hashes[version.HashIndex]), Timestamp: version.Timestamp})
	}
	return vclock.New(entries...), nil
}

func hashesOf(v vclock.VectorClock) ([]string, map[string]int32) {
	set := map[string]struct{}{}
	for _, e := range v.Entries() {
		set[string(e.Node)] = struct{}{}
	}
	return stringTable(set)
}

func statusToProto(m gossip.Status) *pb.GossipStatus {
	hashes, hashIndex := hashesOf(m.Version)
	return &pb.GossipStatus{
		From:      uniqueAddressToProto(m.From),
		AllHashes: hashes,
		Version:   vectorClockToProto(m.Version, hashIndex),
	}
}

func statusFromProto(m *pb.GossipStatus) (gossip.Message, error) {
	from, err := uniqueAddressFromProto(m.From)
	if err != nil {
		return nil, err
	}
	version, err := vectorClockFromProto(m.Version, m.AllHashes)
	if err != nil {
		return nil, err
	}
	return gossip.Status{From: from, Version: version}, nil
}

// GossipToProto builds the indexed wire form of a gossip.
func GossipToProto(g gossip.Gossip) (*pb.Gossip, error) {
	members := g.Members()
	reach := g.Overview.Reachability
	versions := reach.Versions()

	addrs := map[identity.UniqueAddress]struct{}{}
	roles := map[string]struct{}{}
	for _, m := range members {
		addrs[m.UniqueAddress] = struct{}{}
		for _, role := range m.Roles {
			roles[role] = struct{}{}
		}
	}
	for addr := range g.Overview.Seen {
		addrs[addr] = struct{}{}
	}
	for _, record := range reach.Records() {
		addrs[record.Observer] = struct{}{}
		addrs[record.Subject] = struct{}{}
	}
	for observer := range versions {
		addrs[observer] = struct{}{}
	}
	for addr := range g.Tombstones {
		addrs[addr] = struct{}{}
	}
	table := newAddressTable(addrs)
	roleList, roleIndex := stringTable(roles)
	hashes, hashIndex := hashesOf(g.Version)

	out := &pb.Gossip{
		AllRoles:  roleList,
		AllHashes: hashes,
		Overview:  &pb.GossipOverview{},
		Version:   vectorClockToProto(g.Version, hashIndex),
	}
	for _, addr := range table.list {
		out.AllAddresses = append(out.AllAddresses, uniqueAddressToProto(addr))
	}
	for _, m := range members {
		pm := &pb.Member{
			AddressIndex: table.index[m.UniqueAddress],
			UpNumber:     m.UpNumber,
			Status:       int32(m.Status),
		}
		for _, role := range m.Roles {
			pm.RolesIndexes = append(pm.RolesIndexes, roleIndex[role])
		}
		out.Members = append(out.Members, pm)
	}
	for _, addr := range g.Overview.Seen.Sorted() {
		out.Overview.Seen = append(out.Overview.Seen, table.index[addr])
	}
	observers := make([]identity.UniqueAddress, 0, len(versions))
	for observer := range versions {
		observers = append(observers, observer)
	}
	identity.SortUniqueAddresses(observers)
	for _, observer := range observers {
		row := &pb.ObserverReachability{
			AddressIndex: table.index[observer],
			Version:      versions[observer],
		}
		for _, record := range reach.RecordsFrom(observer) {
			row.SubjectReachability = append(row.SubjectReachability, &pb.SubjectReachability{
				AddressIndex: table.index[record.Subject],
				Status:       int32(record.Status),
				Version:      record.Version,
			})
		}
		out.Overview.ObserverReachability = append(out.Overview.ObserverReachability, row)
	}
	tombstones := make([]identity.UniqueAddress, 0, len(g.Tombstones))
	for addr := range g.Tombstones {
		tombstones = append(tombstones, addr)
	}
	identity.SortUniqueAddresses(tombstones)
	for _, addr := range tombstones {
		out.Tombstones = append(out.Tombstones, &pb.Tombstone{AddressIndex: table.index[addr], Timestamp: g.Tombstones[addr]})
	}
	return out, nil
}

// GossipFromProto resolves the index tables of a decoded gossip.
func GossipFromProto(m *pb.Gossip) (gossip.Gossip, error) {
	if m == nil {
		return gossip.Gossip{}, errors.Wrap(ErrInvalidPayload, "missing gossip")
	}
	addrs := make([]identity.UniqueAddress, len(m.AllAddresses))
	for idx, a := range m.AllAddresses {
		addr, err := uniqueAddressFromProto(a)
		if err != nil {
			return gossip.Gossip{}, err
		}
		addrs[idx] = addr
	}
	lookup := func(idx int32) (identity.UniqueAddress, error) {
		if idx < 0 || int(idx) >= len(addrs) {
			return identity.UniqueAddress{}, errors.Wrapf(ErrInvalidPayload, "address index %d out of range", idx)
		}
		return addrs[idx], nil
	}

	members := make([]gossip.Member, 0, len(m.Members))
	for _, pm := range m.Members {
		addr, err := lookup(pm.AddressIndex)
		if err != nil {
			return gossip.Gossip{}, err
		}
		if pm.Status < int32(gossip.Joining) || pm.Status > int32(gossip.Removed) {
			return gossip.Gossip{}, errors.Wrapf(ErrInvalidPayload, "invalid member status %d", pm.Status)
		}
		roles := make([]string, 0, len(pm.RolesIndexes))
		for _, ri := range pm.RolesIndexes {
			if ri < 0 || int(ri) >= len(m.AllRoles) {
				return gossip.Gossip{}, errors.Wrapf(ErrInvalidPayload, "role index %d out of range", ri)
			}
			roles = append(roles, m.AllRoles[ri])
		}
		member := gossip.NewMember(addr, roles)
		member.UpNumber = pm.UpNumber
		member.Status = gossip.MemberStatus(pm.Status)
		members = append(members, member)
	}
	out := gossip.New(members...)

	version, err := vectorClockFromProto(m.Version, m.AllHashes)
	if err != nil {
		return gossip.Gossip{}, err
	}
	out.Version = version

	if m.Overview != nil {
		for _, idx := range m.Overview.Seen {
			addr, err := lookup(idx)
			if err != nil {
				return gossip.Gossip{}, err
			}
			out.Overview.Seen[addr] = struct{}{}
		}
		records := []reachability.Record{}
		versions := map[identity.UniqueAddress]int64{}
		for _, row := range m.Overview.ObserverReachability {
			observer, err := lookup(row.AddressIndex)
			if err != nil {
				return gossip.Gossip{}, err
			}
			versions[observer] = row.Version
			for _, subject := range row.SubjectReachability {
				addr, err := lookup(subject.AddressIndex)
				if err != nil {
					return gossip.Gossip{}, err
				}
				if subject.Status < int32(reachability.Reachable) || subject.Status > int32(reachability.Terminated) {
					return gossip.Gossip{}, errors.Wrapf(ErrInvalidPayload, "invalid reachability status %d", subject.Status)
				}
				records = append(records, reachability.Record{
					Observer: observer,
					Subject:  addr,
					Status:   reachability.Status(subject.Status),
					Version:  subject.Version,
				})
			}
		}
		out.Overview.Reachability = reachability.New(records, versions)
	}
	for _, tombstone := range m.Tombstones {
		addr, err := lookup(tombstone.AddressIndex)
		if err != nil {
			return gossip.Gossip{}, err
		}
		out.Tombstones[addr] = tombstone.Timestamp
	}
	return out, nil
}
