// Package reachability keeps the failure detector verdicts of every cluster
// member about every other member.
package reachability

import (
	"sort"

	"github.com/vx-labs/cluster-sharding/identity"
)

type Status int32

const (
	Reachable Status = iota
	Unreachable
	Terminated
)

func (s Status) String() string {
	switch s {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

type Record struct {
	Observer identity.UniqueAddress
	Subject  identity.UniqueAddress
	Status   Status
	Version  int64
}

func (r Record) less(o Record) bool {
	if c := r.Observer.Compare(o.Observer); c != 0 {
		return c < 0
	}
	return r.Subject.Less(o.Subject)
}

// Reachability is immutable: every mutation returns a new value. Records are
// kept sorted by observer then subject.
type Reachability struct {
	records  []Record
	versions map[identity.UniqueAddress]int64
}

func Empty() Reachability {
	return Reachability{}
}

// New builds a Reachability from decoded records and versions.
func New(records []Record, versions map[identity.UniqueAddress]int64) Reachability {
	out := make([]Record, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	v := make(map[identity.UniqueAddress]int64, len(versions))
	for k, val := range versions {
		v[k] = val
	}
	return Reachability{records: out, versions: v}
}

func (r Reachability) Records() []Record {
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Versions returns the latest known version of every observer.
func (r Reachability) Versions() map[identity.UniqueAddress]int64 {
	out := make(map[identity.UniqueAddress]int64, len(r.versions))
	for k, v := range r.versions {
		out[k] = v
	}
	return out
}

func (r Reachability) IsEmpty() bool {
	return len(r.records) == 0
}

func (r Reachability) currentVersion(observer identity.UniqueAddress) int64 {
	return r.versions[observer]
}

// observerRange returns the [start, end) indexes of the records of observer.
func (r Reachability) observerRange(observer identity.UniqueAddress) (int, int) {
	start := sort.Search(len(r.records), func(i int) bool {
		return r.records[i].Observer.Compare(observer) >= 0
	})
	end := start
	for end < len(r.records) && r.records[end].Observer == observer {
		end++
	}
	return start, end
}

// RecordsFrom returns the records reported by observer, ordered by subject.
func (r Reachability) RecordsFrom(observer identity.UniqueAddress) []Record {
	start, end := r.observerRange(observer)
	out := make([]Record, end-start)
	copy(out, r.records[start:end])
	return out
}

func (r Reachability) Unreachable(observer, subject identity.UniqueAddress) Reachability {
	return r.change(observer, subject, Unreachable)
}

func (r Reachability) Reachable(observer, subject identity.UniqueAddress) Reachability {
	return r.change(observer, subject, Reachable)
}

func (r Reachability) Terminated(observer, subject identity.UniqueAddress) Reachability {
	return r.change(observer, subject, Terminated)
}

func (r Reachability) withVersion(observer identity.UniqueAddress, version int64) map[identity.UniqueAddress]int64 {
	out := make(map[identity.UniqueAddress]int64, len(r.versions)+1)
	for k, v := range r.versions {
		out[k] = v
	}
	out[observer] = version
	return out
}

func (r Reachability) change(observer, subject identity.UniqueAddress, status Status) Reachability {
	version := r.currentVersion(observer) + 1
	record := Record{Observer: observer, Subject: subject, Status: status, Version: version}
	start, end := r.observerRange(observer)
	rows := r.records[start:end]

	pos := sort.Search(len(rows), func(i int) bool { return rows[i].Subject.Compare(subject) >= 0 })
	found := pos < len(rows) && rows[pos].Subject == subject
	if !found {
		if status == Reachable {
			return r
		}
		records := make([]Record, 0, len(r.records)+1)
		records = append(records, r.records[:start+pos]...)
		records = append(records, record)
		records = append(records, r.records[start+pos:]...)
		return Reachability{records: records, versions: r.withVersion(observer, version)}
	}
	old := rows[pos]
	if old.Status == Terminated || old.Status == status {
		return r
	}
	if status == Reachable && r.allReachableExcept(rows, pos) {
		// every record of this observer is now reachable: drop the whole row
		records := make([]Record, 0, len(r.records)-len(rows))
		records = append(records, r.records[:start]...)
		records = append(records, r.records[end:]...)
		return Reachability{records: records, versions: r.withVersion(observer, version)}
	}
	records := make([]Record, len(r.records))
	copy(records, r.records)
	records[start+pos] = record
	return Reachability{records: records, versions: r.withVersion(observer, version)}
}

func (r Reachability) allReachableExcept(rows []Record, skip int) bool {
	for idx, row := range rows {
		if idx != skip && row.Status != Reachable {
			return false
		}
	}
	return true
}

// Merge combines two views. For each allowed observer, the rows of the side
// with the highest observer version win. Observers and subjects that are not
// allowed are dropped.
func (r Reachability) Merge(allowed map[identity.UniqueAddress]struct{}, other Reachability) Reachability {
	observers := make([]identity.UniqueAddress, 0, len(allowed))
	for observer := range allowed {
		observers = append(observers, observer)
	}
	identity.SortUniqueAddresses(observers)

	records := []Record{}
	versions := make(map[identity.UniqueAddress]int64, len(allowed))
	for _, observer := range observers {
		v1, v2 := r.currentVersion(observer), other.currentVersion(observer)
		rows1, rows2 := r.RecordsFrom(observer), other.RecordsFrom(observer)
		var rows []Record
		switch {
		case len(rows1) > 0 && len(rows2) > 0:
			if v1 > v2 {
				rows = rows1
			} else {
				rows = rows2
			}
		case len(rows1) > 0:
			if v1 > v2 {
				rows = rows1
			}
		case len(rows2) > 0:
			if v2 > v1 {
				rows = rows2
			}
		}
		for _, row := range rows {
			if _, ok := allowed[row.Subject]; ok {
				records = append(records, row)
			}
		}
		if v1 > v2 {
			versions[observer] = v1
		} else if v2 > 0 {
			versions[observer] = v2
		}
	}
	return Reachability{records: records, versions: versions}
}

// Remove drops every record and version where one of nodes is the observer
// or the subject.
func (r Reachability) Remove(nodes ...identity.UniqueAddress) Reachability {
	set := toSet(nodes)
	records := make([]Record, 0, len(r.records))
	for _, record := range r.records {
		_, observer := set[record.Observer]
		_, subject := set[record.Subject]
		if !observer && !subject {
			records = append(records, record)
		}
	}
	versions := make(map[identity.UniqueAddress]int64, len(r.versions))
	for k, v := range r.versions {
		if _, ok := set[k]; !ok {
			versions[k] = v
		}
	}
	return Reachability{records: records, versions: versions}
}

// RemoveObservers ignores everything reported by nodes.
func (r Reachability) RemoveObservers(nodes ...identity.UniqueAddress) Reachability {
	if len(nodes) == 0 {
		return r
	}
	set := toSet(nodes)
	records := make([]Record, 0, len(r.records))
	for _, record := range r.records {
		if _, ok := set[record.Observer]; !ok {
			records = append(records, record)
		}
	}
	versions := make(map[identity.UniqueAddress]int64, len(r.versions))
	for k, v := range r.versions {
		if _, ok := set[k]; !ok {
			versions[k] = v
		}
	}
	return Reachability{records: records, versions: versions}
}

// StatusFrom returns what observer last reported about subject.
func (r Reachability) StatusFrom(observer, subject identity.UniqueAddress) Status {
	for _, record := range r.RecordsFrom(observer) {
		if record.Subject == subject {
			return record.Status
		}
	}
	return Reachable
}

// Status aggregates every observer verdict: Terminated wins over
// Unreachable, which wins over Reachable.
func (r Reachability) Status(subject identity.UniqueAddress) Status {
	out := Reachable
	for _, record := range r.records {
		if record.Subject != subject {
			continue
		}
		if record.Status == Terminated {
			return Terminated
		}
		if record.Status == Unreachable {
			out = Unreachable
		}
	}
	return out
}

func (r Reachability) IsReachable(subject identity.UniqueAddress) bool {
	return r.Status(subject) == Reachable
}

// IsAllReachable reports whether no subject is currently flagged.
func (r Reachability) IsAllReachable() bool {
	for _, record := range r.records {
		if record.Status != Reachable {
			return false
		}
	}
	return true
}

// AllUnreachableOrTerminated returns the sorted set of flagged subjects.
func (r Reachability) AllUnreachableOrTerminated() []identity.UniqueAddress {
	set := map[identity.UniqueAddress]struct{}{}
	for _, record := range r.records {
		if record.Status != Reachable {
			set[record.Subject] = struct{}{}
		}
	}
	out := make([]identity.UniqueAddress, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	identity.SortUniqueAddresses(out)
	return out
}

// AllUnreachableFrom returns the subjects observer currently flags.
func (r Reachability) AllUnreachableFrom(observer identity.UniqueAddress) []identity.UniqueAddress {
	out := []identity.UniqueAddress{}
	for _, record := range r.RecordsFrom(observer) {
		if record.Status != Reachable {
			out = append(out, record.Subject)
		}
	}
	return out
}

// Equal compares records and observer versions.
func (r Reachability) Equal(o Reachability) bool {
	if len(r.records) != len(o.records) || len(r.versions) != len(o.versions) {
		return false
	}
	for idx := range r.records {
		if r.records[idx] != o.records[idx] {
			return false
		}
	}
	for k, v := range r.versions {
		if o.versions[k] != v {
			return false
		}
	}
	return true
}

func toSet(nodes []identity.UniqueAddress) map[identity.UniqueAddress]struct{} {
	set := make(map[identity.UniqueAddress]struct{}, len(nodes))
	for _, node := range nodes {
		set[node] = struct{}{}
	}
	return set
}
