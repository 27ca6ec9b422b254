package vclock

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	Same Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Same:
		return "same"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// Node is a logical clock identity. Cluster members use their full unique
// address string; hash compaction only happens on the wire.
type Node string

type Entry struct {
	Node      Node
	Timestamp int64
}

// VectorClock is an immutable, sorted set of node timestamps. The zero value
// is an empty clock.
type VectorClock struct {
	entries []Entry
}

var counter int64

// nextTimestamp returns a process-wide strictly increasing value greater
// than current.
func nextTimestamp(current int64) int64 {
	for {
		old := atomic.LoadInt64(&counter)
		next := old + 1
		if next <= current {
			next = current + 1
		}
		if atomic.CompareAndSwapInt64(&counter, old, next) {
			return next
		}
	}
}

func New(entries ...Entry) VectorClock {
	if len(entries) == 0 {
		return VectorClock{}
	}
	byNode := make(map[Node]int64, len(entries))
	for _, e := range entries {
		if cur, ok := byNode[e.Node]; !ok || e.Timestamp > cur {
			byNode[e.Node] = e.Timestamp
		}
	}
	out := make([]Entry, 0, len(byNode))
	for node, ts := range byNode {
		out = append(out, Entry{Node: node, Timestamp: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return VectorClock{entries: out}
}

func (v VectorClock) search(node Node) (int, bool) {
	idx := sort.Search(len(v.entries), func(i int) bool { return v.entries[i].Node >= node })
	return idx, idx < len(v.entries) && v.entries[idx].Node == node
}

func (v VectorClock) Get(node Node) int64 {
	idx, found := v.search(node)
	if !found {
		return 0
	}
	return v.entries[idx].Timestamp
}

func (v VectorClock) Len() int {
	return len(v.entries)
}

// Entries returns a copy of the clock entries, sorted by node.
func (v VectorClock) Entries() []Entry {
	out := make([]Entry, len(v.entries))
	copy(out, v.entries)
	return out
}

// Increment returns a new clock where node has a fresh, strictly greater
// timestamp.
func (v VectorClock) Increment(node Node) VectorClock {
	idx, found := v.search(node)
	out := make([]Entry, 0, len(v.entries)+1)
	out = append(out, v.entries[:idx]...)
	if found {
		out = append(out, Entry{Node: node, Timestamp: nextTimestamp(v.entries[idx].Timestamp)})
		out = append(out, v.entries[idx+1:]...)
	} else {
		out = append(out, Entry{Node: node, Timestamp: nextTimestamp(0)})
		out = append(out, v.entries[idx:]...)
	}
	return VectorClock{entries: out}
}

// Merge returns the pointwise maximum of both clocks.
func (v VectorClock) Merge(o VectorClock) VectorClock {
	out := make([]Entry, 0, len(v.entries)+len(o.entries))
	i, j := 0, 0
	for i < len(v.entries) && j < len(o.entries) {
		a, b := v.entries[i], o.entries[j]
		switch {
		case a.Node < b.Node:
			out = append(out, a)
			i++
		case a.Node > b.Node:
			out = append(out, b)
			j++
		default:
			if b.Timestamp > a.Timestamp {
				a = b
			}
			out = append(out, a)
			i++
			j++
		}
	}
	out = append(out, v.entries[i:]...)
	out = append(out, o.entries[j:]...)
	return VectorClock{entries: out}
}

// Prune removes node from the clock.
func (v VectorClock) Prune(node Node) VectorClock {
	idx, found := v.search(node)
	if !found {
		return v
	}
	out := make([]Entry, 0, len(v.entries)-1)
	out = append(out, v.entries[:idx]...)
	out = append(out, v.entries[idx+1:]...)
	return VectorClock{entries: out}
}

// Compare walks both sorted clocks once. Missing entries count as zero.
func (v VectorClock) Compare(o VectorClock) Ordering {
	result := Same
	update := func(next Ordering) bool {
		if result == Same {
			result = next
		} else if result != next {
			result = Concurrent
		}
		return result == Concurrent
	}
	i, j := 0, 0
	for i < len(v.entries) || j < len(o.entries) {
		var cmp Ordering
		switch {
		case j >= len(o.entries) || (i < len(v.entries) && v.entries[i].Node < o.entries[j].Node):
			if v.entries[i].Timestamp > 0 {
				cmp = After
			}
			i++
		case i >= len(v.entries) || v.entries[i].Node > o.entries[j].Node:
			if o.entries[j].Timestamp > 0 {
				cmp = Before
			}
			j++
		default:
			a, b := v.entries[i].Timestamp, o.entries[j].Timestamp
			if a < b {
				cmp = Before
			} else if a > b {
				cmp = After
			}
			i++
			j++
		}
		if cmp != Same && update(cmp) {
			return Concurrent
		}
	}
	return result
}

func (v VectorClock) Equal(o VectorClock) bool    { return v.Compare(o) == Same }
func (v VectorClock) IsBefore(o VectorClock) bool { return v.Compare(o) == Before }
func (v VectorClock) IsAfter(o VectorClock) bool  { return v.Compare(o) == After }

// Dominates reports whether v is after or equal to o.
func (v VectorClock) Dominates(o VectorClock) bool {
	c := v.Compare(o)
	return c == After || c == Same
}

func (v VectorClock) String() string {
	parts := make([]string, len(v.entries))
	for i, e := range v.entries {
		parts[i] = fmt.Sprintf("%s -> %d", e.Node, e.Timestamp)
	}
	return "VectorClock(" + strings.Join(parts, ", ") + ")"
}
