package vclock

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomClock(r *rand.Rand) VectorClock {
	n := r.Intn(5)
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{Node: Node(fmt.Sprintf("node-%d", r.Intn(6))), Timestamp: int64(r.Intn(4))}
	}
	return New(entries...)
}

func TestVectorClock_Increment(t *testing.T) {
	v := VectorClock{}
	a := v.Increment("a")
	require.Equal(t, 0, v.Len())
	require.True(t, a.Get("a") > 0)
	b := a.Increment("a")
	require.True(t, b.Get("a") > a.Get("a"))
	require.Equal(t, Before, a.Compare(b))
	require.Equal(t, After, b.Compare(a))

	c := New(Entry{Node: "a", Timestamp: 1 << 40}).Increment("a")
	require.Equal(t, int64(1<<40)+1, c.Get("a"))
	require.True(t, VectorClock{}.Increment("z").Get("z") > c.Get("a"))
}

func TestVectorClock_Compare(t *testing.T) {
	for _, tc := range []struct {
		name     string
		a, b     VectorClock
		expected Ordering
	}{
		{"empty", VectorClock{}, VectorClock{}, Same},
		{"zero entries are ignored", New(Entry{"a", 0}), VectorClock{}, Same},
		{"before", New(Entry{"a", 1}), New(Entry{"a", 2}), Before},
		{"before with extra node", New(Entry{"a", 1}), New(Entry{"a", 1}, Entry{"b", 1}), Before},
		{"after", New(Entry{"a", 3}, Entry{"b", 1}), New(Entry{"a", 1}), After},
		{"concurrent", New(Entry{"a", 2}, Entry{"b", 1}), New(Entry{"a", 1}, Entry{"b", 2}), Concurrent},
		{"concurrent disjoint", New(Entry{"a", 1}), New(Entry{"b", 1}), Concurrent},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.a.Compare(tc.b))
		})
	}
}

func TestVectorClock_Merge(t *testing.T) {
	a := New(Entry{"a", 2}, Entry{"b", 1})
	b := New(Entry{"b", 3}, Entry{"c", 1})
	m := a.Merge(b)
	require.Equal(t, []Entry{{"a", 2}, {"b", 3}, {"c", 1}}, m.Entries())
	require.True(t, m.Dominates(a))
	require.True(t, m.Dominates(b))
	require.Equal(t, Same, m.Prune("c").Compare(New(Entry{"a", 2}, Entry{"b", 3})))
}

func TestVectorClock_MergeProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		a, b, c := randomClock(r), randomClock(r), randomClock(r)
		require.Equal(t, Same, a.Merge(b).Compare(b.Merge(a)), "commutative: %s %s", a, b)
		require.Equal(t, Same, a.Merge(a).Compare(a), "idempotent: %s", a)
		require.Equal(t, Same, a.Merge(b).Merge(c).Compare(a.Merge(b.Merge(c))), "associative")
		require.True(t, a.Merge(b).Dominates(a))
		require.True(t, a.Merge(b).Dominates(b))
	}
}

func TestVectorClock_CompareIsAntisymmetric(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	inverse := map[Ordering]Ordering{Same: Same, Before: After, After: Before, Concurrent: Concurrent}
	for i := 0; i < 500; i++ {
		a, b := randomClock(r), randomClock(r)
		require.Equal(t, inverse[a.Compare(b)], b.Compare(a))
	}
}

func BenchmarkVectorClock_Compare(b *testing.B) {
	x := New(Entry{"a", 1}, Entry{"b", 2}, Entry{"c", 3})
	y := x.Increment("b")
	for i := 0; i < b.N; i++ {
		_ = x.Compare(y)
	}
}
