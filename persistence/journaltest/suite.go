// Package journaltest holds the behaviour every persistence.Journal
// implementation must provide.
package journaltest

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/cluster-sharding/persistence"
)

func record(id string, seq uint64) persistence.Record {
	return persistence.Record{
		PersistenceID: id,
		Sequence:      seq,
		SerializerID:  13,
		Manifest:      "AB",
		Payload:       []byte(fmt.Sprintf("event-%d", seq)),
		WriterUUID:    "writer",
	}
}

func replay(t *testing.T, j persistence.Journal, id string, from uint64) []uint64 {
	out := []uint64{}
	require.NoError(t, j.Replay(id, from, func(r persistence.Record) error {
		require.Equal(t, id, r.PersistenceID)
		require.Equal(t, "AB", r.Manifest)
		require.Equal(t, fmt.Sprintf("event-%d", r.Sequence), string(r.Payload))
		out = append(out, r.Sequence)
		return nil
	}))
	return out
}

// Run exercises a fresh journal returned by factory.
func Run(t *testing.T, factory func(t *testing.T) (persistence.Journal, func())) {
	t.Run("append and replay", func(t *testing.T) {
		j, cleanup := factory(t)
		defer cleanup()
		require.NoError(t, j.Append(record("a", 1), record("a", 2)))
		require.NoError(t, j.Append(record("a", 3)))
		require.NoError(t, j.Append(record("b", 1)))
		require.Equal(t, []uint64{1, 2, 3}, replay(t, j, "a", 1))
		require.Equal(t, []uint64{2, 3}, replay(t, j, "a", 2))
		require.Equal(t, []uint64{1}, replay(t, j, "b", 0))
		require.Equal(t, []uint64{}, replay(t, j, "c", 1))
		highest, err := j.HighestSequence("a")
		require.NoError(t, err)
		require.Equal(t, uint64(3), highest)
	})
	t.Run("sequence gaps are rejected", func(t *testing.T) {
		j, cleanup := factory(t)
		defer cleanup()
		require.NoError(t, j.Append(record("a", 1)))
		err := j.Append(record("a", 3))
		require.Equal(t, persistence.ErrSequenceConflict, errors.Cause(err))
		err = j.Append(record("a", 2), record("a", 2))
		require.Error(t, err)
		require.Equal(t, []uint64{1}, replay(t, j, "a", 1), "failed batches are not applied")
	})
	t.Run("delete keeps the highest sequence", func(t *testing.T) {
		j, cleanup := factory(t)
		defer cleanup()
		require.NoError(t, j.Append(record("a", 1), record("a", 2), record("a", 3)))
		require.NoError(t, j.DeleteTo("a", 2))
		require.Equal(t, []uint64{3}, replay(t, j, "a", 1))
		require.NoError(t, j.DeleteTo("a", 3))
		highest, err := j.HighestSequence("a")
		require.NoError(t, err)
		require.Equal(t, uint64(3), highest)
		require.NoError(t, j.Append(record("a", 4)))
	})
	t.Run("snapshots", func(t *testing.T) {
		j, cleanup := factory(t)
		defer cleanup()
		_, found, err := j.LoadSnapshot("a")
		require.NoError(t, err)
		require.False(t, found)
		for _, seq := range []uint64{2, 5} {
			require.NoError(t, j.SaveSnapshot(persistence.Snapshot{
				PersistenceID: "a", Sequence: seq, Timestamp: 10, SerializerID: 13, Manifest: "AA", Payload: []byte("state"),
			}))
		}
		snapshot, found, err := j.LoadSnapshot("a")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, uint64(5), snapshot.Sequence)
		require.Equal(t, "AA", snapshot.Manifest)
		require.Equal(t, []byte("state"), snapshot.Payload)
	})
	t.Run("log recovery", func(t *testing.T) {
		j, cleanup := factory(t)
		defer cleanup()
		log := persistence.NewLog(j, "coordinator", 13)
		for i := 1; i <= 4; i++ {
			seq, err := log.Persist("AB", []byte(fmt.Sprintf("event-%d", i)))
			require.NoError(t, err)
			require.Equal(t, uint64(i), seq)
			if i == 2 {
				require.NoError(t, log.SaveSnapshot("AA", []byte("at-2")))
			}
		}
		recovered := persistence.NewLog(j, "coordinator", 13)
		var snapshot string
		events := []uint64{}
		require.NoError(t, recovered.Recover(func(s persistence.Snapshot) error {
			snapshot = string(s.Payload)
			return nil
		}, func(r persistence.Record) error {
			events = append(events, r.Sequence)
			return nil
		}))
		require.Equal(t, "at-2", snapshot)
		require.Equal(t, []uint64{3, 4}, events)
		require.Equal(t, uint64(4), recovered.Sequence())
		seq, err := recovered.Persist("AB", []byte("event-5"))
		require.NoError(t, err)
		require.Equal(t, uint64(5), seq)
	})
}
