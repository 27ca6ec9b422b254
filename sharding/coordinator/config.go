package coordinator

import (
	"fmt"
	"time"
)

type Config struct {
	TypeName string
	// HandOffTimeout bounds each phase of a shard hand off: collecting the
	// BeginHandOffAck of every region, then waiting for ShardStopped.
	HandOffTimeout time.Duration
	// ShardStartTimeout is the delay before HostShard is sent again to a
	// region that did not answer ShardStarted.
	ShardStartTimeout        time.Duration
	RebalanceInterval        time.Duration
	RebalanceThreshold       int
	MaxSimultaneousRebalance int
	// SnapshotAfter is the number of persisted events between two
	// snapshots.
	SnapshotAfter        int
	PersistRetries       uint64
	PersistRetryInterval time.Duration
}

func DefaultConfig(typeName string) Config {
	return Config{
		TypeName:                 typeName,
		HandOffTimeout:           60 * time.Second,
		ShardStartTimeout:        10 * time.Second,
		RebalanceInterval:        10 * time.Second,
		RebalanceThreshold:       10,
		MaxSimultaneousRebalance: 3,
		SnapshotAfter:            1000,
		PersistRetries:           5,
		PersistRetryInterval:     200 * time.Millisecond,
	}
}

// PersistenceID returns the journal stream of the coordinator of typeName.
func PersistenceID(typeName string) string {
	return fmt.Sprintf("/sharding/%sCoordinator", typeName)
}

// LocalPath returns the actor path of the coordinator of typeName, relative
// to its node address.
func LocalPath(typeName string) string {
	return fmt.Sprintf("/system/sharding/%sCoordinator", typeName)
}
