package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/identity"
	"github.com/vx-labs/cluster-sharding/persistence"
	"github.com/vx-labs/cluster-sharding/persistence/memstore"
	"github.com/vx-labs/cluster-sharding/sharding"
	"go.uber.org/zap"
)

const typeName = "cart"

func testConfig() Config {
	config := DefaultConfig(typeName)
	config.RebalanceInterval = time.Hour
	config.ShardStartTimeout = time.Hour
	config.HandOffTimeout = 2 * time.Second
	config.PersistRetries = 1
	config.PersistRetryInterval = time.Millisecond
	return config
}

func testSystem() *actor.System {
	return actor.NewSystem(identity.Address{Protocol: identity.DefaultProtocol, System: "test", Host: "127.0.0.1", Port: 2551}, zap.NewNop())
}

type running struct {
	coordinator *Coordinator
	cancel      context.CancelFunc
	done        chan error
}

func (r running) stop(t *testing.T) error {
	r.cancel()
	select {
	case err := <-r.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop")
	}
	return nil
}

func start(t *testing.T, system *actor.System, journal persistence.Journal, config Config) running {
	c, err := New(system, journal, config, zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()
	return running{coordinator: c, cancel: cancel, done: done}
}

func spawn(t *testing.T, system *actor.System, name string) *actor.Mailbox {
	mb, err := system.Spawn("/user/" + name)
	require.NoError(t, err)
	return mb
}

// receive returns the first message accepted by match, discarding the
// others.
func receive(t *testing.T, mb *actor.Mailbox, match func(interface{}) bool) actor.Envelope {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env := <-mb.Receive():
			if match(env.Message) {
				return env
			}
		case <-timeout:
			t.Fatalf("%s: expected message not received", mb.Path())
			return actor.Envelope{}
		}
	}
}

func isType(example interface{}) func(interface{}) bool {
	want := fmt.Sprintf("%T", example)
	return func(msg interface{}) bool {
		return fmt.Sprintf("%T", msg) == want
	}
}

func register(t *testing.T, c *Coordinator, region *actor.Mailbox) {
	c.Ref().Tell(sharding.Register{ShardRegion: region}, region)
	env := receive(t, region, isType(sharding.RegisterAck{}))
	require.Equal(t, c.Ref().Path(), env.Message.(sharding.RegisterAck).Coordinator.Path())
}

func shardHome(t *testing.T, c *Coordinator, client *actor.Mailbox, shard string) actor.Ref {
	c.Ref().Tell(sharding.GetShardHome{Shard: shard}, client)
	env := receive(t, client, isType(sharding.ShardHome{}))
	home := env.Message.(sharding.ShardHome)
	require.Equal(t, shard, home.Shard)
	return home.Ref
}

func checkInvariants(t *testing.T, s sharding.State) {
	owners := map[string]string{}
	for _, region := range s.Regions() {
		for _, shard := range region.Shards {
			previous, ok := owners[shard]
			require.False(t, ok, "shard %s owned by %s and %s", shard, previous, region.Region.Path())
			owners[shard] = region.Region.Path()
		}
	}
	for _, shard := range s.UnallocatedShards() {
		_, ok := owners[shard]
		require.False(t, ok)
	}
}

// autoPilot answers like a well behaved region.
func autoPilot(mb *actor.Mailbox, coordinator actor.Ref) {
	for {
		select {
		case <-mb.Done():
			return
		case env := <-mb.Receive():
			switch m := env.Message.(type) {
			case sharding.HostShard:
				coordinator.Tell(sharding.ShardStarted{Shard: m.Shard}, mb)
			case sharding.BeginHandOff:
				env.Sender.Tell(sharding.BeginHandOffAck{Shard: m.Shard}, mb)
			case sharding.HandOff:
				env.Sender.Tell(sharding.ShardStopped{Shard: m.Shard}, mb)
			}
		}
	}
}

func TestCoordinator_GetShardHome(t *testing.T) {
	system := testSystem()
	journal := memstore.New()
	r := start(t, system, journal, testConfig())
	defer r.stop(t)
	c := r.coordinator

	regionA := spawn(t, system, "regionA")
	regionB := spawn(t, system, "regionB")
	client := spawn(t, system, "client")
	register(t, c, regionA)
	register(t, c, regionB)
	register(t, c, regionA)

	home := shardHome(t, c, client, "s1")
	require.Equal(t, regionA.Path(), home.Path())
	receive(t, regionA, isType(sharding.HostShard{}))

	sequence, err := journal.HighestSequence(PersistenceID(typeName))
	require.NoError(t, err)
	require.Equal(t, uint64(3), sequence)

	home = shardHome(t, c, client, "s1")
	require.Equal(t, regionA.Path(), home.Path())
	after, err := journal.HighestSequence(PersistenceID(typeName))
	require.NoError(t, err)
	require.Equal(t, sequence, after, "a known shard home is answered without persisting")

	home = shardHome(t, c, client, "s2")
	require.Equal(t, regionB.Path(), home.Path())
	checkInvariants(t, c.State())
}

func TestCoordinator_GracefulShutdownHandOff(t *testing.T) {
	system := testSystem()
	r := start(t, system, memstore.New(), testConfig())
	defer r.stop(t)
	c := r.coordinator

	regionA := spawn(t, system, "regionA")
	regionB := spawn(t, system, "regionB")
	client := spawn(t, system, "client")
	register(t, c, regionA)
	register(t, c, regionB)
	require.Equal(t, regionA.Path(), shardHome(t, c, client, "s1").Path())

	c.Ref().Tell(sharding.GracefulShutdownRequest{ShardRegion: regionA}, regionA)
	beginA := receive(t, regionA, isType(sharding.BeginHandOff{}))
	beginB := receive(t, regionB, isType(sharding.BeginHandOff{}))
	require.Equal(t, "s1", beginB.Message.(sharding.BeginHandOff).Shard)

	// Requests received during the hand off are answered once it is over.
	c.Ref().Tell(sharding.GetShardHome{Shard: "s1"}, client)

	beginA.Sender.Tell(sharding.BeginHandOffAck{Shard: "s1"}, regionA)
	beginB.Sender.Tell(sharding.BeginHandOffAck{Shard: "s1"}, regionB)
	handOff := receive(t, regionA, isType(sharding.HandOff{}))
	home, ok := c.State().ShardHome("s1")
	require.True(t, ok, "shard keeps its home until it is stopped")
	require.Equal(t, regionA.Path(), home.Path())
	checkInvariants(t, c.State())

	handOff.Sender.Tell(sharding.ShardStopped{Shard: "s1"}, regionA)
	env := receive(t, client, isType(sharding.ShardHome{}))
	require.Equal(t, regionB.Path(), env.Message.(sharding.ShardHome).Ref.Path())
	checkInvariants(t, c.State())
	require.Empty(t, c.State().RegionShardsOf(regionA))
}

func TestCoordinator_HandOffTimeout(t *testing.T) {
	system := testSystem()
	config := testConfig()
	config.HandOffTimeout = 50 * time.Millisecond
	r := start(t, system, memstore.New(), config)
	defer r.stop(t)
	c := r.coordinator

	regionA := spawn(t, system, "regionA")
	client := spawn(t, system, "client")
	register(t, c, regionA)
	shardHome(t, c, client, "s1")

	c.Ref().Tell(sharding.GracefulShutdownRequest{ShardRegion: regionA}, regionA)
	receive(t, regionA, isType(sharding.BeginHandOff{}))
	c.Ref().Tell(sharding.GetShardHome{Shard: "s1"}, client)
	env := receive(t, client, isType(sharding.ShardHome{}))
	require.Equal(t, regionA.Path(), env.Message.(sharding.ShardHome).Ref.Path(), "shard stays home when the hand off times out")

	c.Ref().Tell(sharding.GracefulShutdownRequest{ShardRegion: regionA}, regionA)
	receive(t, regionA, isType(sharding.BeginHandOff{}))
}

func TestCoordinator_GracefulShutdownAfterRestart(t *testing.T) {
	system := testSystem()
	journal := memstore.New()
	r := start(t, system, journal, testConfig())
	c := r.coordinator

	regionA := spawn(t, system, "regionA")
	regionB := spawn(t, system, "regionB")
	client := spawn(t, system, "client")
	register(t, c, regionA)
	register(t, c, regionB)
	require.Equal(t, regionA.Path(), shardHome(t, c, client, "s1").Path())

	// The hand off started by the first coordinator is still waiting for
	// acknowledgements when its successor takes over.
	c.Ref().Tell(sharding.GracefulShutdownRequest{ShardRegion: regionA}, regionA)
	receive(t, regionB, isType(sharding.BeginHandOff{}))
	require.NoError(t, r.stop(t))

	r = start(t, system, journal, testConfig())
	defer r.stop(t)
	c = r.coordinator
	c.Ref().Tell(sharding.GracefulShutdownRequest{ShardRegion: regionA}, regionA)
	go autoPilot(regionA, c.Ref())
	go autoPilot(regionB, c.Ref())

	deadline := time.Now().Add(5 * time.Second)
	for {
		home, ok := c.State().ShardHome("s1")
		if !ok || home.Path() != regionA.Path() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("shard was not handed off from the region shutting down")
		}
		c.Ref().Tell(sharding.GracefulShutdownRequest{ShardRegion: regionA}, regionA)
		time.Sleep(50 * time.Millisecond)
	}
	checkInvariants(t, c.State())
	require.Empty(t, c.State().RegionShardsOf(regionA))
}

func TestHandOffWorker_TimeoutPerPhase(t *testing.T) {
	system := testSystem()
	region := spawn(t, system, "region")
	coordinator := spawn(t, system, "coordinator")
	worker, err := system.Spawn("/user/worker")
	require.NoError(t, err)
	go func() {
		for {
			select {
			case <-region.Done():
				return
			case env := <-region.Receive():
				// Each answer takes more than half of the timeout.
				time.Sleep(120 * time.Millisecond)
				switch m := env.Message.(type) {
				case sharding.BeginHandOff:
					env.Sender.Tell(sharding.BeginHandOffAck{Shard: m.Shard}, region)
				case sharding.HandOff:
					env.Sender.Tell(sharding.ShardStopped{Shard: m.Shard}, region)
				}
			}
		}
	}()
	defer region.Stop()

	w := &handOffWorker{
		shard:       "s1",
		from:        region,
		regions:     []actor.Ref{region},
		timeout:     200 * time.Millisecond,
		mailbox:     worker,
		system:      system,
		coordinator: coordinator,
		logger:      zap.NewNop(),
	}
	go w.run()
	env := receive(t, coordinator, isType(rebalanceDone{}))
	require.Equal(t, rebalanceDone{Shard: "s1", OK: true}, env.Message)
}

func TestCoordinator_RegionTerminated(t *testing.T) {
	system := testSystem()
	r := start(t, system, memstore.New(), testConfig())
	defer r.stop(t)
	c := r.coordinator

	regionA := spawn(t, system, "regionA")
	client := spawn(t, system, "client")
	register(t, c, regionA)
	shardHome(t, c, client, "s1")
	shardHome(t, c, client, "s2")

	regionA.Stop()
	require.Eventually(t, func() bool {
		return len(c.State().UnallocatedShards()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.False(t, c.State().HasRegion(regionA))

	regionB := spawn(t, system, "regionB")
	register(t, c, regionB)
	receive(t, regionB, isType(sharding.HostShard{}))
	receive(t, regionB, isType(sharding.HostShard{}))
	require.Eventually(t, func() bool {
		return len(c.State().RegionShardsOf(regionB)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, c.State().UnallocatedShards())
}

func TestCoordinator_HostShardIsResent(t *testing.T) {
	system := testSystem()
	config := testConfig()
	config.ShardStartTimeout = 20 * time.Millisecond
	r := start(t, system, memstore.New(), config)
	defer r.stop(t)
	c := r.coordinator

	regionA := spawn(t, system, "regionA")
	client := spawn(t, system, "client")
	register(t, c, regionA)
	shardHome(t, c, client, "s1")
	receive(t, regionA, isType(sharding.HostShard{}))
	env := receive(t, regionA, isType(sharding.HostShard{}))
	require.Equal(t, "s1", env.Message.(sharding.HostShard).Shard)
	c.Ref().Tell(sharding.ShardStarted{Shard: "s1"}, regionA)
}

func TestCoordinator_Rebalance(t *testing.T) {
	system := testSystem()
	config := testConfig()
	config.RebalanceInterval = 20 * time.Millisecond
	config.RebalanceThreshold = 1
	r := start(t, system, memstore.New(), config)
	defer r.stop(t)
	c := r.coordinator

	regionA := spawn(t, system, "regionA")
	client := spawn(t, system, "client")
	register(t, c, regionA)
	go autoPilot(regionA, c.Ref())
	for i := 0; i < 4; i++ {
		shardHome(t, c, client, fmt.Sprintf("s%d", i))
	}
	regionB := spawn(t, system, "regionB")
	register(t, c, regionB)
	go autoPilot(regionB, c.Ref())

	// Deallocated shards are homed again on demand.
	deadline := time.Now().Add(5 * time.Second)
	for {
		for i := 0; i < 4; i++ {
			shardHome(t, c, client, fmt.Sprintf("s%d", i))
		}
		s := c.State()
		checkInvariants(t, s)
		a, b := len(s.RegionShardsOf(regionA)), len(s.RegionShardsOf(regionB))
		if a+b == 4 && a-b <= 1 && b-a <= 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("shards not rebalanced: %d on A, %d on B", a, b)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestCoordinator_Recovery(t *testing.T) {
	system := testSystem()
	journal := memstore.New()
	config := testConfig()
	config.SnapshotAfter = 3
	r := start(t, system, journal, config)
	c := r.coordinator

	regionA := spawn(t, system, "regionA")
	regionB := spawn(t, system, "regionB")
	client := spawn(t, system, "client")
	register(t, c, regionA)
	register(t, c, regionB)
	for i := 0; i < 5; i++ {
		shardHome(t, c, client, fmt.Sprintf("s%d", i))
	}
	before := c.State()
	require.NoError(t, r.stop(t))

	snapshot, found, err := journal.LoadSnapshot(PersistenceID(typeName))
	require.NoError(t, err)
	require.True(t, found)
	covered := 0
	require.NoError(t, journal.Replay(PersistenceID(typeName), 1, func(r persistence.Record) error {
		if r.Sequence <= snapshot.Sequence {
			covered++
		}
		return nil
	}))
	require.Equal(t, 0, covered, "events covered by the snapshot are deleted")

	recovered, sequence, err := Recover(system, journal, typeName)
	require.NoError(t, err)
	require.Equal(t, uint64(7), sequence)
	require.True(t, before.Equal(recovered))

	r = start(t, system, journal, config)
	defer r.stop(t)
	register(t, r.coordinator, regionA)
	require.True(t, before.Equal(r.coordinator.State()))
}

type failingJournal struct {
	persistence.Journal
	failing int32
}

func (f *failingJournal) Append(records ...persistence.Record) error {
	if atomic.LoadInt32(&f.failing) == 1 {
		return errors.New("disk full")
	}
	return f.Journal.Append(records...)
}

func TestCoordinator_PersistenceFailure(t *testing.T) {
	system := testSystem()
	journal := &failingJournal{Journal: memstore.New()}
	r := start(t, system, journal, testConfig())
	c := r.coordinator

	regionA := spawn(t, system, "regionA")
	client := spawn(t, system, "client")
	register(t, c, regionA)

	atomic.StoreInt32(&journal.failing, 1)
	c.Ref().Tell(sharding.GetShardHome{Shard: "s1"}, client)
	select {
	case err := <-r.done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop on journal failure")
	}
	select {
	case env := <-client.Receive():
		t.Fatalf("unexpected reply %#v", env.Message)
	default:
	}
	_, ok := c.State().ShardHome("s1")
	require.False(t, ok)

	atomic.StoreInt32(&journal.failing, 0)
	r = start(t, system, journal, testConfig())
	defer r.stop(t)
	register(t, r.coordinator, regionA)
	require.Equal(t, regionA.Path(), shardHome(t, r.coordinator, client, "s1").Path())
}
