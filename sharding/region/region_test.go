package region

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/identity"
	"github.com/vx-labs/cluster-sharding/persistence"
	"github.com/vx-labs/cluster-sharding/persistence/memstore"
	"github.com/vx-labs/cluster-sharding/sharding"
	"github.com/vx-labs/cluster-sharding/sharding/codec"
	"github.com/vx-labs/cluster-sharding/sharding/coordinator"
	"go.uber.org/zap"
)

// loopback delivers remote messages between in-process systems, going
// through the sharding codec like a real transport would.
type loopback struct {
	mtx     sync.RWMutex
	systems map[identity.Address]*actor.System
}

func (l *loopback) add(port uint32) *actor.System {
	system := actor.NewSystem(identity.Address{Protocol: identity.DefaultProtocol, System: "test", Host: "127.0.0.1", Port: port}, zap.NewNop())
	system.SetTransport(l)
	l.mtx.Lock()
	l.systems[system.Address()] = system
	l.mtx.Unlock()
	return system
}

func (l *loopback) SendRemote(to identity.Address, recipient string, msg interface{}, sender actor.Ref) error {
	l.mtx.RLock()
	target, ok := l.systems[to]
	l.mtx.RUnlock()
	if !ok {
		return errors.New("unknown address")
	}
	c := codec.New(target)
	manifest, ok := c.Manifest(msg)
	if !ok {
		return errors.Errorf("no manifest for %T", msg)
	}
	payload, err := c.ToBinary(msg)
	if err != nil {
		return err
	}
	decoded, err := c.FromBinary(manifest, payload)
	if err != nil {
		return err
	}
	return target.Deliver(recipient, decoded, actor.PathOf(sender))
}

type node struct {
	system *actor.System
	region *Region
	client *actor.Mailbox
	cancel context.CancelFunc
}

func startNode(t *testing.T, system *actor.System, journal persistence.Journal, coordinatorPath string, handler func(string, interface{}, actor.Ref)) node {
	config := DefaultConfig("cart")
	config.RetryInterval = 50 * time.Millisecond
	r, err := New(system, journal, config, HashExtractor{NumberOfShards: 10}, handler, func() (actor.Ref, bool) {
		ref, err := system.Resolve(coordinatorPath)
		return ref, err == nil
	}, zap.NewNop())
	require.NoError(t, err)
	client, err := system.Spawn("/user/client")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	return node{system: system, region: r, client: client, cancel: cancel}
}

func startEntity(t *testing.T, n node, entityID string) sharding.StartEntityAck {
	n.region.Tell(sharding.StartEntity{EntityID: entityID}, n.client)
	select {
	case env := <-n.client.Receive():
		ack, ok := env.Message.(sharding.StartEntityAck)
		require.True(t, ok, "unexpected %#v", env.Message)
		return ack
	case <-time.After(5 * time.Second):
		t.Fatal("entity was not started")
	}
	return sharding.StartEntityAck{}
}

type greeting string

func (g greeting) EntityID() string { return string(g) }

func TestRegion_HandOff(t *testing.T) {
	network := &loopback{systems: map[identity.Address]*actor.System{}}
	journal := memstore.New()
	sysA := network.add(2551)
	sysB := network.add(2552)

	config := coordinator.DefaultConfig("cart")
	config.RebalanceInterval = time.Hour
	config.HandOffTimeout = 2 * time.Second
	c, err := coordinator.New(sysA, journal, config, zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	received := make(chan string, 10)
	handler := func(host string) func(string, interface{}, actor.Ref) {
		return func(entityID string, msg interface{}, sender actor.Ref) {
			received <- host + "/" + entityID
		}
	}
	coordinatorPath := c.Ref().Path()
	a := startNode(t, sysA, journal, coordinatorPath, handler("a"))
	defer a.cancel()
	require.Eventually(t, func() bool { return c.State().HasRegion(a.region.Ref()) }, 5*time.Second, 10*time.Millisecond)
	b := startNode(t, sysB, journal, coordinatorPath, handler("b"))
	defer b.cancel()
	require.Eventually(t, func() bool { return len(c.State().Regions()) == 2 }, 5*time.Second, 10*time.Millisecond)

	ack := startEntity(t, b, "e1")
	require.Equal(t, HashExtractor{NumberOfShards: 10}.ShardID("e1"), ack.Shard)
	home, ok := c.State().ShardHome(ack.Shard)
	require.True(t, ok)
	require.Equal(t, a.region.Ref().Path(), home.Path(), "the first registered region gets the first shard")

	a.region.Tell(greeting("e1"), nil)
	select {
	case got := <-received:
		require.Equal(t, "a/e1", got)
	case <-time.After(5 * time.Second):
		t.Fatal("message not routed to the entity")
	}

	select {
	case <-a.region.GracefulShutdown():
	case <-time.After(5 * time.Second):
		t.Fatal("graceful shutdown did not complete")
	}
	require.Eventually(t, func() bool {
		_, ok := c.State().ShardHome(ack.Shard)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	// The remembered entity is restarted by its new home.
	again := startEntity(t, a, "e1")
	require.Equal(t, ack.Shard, again.Shard)
	home, ok = c.State().ShardHome(ack.Shard)
	require.True(t, ok)
	require.Equal(t, b.region.Ref().Path(), home.Path())
	b.region.Tell(greeting("e1"), nil)
	select {
	case got := <-received:
		require.Equal(t, "b/e1", got)
	case <-time.After(5 * time.Second):
		t.Fatal("message not routed to the entity")
	}
}

func TestHashExtractor(t *testing.T) {
	e := HashExtractor{NumberOfShards: 4}
	id, ok := e.EntityID(sharding.StartEntity{EntityID: "e1"})
	require.True(t, ok)
	require.Equal(t, "e1", id)
	id, ok = e.EntityID(greeting("e2"))
	require.True(t, ok)
	require.Equal(t, "e2", id)
	_, ok = e.EntityID(42)
	require.False(t, ok)

	counts := map[string]int{}
	for _, entity := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		shardID := e.ShardID(entity)
		require.Equal(t, shardID, e.ShardID(entity))
		counts[shardID]++
	}
	for shardID := range counts {
		require.Contains(t, []string{"0", "1", "2", "3"}, shardID)
	}
}
