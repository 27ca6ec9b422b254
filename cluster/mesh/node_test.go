package mesh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/cluster/gossip"
	"github.com/vx-labs/cluster-sharding/events"
	"github.com/vx-labs/cluster-sharding/identity"
	"go.uber.org/zap"
)

// network connects in-process nodes without sockets. Partitioned nodes
// can neither send nor receive.
type network struct {
	mtx         sync.Mutex
	nodes       map[identity.Address]*Node
	partitioned map[identity.Address]bool
}

func newNetwork() *network {
	return &network{nodes: map[identity.Address]*Node{}, partitioned: map[identity.Address]bool{}}
}

type fakeWire struct {
	net  *network
	self identity.Address
}

func (w *fakeWire) Send(to identity.Address, payload []byte) error {
	w.net.mtx.Lock()
	target, ok := w.net.nodes[to]
	blocked := w.net.partitioned[to] || w.net.partitioned[w.self]
	w.net.mtx.Unlock()
	if !ok || blocked {
		return ErrUnknownPeer
	}
	target.onPacket(payload)
	return nil
}

func (w *fakeWire) others() []*Node {
	w.net.mtx.Lock()
	defer w.net.mtx.Unlock()
	out := []*Node{}
	if w.net.partitioned[w.self] {
		return out
	}
	for addr, n := range w.net.nodes {
		if addr != w.self && !w.net.partitioned[addr] {
			out = append(out, n)
		}
	}
	return out
}

func (w *fakeWire) Broadcast(payload []byte) {
	for _, n := range w.others() {
		n.onPacket(payload)
	}
}

// Join introduces this node to every reachable node once one of hosts
// answers, like the memberlist push-pull exchange does.
func (w *fakeWire) Join(hosts []string) error {
	w.net.mtx.Lock()
	self := w.net.nodes[w.self]
	w.net.mtx.Unlock()
	others := w.others()
	reached := false
	for _, n := range others {
		for _, host := range hosts {
			if n.self.Address.HostPort() == host {
				reached = true
			}
		}
	}
	if !reached {
		return ErrUnknownPeer
	}
	for _, n := range others {
		n.onPeerUp(self.self, self.config.Roles)
		self.onPeerUp(n.self, n.config.Roles)
	}
	return nil
}

func (w *fakeWire) Leave(timeout time.Duration) error {
	w.net.mtx.Lock()
	self := w.net.nodes[w.self]
	w.net.mtx.Unlock()
	for _, n := range w.others() {
		n.onPeerDown(self.self)
	}
	return nil
}

func (net *network) partition(addr identity.Address) {
	net.mtx.Lock()
	net.partitioned[addr] = true
	isolated := net.nodes[addr]
	others := []*Node{}
	for a, n := range net.nodes {
		if a != addr {
			others = append(others, n)
		}
	}
	net.mtx.Unlock()
	for _, n := range others {
		n.onPeerDown(isolated.self)
		isolated.onPeerDown(n.self)
	}
}

func (net *network) heal(addr identity.Address) {
	net.mtx.Lock()
	delete(net.partitioned, addr)
	isolated := net.nodes[addr]
	others := []*Node{}
	for a, n := range net.nodes {
		if a != addr {
			others = append(others, n)
		}
	}
	net.mtx.Unlock()
	for _, n := range others {
		n.onPeerUp(isolated.self, isolated.config.Roles)
		isolated.onPeerUp(n.self, n.config.Roles)
	}
}

type running struct {
	node   *Node
	system *actor.System
	bus    *events.Bus
	cancel context.CancelFunc
	done   chan struct{}
}

func (r running) stop() {
	r.cancel()
	<-r.done
}

func testConfig(port int, seeds ...string) Config {
	config := DefaultConfig("test")
	config.AdvertiseAddr = "127.0.0.1"
	config.AdvertisePort = port
	config.Seeds = seeds
	config.GossipInterval = 10 * time.Millisecond
	config.LeaderActionsInterval = 10 * time.Millisecond
	config.JoinRetryInterval = 20 * time.Millisecond
	return config
}

func (net *network) start(config Config, uid int32) running {
	self := identity.UniqueAddress{Address: config.Address(), UID: uid}
	system := actor.NewSystem(config.Address(), zap.NewNop())
	bus := events.NewBus()
	n := newNode(config, self, system, bus, zap.NewNop())
	n.wire = &fakeWire{net: net, self: self.Address}
	net.mtx.Lock()
	net.nodes[self.Address] = n
	net.mtx.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(ctx)
	}()
	return running{node: n, system: system, bus: bus, cancel: cancel, done: done}
}

// eventually polls condition until it holds, and fails the test after five
// seconds.
func eventually(t *testing.T, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			require.FailNow(t, "condition never satisfied", msgAndArgs...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func seed(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func allUp(nodes ...running) func() bool {
	return func() bool {
		for _, r := range nodes {
			g := r.node.Gossip()
			if g.MemberCount() != len(nodes) || !g.Convergence(r.node.Self()) {
				return false
			}
			for _, m := range g.Members() {
				if m.Status != gossip.Up {
					return false
				}
			}
		}
		return true
	}
}

func formCluster(t *testing.T, net *network, first Config, ports ...int) []running {
	a := net.start(first, 1)
	eventually(t, func() bool { return a.node.Gossip().HasMember(a.node.Self()) })
	out := []running{a}
	for idx, port := range ports {
		out = append(out, net.start(testConfig(port, seed(first.AdvertisePort)), int32(idx+2)))
	}
	eventually(t, allUp(out...))
	return out
}

func TestNode_FormsCluster(t *testing.T) {
	net := newNetwork()
	first := testConfig(2551)
	first.Roles = []string{"coordinator"}

	upEvents := int32(0)
	nodes := formCluster(t, net, first, 2552, 2553)
	for _, r := range nodes {
		defer r.stop()
	}
	a := nodes[0]
	a.bus.Subscribe(EventPrefix, func(ev events.Event) {
		if ev.Key == EventPrefix+gossip.MemberUp.String() {
			atomic.AddInt32(&upEvents, 1)
		}
	})

	for _, r := range nodes {
		g := r.node.Gossip()
		leader, ok := g.Leader(r.node.Self())
		require.True(t, ok)
		require.Equal(t, a.node.Self(), leader)
		oldest, ok := r.node.Oldest("coordinator")
		require.True(t, ok)
		require.Equal(t, a.node.Self(), oldest.UniqueAddress)
	}
	require.Equal(t, "ok", a.node.Health())

	// Members joining later are announced on the bus.
	d := net.start(testConfig(2554, seed(2551)), 4)
	defer d.stop()
	eventually(t, allUp(append(nodes, d)...))
	eventually(t, func() bool { return atomic.LoadInt32(&upEvents) >= 1 })
}

func TestNode_AutoDownUnreachable(t *testing.T) {
	net := newNetwork()
	first := testConfig(2551)
	first.AutoDownUnreachableAfter = 50 * time.Millisecond
	nodes := formCluster(t, net, first, 2552, 2553)
	for _, r := range nodes {
		defer r.stop()
	}
	a, c := nodes[0], nodes[2]

	watcher, err := a.system.Spawn("/user/watcher")
	require.NoError(t, err)
	target, err := a.system.Resolve(c.system.PathFor("/user/entity"))
	require.NoError(t, err)
	a.system.Watch(watcher, target)

	net.partition(c.node.Self().Address)
	select {
	case env := <-watcher.Receive():
		terminated, ok := env.Message.(actor.Terminated)
		require.True(t, ok)
		require.Equal(t, target.Path(), terminated.Ref.Path())
	case <-time.After(5 * time.Second):
		t.Fatal("watcher was not notified")
	}
	eventually(t, func() bool {
		return !a.node.Gossip().HasMember(c.node.Self()) && !nodes[1].node.Gossip().HasMember(c.node.Self())
	})
	eventually(t, allUp(a, nodes[1]))
}

func TestNode_UnreachableThenReachable(t *testing.T) {
	net := newNetwork()
	nodes := formCluster(t, net, testConfig(2551), 2552)
	for _, r := range nodes {
		defer r.stop()
	}
	a, b := nodes[0], nodes[1]
	reachable := make(chan struct{}, 1)
	a.bus.Subscribe(EventPrefix+gossip.ReachableMember.String(), func(ev events.Event) {
		select {
		case reachable <- struct{}{}:
		default:
		}
	})

	net.partition(b.node.Self().Address)
	eventually(t, func() bool { return !a.node.Gossip().IsReachable(b.node.Self()) })
	require.Equal(t, "warning", a.node.Health())

	net.heal(b.node.Self().Address)
	select {
	case <-reachable:
	case <-time.After(5 * time.Second):
		t.Fatal("member did not become reachable")
	}
	eventually(t, allUp(a, b))
}

func TestNode_Leave(t *testing.T) {
	net := newNetwork()
	nodes := formCluster(t, net, testConfig(2551), 2552)
	for _, r := range nodes {
		defer r.stop()
	}
	a, b := nodes[0], nodes[1]

	b.node.Leave(b.node.Self().Address)
	select {
	case <-b.node.Removed():
	case <-time.After(5 * time.Second):
		t.Fatal("leaving node was not released")
	}
	eventually(t, func() bool { return !a.node.Gossip().HasMember(b.node.Self()) })
	_, tombstoned := a.node.Gossip().Tombstones[b.node.Self()]
	require.True(t, tombstoned)
}

func TestNode_RestartDownsPreviousIncarnation(t *testing.T) {
	net := newNetwork()
	nodes := formCluster(t, net, testConfig(2551), 2552)
	a, b := nodes[0], nodes[1]
	defer a.stop()
	b.stop()

	restarted := net.start(testConfig(2552, seed(2551)), 42)
	defer restarted.stop()
	eventually(t, func() bool {
		g := a.node.Gossip()
		return !g.HasMember(b.node.Self()) && g.HasMember(restarted.node.Self())
	})
	eventually(t, allUp(a, restarted))
}

// stringSerializer carries plain strings.
type stringSerializer struct{}

func (stringSerializer) Identifier() int32 { return 99 }
func (stringSerializer) Manifest(msg interface{}) (string, bool) {
	_, ok := msg.(string)
	return "S", ok
}
func (stringSerializer) ToBinary(msg interface{}) ([]byte, error) {
	return []byte(msg.(string)), nil
}
func (stringSerializer) FromBinary(manifest string, payload []byte) (interface{}, error) {
	if manifest != "S" {
		return nil, errors.New("unknown manifest")
	}
	return string(payload), nil
}

func TestNode_RemoteDelivery(t *testing.T) {
	net := newNetwork()
	nodes := formCluster(t, net, testConfig(2551), 2552)
	for _, r := range nodes {
		defer r.stop()
	}
	a, b := nodes[0], nodes[1]
	a.node.RegisterSerializer(stringSerializer{})
	b.node.RegisterSerializer(stringSerializer{})

	target, err := b.system.Spawn("/user/target")
	require.NoError(t, err)
	sender, err := a.system.Spawn("/user/sender")
	require.NoError(t, err)
	ref, err := a.system.Resolve(target.Path())
	require.NoError(t, err)
	ref.Tell("hello", sender)
	select {
	case env := <-target.Receive():
		require.Equal(t, "hello", env.Message)
		require.Equal(t, sender.Path(), env.Sender.Path())
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}

	err = a.node.SendRemote(b.node.Self().Address, target.Path(), 42, nil)
	require.Equal(t, ErrNoSerializer, errors.Cause(err))
}

func TestNodeMeta(t *testing.T) {
	self := identity.UniqueAddress{Address: testConfig(2551).Address(), UID: 7}
	config := testConfig(2551)
	config.Roles = []string{"coordinator", "backend"}
	l := &layer{logger: zap.NewNop()}
	_, meta, err := encodeJoin(self, config.Roles)
	require.NoError(t, err)
	l.meta = meta
	join, err := decodeMeta(l.NodeMeta(512))
	require.NoError(t, err)
	require.Equal(t, self, join.Node)
	require.ElementsMatch(t, config.Roles, join.Roles)
	require.Nil(t, l.NodeMeta(4))
}

func TestNode_JoinDiscoveredSeeds(t *testing.T) {
	net := newNetwork()
	a := net.start(testConfig(2551), 1)
	defer a.stop()
	// The configured seed does not exist: b waits for discovered peers.
	b := net.start(testConfig(2552, seed(2999)), 2)
	defer b.stop()
	eventually(t, a.node.Joined)
	require.False(t, b.node.Joined())

	b.node.Join([]string{seed(2551)})
	eventually(t, allUp(a, b))
}
