// Package mesh runs the cluster membership protocol of a node. A single
// goroutine owns the local gossip: network callbacks and API calls are
// queued into its inbox, and readers get immutable copies.
package mesh

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/vx-labs/cluster-sharding/actor"
	clustercodec "github.com/vx-labs/cluster-sharding/cluster/codec"
	"github.com/vx-labs/cluster-sharding/cluster/gossip"
	"github.com/vx-labs/cluster-sharding/cluster/reachability"
	"github.com/vx-labs/cluster-sharding/cluster/vclock"
	"github.com/vx-labs/cluster-sharding/events"
	"github.com/vx-labs/cluster-sharding/identity"
	"go.uber.org/zap"
)

// EventPrefix is the bus key prefix of membership events. Full keys are
// EventPrefix followed by the event kind, such as "cluster/member_up".
const EventPrefix = "cluster/"

type peerUp struct {
	node  identity.UniqueAddress
	roles []string
}

type peerDown struct {
	node identity.UniqueAddress
}

type joinSeeds struct {
	hosts []string
}

type remoteState struct {
	gossip gossip.Gossip
}

type Node struct {
	config Config
	self   identity.UniqueAddress
	wire   wire
	system *actor.System
	bus    *events.Bus
	logger *zap.Logger
	inbox  chan interface{}

	current atomic.Value

	serializersMtx sync.RWMutex
	serializers    map[int32]actor.Serializer

	removed     chan struct{}
	removedOnce sync.Once

	// Owned by Run.
	latest           gossip.Gossip
	joined           bool
	joinAttempts     int
	peers            map[identity.Address]identity.UniqueAddress
	unreachableSince map[identity.UniqueAddress]time.Time
	rand             *rand.Rand
}

// New creates a node listening on the memberlist endpoint described by
// config. It becomes the remote transport of system.
func New(config Config, system *actor.System, bus *events.Bus, logger *zap.Logger) (*Node, error) {
	self := identity.UniqueAddress{Address: config.Address(), UID: identity.NewUID()}
	n := newNode(config, self, system, bus, logger)
	l, err := newLayer(config, self, n, n.logger)
	if err != nil {
		return nil, err
	}
	n.wire = l
	return n, nil
}

func newNode(config Config, self identity.UniqueAddress, system *actor.System, bus *events.Bus, logger *zap.Logger) *Node {
	n := &Node{
		config:           config,
		self:             self,
		system:           system,
		bus:              bus,
		logger:           logger.With(zap.String("component", "mesh"), zap.String("self", self.String())),
		inbox:            make(chan interface{}, config.InboxSize),
		serializers:      map[int32]actor.Serializer{},
		removed:          make(chan struct{}),
		latest:           gossip.Empty(),
		peers:            map[identity.Address]identity.UniqueAddress{},
		unreachableSince: map[identity.UniqueAddress]time.Time{},
		rand:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	n.current.Store(n.latest)
	system.SetTransport(n)
	system.SetLiveness(n.isAlive)
	return n
}

func (n *Node) Self() identity.UniqueAddress {
	return n.self
}

// Gossip returns the latest local gossip.
func (n *Node) Gossip() gossip.Gossip {
	return n.current.Load().(gossip.Gossip)
}

// Oldest returns the Up member carrying role that joined first.
func (n *Node) Oldest(role string) (gossip.Member, bool) {
	return n.Gossip().Oldest(role)
}

// Removed is closed once this node left the cluster, or was downed.
func (n *Node) Removed() <-chan struct{} {
	return n.removed
}

func (n *Node) Health() string {
	g := n.Gossip()
	m, ok := g.Member(n.self)
	if !ok || m.Status != gossip.Up {
		return "critical"
	}
	if g.MemberCount() == 1 || !g.Overview.Reachability.IsAllReachable() {
		return "warning"
	}
	return "ok"
}

// Join contacts additional seed nodes, such as peers found by service
// discovery.
func (n *Node) Join(hosts []string) {
	n.push(joinSeeds{hosts: hosts})
}

// Joined reports whether this node is a cluster member.
func (n *Node) Joined() bool {
	return n.Gossip().HasMember(n.self)
}

// Leave asks for addr to gracefully leave the cluster.
func (n *Node) Leave(addr identity.Address) {
	n.push(gossip.LeaveRequest{Address: addr})
}

// Down marks addr as Down.
func (n *Node) Down(addr identity.Address) {
	n.push(gossip.DownRequest{Address: addr})
}

func (n *Node) isAlive(addr identity.Address) bool {
	g := n.Gossip()
	if g.MemberCount() == 0 {
		return true
	}
	for _, m := range g.Members() {
		if m.Address() == addr && m.Status != gossip.Down && m.Status != gossip.Removed {
			return true
		}
	}
	return false
}

func (n *Node) push(msg interface{}) {
	select {
	case n.inbox <- msg:
	default:
		droppedMessages.Inc()
		n.logger.Warn("inbox full, dropping cluster message")
	}
}

func (n *Node) onPeerUp(node identity.UniqueAddress, roles []string) {
	n.push(peerUp{node: node, roles: roles})
}

func (n *Node) onPeerDown(node identity.UniqueAddress) {
	n.push(peerDown{node: node})
}

func (n *Node) localState() []byte {
	g := n.Gossip()
	if !g.HasMember(n.self) {
		return nil
	}
	payload, err := clustercodec.EncodeGossip(g)
	if err != nil {
		n.logger.Error("failed to encode local state", zap.Error(err))
		return nil
	}
	return payload
}

func (n *Node) onRemoteState(payload []byte) {
	g, err := clustercodec.DecodeGossip(payload)
	if err != nil {
		n.logger.Warn("failed to decode remote state", zap.Error(err))
		return
	}
	n.push(remoteState{gossip: g})
}

// Run serves the membership protocol until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	gossipTicker := time.NewTicker(n.config.GossipInterval)
	defer gossipTicker.Stop()
	leaderTicker := time.NewTicker(n.config.LeaderActionsInterval)
	defer leaderTicker.Stop()
	joinBackOff := backoff.NewExponentialBackOff()
	joinBackOff.InitialInterval = n.config.JoinRetryInterval
	joinBackOff.MaxInterval = 4 * n.config.JoinRetryInterval
	joinBackOff.MaxElapsedTime = 0
	joinTimer := time.NewTimer(0)
	defer joinTimer.Stop()
	defer func() {
		if err := n.wire.Leave(5 * time.Second); err != nil {
			n.logger.Warn("failed to leave network", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-joinTimer.C:
			if !n.joined {
				n.joinTick()
				joinTimer.Reset(joinBackOff.NextBackOff())
			}
		case <-gossipTicker.C:
			n.gossipTick()
		case <-leaderTicker.C:
			n.leaderTick(time.Now())
		case msg := <-n.inbox:
			n.handle(msg)
		}
	}
}

func (n *Node) joinTick() {
	defer func() { n.joinAttempts++ }()
	self := n.self.Address.HostPort()
	seeds := []string{}
	for _, seed := range n.config.Seeds {
		if seed != self {
			seeds = append(seeds, seed)
		}
	}
	formFirst := len(n.config.Seeds) == 0 || n.config.Seeds[0] == self
	if len(seeds) == 0 && formFirst {
		n.joinSelf()
		return
	}
	if formFirst && n.joinAttempts > 0 {
		n.logger.Info("no seed answered, forming a new cluster")
		n.joinSelf()
		return
	}
	if err := n.wire.Join(seeds); err != nil {
		n.logger.Debug("failed to reach seeds", zap.Strings("seeds", seeds), zap.Error(err))
	}
	for _, peer := range n.peers {
		n.send(peer.Address, gossip.Join{Node: n.self, Roles: n.config.Roles})
	}
}

func (n *Node) joinSelf() {
	n.joined = true
	n.update(gossip.New(gossip.NewMember(n.self, n.config.Roles)))
	n.logger.Info("formed a new cluster")
}

func (n *Node) handle(msg interface{}) {
	switch m := msg.(type) {
	case peerUp:
		n.peers[m.node.Address] = m.node
		if n.latest.HasMember(m.node) && n.latest.Overview.Reachability.StatusFrom(n.self, m.node) == reachability.Unreachable {
			r := n.latest.Overview.Reachability.Reachable(n.self, m.node)
			n.update(n.latest.WithReachability(r))
		}
		if !n.joined {
			n.send(m.node.Address, gossip.Join{Node: n.self, Roles: n.config.Roles})
		}
	case peerDown:
		if cur, ok := n.peers[m.node.Address]; ok && cur == m.node {
			delete(n.peers, m.node.Address)
		}
		if n.joined && n.latest.HasMember(m.node) && n.latest.IsReachable(m.node) {
			n.logger.Info("member is unreachable", zap.String("member", m.node.String()))
			r := n.latest.Overview.Reachability.Unreachable(n.self, m.node)
			n.update(n.latest.WithReachability(r))
		}
	case joinSeeds:
		if err := n.wire.Join(m.hosts); err != nil {
			n.logger.Debug("failed to reach seeds", zap.Strings("seeds", m.hosts), zap.Error(err))
		}
	case remoteState:
		if n.joined && m.gossip.HasMember(n.self) {
			n.receiveGossip(m.gossip)
		}
	case gossip.Join:
		gossipReceived.WithLabelValues("join").Inc()
		n.handleJoin(m)
	case gossip.Welcome:
		gossipReceived.WithLabelValues("welcome").Inc()
		n.handleWelcome(m)
	case gossip.LeaveRequest:
		gossipReceived.WithLabelValues("leave").Inc()
		n.forEachMember(m.Address, func(addr identity.UniqueAddress) {
			if g, ok := n.latest.Left(addr); ok {
				n.logger.Info("member is leaving", zap.String("member", addr.String()))
				n.update(g)
			}
		})
	case gossip.DownRequest:
		gossipReceived.WithLabelValues("down").Inc()
		n.forEachMember(m.Address, func(addr identity.UniqueAddress) {
			n.down(addr)
		})
	case gossip.Envelope:
		gossipReceived.WithLabelValues("envelope").Inc()
		if m.To != n.self {
			n.logger.Debug("ignoring gossip sent to another incarnation", zap.String("to", m.To.String()))
			return
		}
		if !n.joined || !n.latest.HasMember(m.From) || !m.Gossip.HasMember(n.self) {
			return
		}
		if n.receiveGossip(m.Gossip) {
			n.sendGossip(m.From)
		}
	case gossip.Status:
		gossipReceived.WithLabelValues("status").Inc()
		if !n.joined || !n.latest.HasMember(m.From) {
			return
		}
		switch m.Version.Compare(n.latest.Version) {
		case vclock.Before, vclock.Concurrent:
			n.sendGossip(m.From)
		case vclock.After:
			n.send(m.From.Address, gossip.Status{From: n.self, Version: n.latest.Version})
		}
	}
}

func (n *Node) forEachMember(addr identity.Address, f func(identity.UniqueAddress)) {
	if !n.joined {
		return
	}
	for _, m := range n.latest.Members() {
		if m.Address() == addr {
			f(m.UniqueAddress)
		}
	}
}

func (n *Node) down(addr identity.UniqueAddress) bool {
	g, ok := n.latest.Downed(addr)
	if !ok {
		return false
	}
	n.logger.Warn("marking member as down", zap.String("member", addr.String()))
	n.update(g)
	return true
}

func (n *Node) handleJoin(m gossip.Join) {
	if !n.joined || m.Node.Address.System != n.self.Address.System {
		return
	}
	if _, ok := n.latest.Tombstones[m.Node]; ok {
		n.logger.Debug("ignoring join from removed member", zap.String("member", m.Node.String()))
		return
	}
	if n.latest.HasMember(m.Node) {
		n.send(m.Node.Address, gossip.Welcome{From: n.self, Gossip: n.latest})
		return
	}
	restarted := false
	for _, existing := range n.latest.Members() {
		if existing.Address() != m.Node.Address || existing.Status == gossip.Down {
			continue
		}
		restarted = true
		n.logger.Info("member restarted, downing its previous incarnation",
			zap.String("member", existing.UniqueAddress.String()))
		g, _ := n.latest.Downed(existing.UniqueAddress)
		r := g.Overview.Reachability.Terminated(n.self, existing.UniqueAddress)
		n.update(g.WithReachability(r))
	}
	if restarted {
		// The new incarnation retries once the old one is removed.
		return
	}
	n.logger.Info("member joining", zap.String("member", m.Node.String()), zap.Strings("roles", m.Roles))
	n.update(n.latest.WithMember(gossip.NewMember(m.Node, m.Roles)))
	n.send(m.Node.Address, gossip.Welcome{From: n.self, Gossip: n.latest})
}

func (n *Node) handleWelcome(m gossip.Welcome) {
	if n.joined {
		return
	}
	if !m.Gossip.HasMember(n.self) {
		n.logger.Warn("ignoring welcome without ourselves", zap.String("from", m.From.String()))
		return
	}
	n.joined = true
	n.logger.Info("welcomed into the cluster", zap.String("from", m.From.String()))
	n.setLatest(m.Gossip.MarkSeen(n.self))
	n.sendGossip(m.From)
}

// receiveGossip merges a remote gossip into the local one. It returns true
// when the sender should be answered with our own view.
func (n *Node) receiveGossip(remote gossip.Gossip) bool {
	local := n.latest
	var winning gossip.Gossip
	talkback := true
	switch remote.Version.Compare(local.Version) {
	case vclock.Same:
		winning = remote.MergeSeen(local)
		talkback = !remote.SeenByNode(n.self)
	case vclock.Before:
		winning = local
	case vclock.After:
		winning = remote
		talkback = !remote.SeenByNode(n.self)
	default:
		winning = remote.Merge(local)
	}
	n.setLatest(winning.MarkSeen(n.self))
	return talkback
}

// update records a local change: the version moves forward and only this
// node has seen the result.
func (n *Node) update(g gossip.Gossip) {
	g = g.Increment(n.self).OnlySeen(n.self)
	n.setLatest(g)
	packet, err := n.clusterPacket(gossip.Status{From: n.self, Version: g.Version})
	if err != nil {
		n.logger.Error("failed to broadcast gossip status", zap.Error(err))
		return
	}
	n.wire.Broadcast(packet)
}

func (n *Node) setLatest(g gossip.Gossip) {
	prev := n.latest
	n.latest = g
	n.current.Store(g)
	recordMembers(g, g.Convergence(n.self))
	for _, ev := range gossip.Diff(prev, g, n.self) {
		n.logger.Debug("membership event", zap.String("event", ev.Kind.String()),
			zap.String("member", ev.Member.UniqueAddress.String()))
		if ev.Member.UniqueAddress != n.self {
			switch ev.Kind {
			case gossip.MemberDowned, gossip.MemberRemoved:
				n.system.AddressTerminated(ev.Member.Address())
			}
		}
		if n.bus != nil {
			n.bus.Emit(events.Event{Key: EventPrefix + ev.Kind.String(), Entry: ev})
		}
	}
	if n.joined {
		m, ok := g.Member(n.self)
		if !ok || m.Status == gossip.Down || m.Status == gossip.Exiting {
			n.removedOnce.Do(func() {
				n.logger.Info("this node left the cluster")
				close(n.removed)
			})
		}
	}
}

func (n *Node) sendGossip(to identity.UniqueAddress) {
	n.send(to.Address, gossip.Envelope{From: n.self, To: to, Gossip: n.latest})
}

func (n *Node) gossipTick() {
	if !n.joined {
		return
	}
	candidates := []identity.UniqueAddress{}
	for _, m := range n.latest.Members() {
		if m.UniqueAddress == n.self || !n.latest.IsReachable(m.UniqueAddress) {
			continue
		}
		if peer, ok := n.peers[m.Address()]; ok && peer == m.UniqueAddress {
			candidates = append(candidates, m.UniqueAddress)
		}
	}
	if len(candidates) == 0 {
		return
	}
	peer := candidates[n.rand.Intn(len(candidates))]
	if n.latest.SeenByNode(peer) {
		n.send(peer.Address, gossip.Status{From: n.self, Version: n.latest.Version})
	} else {
		n.sendGossip(peer)
	}
}

func (n *Node) leaderTick(now time.Time) {
	if !n.joined {
		return
	}
	unreachable := map[identity.UniqueAddress]struct{}{}
	for _, addr := range n.latest.Overview.Reachability.AllUnreachableOrTerminated() {
		unreachable[addr] = struct{}{}
		if _, ok := n.unreachableSince[addr]; !ok {
			n.unreachableSince[addr] = now
		}
	}
	for addr := range n.unreachableSince {
		if _, ok := unreachable[addr]; !ok {
			delete(n.unreachableSince, addr)
		}
	}
	leader, ok := n.latest.Leader(n.self)
	if !ok || leader != n.self {
		return
	}
	if n.config.AutoDownUnreachableAfter > 0 {
		for addr, since := range n.unreachableSince {
			if now.Sub(since) >= n.config.AutoDownUnreachableAfter {
				n.down(addr)
			}
		}
	}
	if !n.latest.Convergence(n.self) {
		return
	}
	g, removed, changed := n.latest.LeaderActions(now.UnixNano())
	if n.config.PruneTombstonesAfter > 0 {
		pruned := g.PruneTombstones(now.Add(-n.config.PruneTombstonesAfter).UnixNano())
		if len(pruned.Tombstones) != len(g.Tombstones) {
			g = pruned
			changed = true
		}
	}
	if !changed {
		return
	}
	for _, m := range removed {
		n.logger.Info("removing member", zap.String("member", m.UniqueAddress.String()), zap.String("status", m.Status.String()))
		delete(n.unreachableSince, m.UniqueAddress)
	}
	n.update(g)
}
