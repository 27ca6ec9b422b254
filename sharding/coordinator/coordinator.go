// Package coordinator implements the persistent shard coordinator. It
// decides which shard region hosts each shard, records every decision in a
// journal before acting on it, and moves shards between regions through a
// two phase hand off.
package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/persistence"
	"github.com/vx-labs/cluster-sharding/sharding"
	"github.com/vx-labs/cluster-sharding/sharding/codec"
	"go.uber.org/zap"
)

// resendHostShard is scheduled when a HostShard was not acknowledged in
// time.
type resendHostShard struct {
	Shard  string
	Region actor.Ref
}

type Coordinator struct {
	config   Config
	system   *actor.System
	mailbox  *actor.Mailbox
	log      *persistence.Log
	codec    *codec.Codec
	strategy sharding.AllocationStrategy
	logger   *zap.Logger

	state         sharding.State
	current       atomic.Value
	sinceSnapshot int
	// rebalanceInProgress holds, per shard being handed off, the
	// GetShardHome requests deferred until the hand off completes.
	rebalanceInProgress        map[string][]actor.Ref
	gracefulShutdownInProgress map[string]actor.Ref
	unAckedHostShards          map[string]*time.Timer
}

// New registers the coordinator mailbox in system. The coordinator does
// nothing until Run is called.
func New(system *actor.System, journal persistence.Journal, config Config, logger *zap.Logger) (*Coordinator, error) {
	mailbox, err := system.Spawn(LocalPath(config.TypeName))
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		config:  config,
		system:  system,
		mailbox: mailbox,
		log:     persistence.NewLog(journal, PersistenceID(config.TypeName), codec.SerializerID),
		codec:   codec.New(system),
		strategy: sharding.LeastShardAllocationStrategy{
			RebalanceThreshold:       config.RebalanceThreshold,
			MaxSimultaneousRebalance: config.MaxSimultaneousRebalance,
		},
		logger:                     logger.With(zap.String("type_name", config.TypeName)),
		state:                      sharding.EmptyState(),
		rebalanceInProgress:        map[string][]actor.Ref{},
		gracefulShutdownInProgress: map[string]actor.Ref{},
		unAckedHostShards:          map[string]*time.Timer{},
	}
	c.current.Store(c.state)
	return c, nil
}

func (c *Coordinator) Ref() actor.Ref {
	return c.mailbox
}

// State returns the last state reached by the coordinator. It is safe to
// call from any goroutine.
func (c *Coordinator) State() sharding.State {
	return c.current.Load().(sharding.State)
}

// Run recovers the coordinator state from the journal and serves requests
// until ctx is cancelled. A journal failure stops the coordinator and is
// returned: the caller is expected to start a new coordinator, which will
// replay the journal.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.mailbox.Stop()
	defer func() {
		for shard, timer := range c.unAckedHostShards {
			timer.Stop()
			delete(c.unAckedHostShards, shard)
		}
	}()
	if err := c.recover(); err != nil {
		return errors.Wrap(err, "failed to recover coordinator state")
	}
	c.logger.Info("coordinator state recovered",
		zap.Uint64("sequence", c.log.Sequence()),
		zap.Int("region_count", len(c.state.Regions())),
		zap.Int("shard_count", len(c.state.Shards())))
	for _, region := range c.state.Regions() {
		c.system.Watch(c.mailbox, region.Region)
	}
	for _, proxy := range c.state.Proxies() {
		c.system.Watch(c.mailbox, proxy)
	}
	ticker := time.NewTicker(c.config.RebalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.rebalanceTick()
		case env := <-c.mailbox.Receive():
			if err := c.handle(env); err != nil {
				c.logger.Error("coordinator stopped", zap.Error(err))
				return err
			}
		}
	}
}

func (c *Coordinator) recover() error {
	return c.log.Recover(func(snapshot persistence.Snapshot) error {
		msg, err := c.codec.FromBinary(snapshot.Manifest, snapshot.Payload)
		if err != nil {
			return err
		}
		state, ok := msg.(sharding.State)
		if !ok {
			return errors.Errorf("unexpected snapshot type %T", msg)
		}
		c.setState(state)
		return nil
	}, func(record persistence.Record) error {
		msg, err := c.codec.FromBinary(record.Manifest, record.Payload)
		if err != nil {
			return err
		}
		event, ok := msg.(sharding.DomainEvent)
		if !ok {
			return errors.Errorf("unexpected event type %T", msg)
		}
		state, err := c.state.Updated(event)
		if err != nil {
			return err
		}
		c.setState(state)
		return nil
	})
}

// Recover replays the journal of a coordinator without serving requests.
// It returns the recovered state and the last applied sequence number.
func Recover(system *actor.System, journal persistence.Journal, typeName string) (sharding.State, uint64, error) {
	c, err := New(system, journal, DefaultConfig(typeName), zap.NewNop())
	if err != nil {
		return sharding.State{}, 0, err
	}
	defer c.mailbox.Stop()
	if err := c.recover(); err != nil {
		return sharding.State{}, 0, errors.Wrap(err, "failed to recover coordinator state")
	}
	return c.state, c.log.Sequence(), nil
}

func (c *Coordinator) setState(state sharding.State) {
	c.state = state
	c.current.Store(state)
	allocatedShards.WithLabelValues(c.config.TypeName).Set(float64(len(state.Shards())))
}

// update persists event, then applies it. The in-memory state is left
// untouched when the journal rejects the event.
func (c *Coordinator) update(event sharding.DomainEvent) error {
	next, err := c.state.Updated(event)
	if err != nil {
		return err
	}
	manifest, _ := c.codec.Manifest(event)
	payload, err := c.codec.ToBinary(event)
	if err != nil {
		return err
	}
	policy := backoff.WithMaxRetries(c.backoff(), c.config.PersistRetries)
	err = backoff.Retry(func() error {
		_, err := c.log.Persist(manifest, payload)
		if errors.Cause(err) == persistence.ErrSequenceConflict {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.logger.Warn("failed to persist event", zap.String("manifest", manifest), zap.Error(err))
		}
		return err
	}, policy)
	if err != nil {
		return errors.Wrapf(err, "failed to persist event %T", event)
	}
	eventsPersisted.WithLabelValues(manifest).Inc()
	c.setState(next)
	c.sinceSnapshot++
	if c.config.SnapshotAfter > 0 && c.sinceSnapshot >= c.config.SnapshotAfter {
		c.saveSnapshot()
	}
	return nil
}

func (c *Coordinator) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.PersistRetryInterval
	b.MaxElapsedTime = 0
	return b
}

func (c *Coordinator) saveSnapshot() {
	payload, err := c.codec.ToBinary(c.state)
	if err != nil {
		c.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	if err := c.log.SaveSnapshot(codec.CoordinatorStateManifest, payload); err != nil {
		c.logger.Warn("failed to save snapshot", zap.Error(err))
		return
	}
	c.sinceSnapshot = 0
	c.logger.Debug("snapshot saved", zap.Uint64("sequence", c.log.Sequence()))
	if err := c.log.DeleteEvents(c.log.Sequence()); err != nil {
		c.logger.Warn("failed to delete events covered by snapshot", zap.Error(err))
	}
}

func (c *Coordinator) handle(env actor.Envelope) error {
	switch m := env.Message.(type) {
	case sharding.Register:
		return c.register(m.ShardRegion)
	case sharding.RegisterProxy:
		return c.registerProxy(m.ShardRegionProxy)
	case sharding.GetShardHome:
		return c.getShardHome(m.Shard, env.Sender)
	case sharding.ShardStarted:
		if timer, ok := c.unAckedHostShards[m.Shard]; ok {
			timer.Stop()
			delete(c.unAckedHostShards, m.Shard)
		}
	case resendHostShard:
		c.resendHostShard(m)
	case sharding.GracefulShutdownRequest:
		c.gracefulShutdown(m.ShardRegion)
	case rebalanceDone:
		return c.rebalanceDone(m)
	case actor.Terminated:
		return c.terminated(m.Ref)
	default:
		c.logger.Debug("ignoring unexpected message", zap.String("message_type", fmt.Sprintf("%T", m)))
	}
	return nil
}

func (c *Coordinator) register(region actor.Ref) error {
	if c.state.HasRegion(region) {
		region.Tell(sharding.RegisterAck{Coordinator: c.mailbox}, c.mailbox)
		return nil
	}
	delete(c.gracefulShutdownInProgress, region.Path())
	if err := c.update(sharding.ShardRegionRegistered{Region: region}); err != nil {
		return err
	}
	c.logger.Info("shard region registered", zap.String("region", region.Path()))
	c.system.Watch(c.mailbox, region)
	region.Tell(sharding.RegisterAck{Coordinator: c.mailbox}, c.mailbox)
	return c.allocateUnallocatedShards()
}

func (c *Coordinator) registerProxy(proxy actor.Ref) error {
	if !c.state.HasProxy(proxy) {
		if err := c.update(sharding.ShardRegionProxyRegistered{RegionProxy: proxy}); err != nil {
			return err
		}
		c.logger.Info("shard region proxy registered", zap.String("region", proxy.Path()))
		c.system.Watch(c.mailbox, proxy)
	}
	proxy.Tell(sharding.RegisterAck{Coordinator: c.mailbox}, c.mailbox)
	return nil
}

// activeRegions returns the regions eligible for new shards, in
// registration order.
func (c *Coordinator) activeRegions() []sharding.RegionShards {
	out := []sharding.RegionShards{}
	for _, region := range c.state.Regions() {
		if _, ok := c.gracefulShutdownInProgress[region.Region.Path()]; ok {
			continue
		}
		out = append(out, region)
	}
	return out
}

func (c *Coordinator) getShardHome(shard string, requester actor.Ref) error {
	if _, ok := c.rebalanceInProgress[shard]; ok {
		if requester != nil {
			c.rebalanceInProgress[shard] = append(c.rebalanceInProgress[shard], requester)
		}
		return nil
	}
	if home, ok := c.state.ShardHome(shard); ok {
		if requester != nil {
			requester.Tell(sharding.ShardHome{Shard: shard, Ref: home}, c.mailbox)
		}
		return nil
	}
	region, err := c.strategy.AllocateShard(requester, shard, c.activeRegions())
	if err != nil {
		c.logger.Debug("shard allocation postponed", zap.String("shard_id", shard), zap.Error(err))
		return nil
	}
	if err := c.update(sharding.ShardHomeAllocated{Shard: shard, Region: region}); err != nil {
		return err
	}
	c.logger.Debug("shard allocated", zap.String("shard_id", shard), zap.String("region", region.Path()))
	c.sendHostShard(shard, region)
	if requester != nil {
		requester.Tell(sharding.ShardHome{Shard: shard, Ref: region}, c.mailbox)
	}
	return nil
}

func (c *Coordinator) allocateUnallocatedShards() error {
	for _, shard := range c.state.UnallocatedShards() {
		if err := c.getShardHome(shard, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) sendHostShard(shard string, region actor.Ref) {
	region.Tell(sharding.HostShard{Shard: shard}, c.mailbox)
	if timer, ok := c.unAckedHostShards[shard]; ok {
		timer.Stop()
	}
	self := c.mailbox
	c.unAckedHostShards[shard] = time.AfterFunc(c.config.ShardStartTimeout, func() {
		self.Tell(resendHostShard{Shard: shard, Region: region}, nil)
	})
}

func (c *Coordinator) resendHostShard(m resendHostShard) {
	if _, ok := c.unAckedHostShards[m.Shard]; !ok {
		return
	}
	home, ok := c.state.ShardHome(m.Shard)
	if !ok || !actor.Equal(home, m.Region) {
		delete(c.unAckedHostShards, m.Shard)
		return
	}
	c.logger.Debug("resending HostShard", zap.String("shard_id", m.Shard), zap.String("region", home.Path()))
	c.sendHostShard(m.Shard, home)
}

func (c *Coordinator) gracefulShutdown(region actor.Ref) {
	if _, ok := c.gracefulShutdownInProgress[region.Path()]; ok {
		return
	}
	if !c.state.HasRegion(region) {
		return
	}
	shards := c.state.RegionShardsOf(region)
	c.logger.Info("graceful shutdown of shard region", zap.String("region", region.Path()), zap.Int("shard_count", len(shards)))
	c.gracefulShutdownInProgress[region.Path()] = region
	if !c.continueRebalance(shards) {
		// The region will ask again.
		delete(c.gracefulShutdownInProgress, region.Path())
	}
}

func (c *Coordinator) rebalanceTick() {
	if len(c.state.Regions()) == 0 {
		return
	}
	inProgress := make(map[string]struct{}, len(c.rebalanceInProgress))
	for shard := range c.rebalanceInProgress {
		inProgress[shard] = struct{}{}
	}
	c.continueRebalance(c.strategy.Rebalance(c.state.Regions(), inProgress))
}

// continueRebalance starts a hand off for every shard not already moving. It
// returns false if one of them could not be started.
func (c *Coordinator) continueRebalance(shards []string) bool {
	started := true
	for _, shard := range shards {
		if _, ok := c.rebalanceInProgress[shard]; ok {
			continue
		}
		home, ok := c.state.ShardHome(shard)
		if !ok {
			continue
		}
		if err := c.startHandOff(shard, home); err != nil {
			c.logger.Error("failed to start hand off", zap.String("shard_id", shard), zap.Error(err))
			started = false
		}
	}
	return started
}

func (c *Coordinator) startHandOff(shard string, from actor.Ref) error {
	mailbox, err := c.system.Spawn(fmt.Sprintf("%s/rebalance-%s", LocalPath(c.config.TypeName), uuid.New().String()))
	if err != nil {
		return err
	}
	c.rebalanceInProgress[shard] = []actor.Ref{}
	regions := []actor.Ref{}
	for _, region := range c.state.Regions() {
		regions = append(regions, region.Region)
	}
	regions = append(regions, c.state.Proxies()...)
	c.logger.Debug("starting shard hand off", zap.String("shard_id", shard), zap.String("region", from.Path()))
	worker := &handOffWorker{
		shard:       shard,
		from:        from,
		regions:     regions,
		timeout:     c.config.HandOffTimeout,
		mailbox:     mailbox,
		system:      c.system,
		coordinator: c.mailbox,
		logger:      c.logger,
	}
	go worker.run()
	return nil
}

func (c *Coordinator) rebalanceDone(m rebalanceDone) error {
	home, allocated := c.state.ShardHome(m.Shard)
	switch {
	case !allocated:
		rebalances.WithLabelValues("region_terminated").Inc()
	case m.OK:
		if err := c.update(sharding.ShardHomeDeallocated{Shard: m.Shard}); err != nil {
			return err
		}
		if timer, ok := c.unAckedHostShards[m.Shard]; ok {
			timer.Stop()
			delete(c.unAckedHostShards, m.Shard)
		}
		rebalances.WithLabelValues("success").Inc()
		c.logger.Debug("shard deallocated", zap.String("shard_id", m.Shard))
	default:
		// The region will ask again for a graceful shutdown.
		delete(c.gracefulShutdownInProgress, home.Path())
		rebalances.WithLabelValues("timeout").Inc()
	}
	return c.clearRebalanceInProgress(m.Shard)
}

func (c *Coordinator) clearRebalanceInProgress(shard string) error {
	pending := c.rebalanceInProgress[shard]
	delete(c.rebalanceInProgress, shard)
	for _, requester := range pending {
		if err := c.getShardHome(shard, requester); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) terminated(ref actor.Ref) error {
	switch {
	case c.state.HasRegion(ref):
		if err := c.update(sharding.ShardRegionTerminated{Region: ref}); err != nil {
			return err
		}
		delete(c.gracefulShutdownInProgress, ref.Path())
		c.logger.Info("shard region terminated", zap.String("region", ref.Path()))
		return c.allocateUnallocatedShards()
	case c.state.HasProxy(ref):
		if err := c.update(sharding.ShardRegionProxyTerminated{RegionProxy: ref}); err != nil {
			return err
		}
		c.logger.Info("shard region proxy terminated", zap.String("region", ref.Path()))
	}
	return nil
}
