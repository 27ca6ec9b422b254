// Package region routes entity messages to the region hosting their shard,
// and hosts the shards the coordinator allocates to this node.
package region

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/persistence"
	"github.com/vx-labs/cluster-sharding/sharding"
	"github.com/vx-labs/cluster-sharding/sharding/shard"
	"go.uber.org/zap"
)

// CoordinatorLocator returns the current coordinator, if one is known.
type CoordinatorLocator func() (actor.Ref, bool)

type Config struct {
	TypeName string
	// Proxy regions route messages but never host shards.
	Proxy         bool
	RetryInterval time.Duration
	BufferSize    int
	Shard         shard.Config
}

func DefaultConfig(typeName string) Config {
	return Config{
		TypeName:      typeName,
		RetryInterval: 2 * time.Second,
		BufferSize:    100000,
		Shard:         shard.DefaultConfig(typeName),
	}
}

func LocalPath(typeName string, proxy bool) string {
	if proxy {
		return fmt.Sprintf("/system/sharding/%sProxy", typeName)
	}
	return fmt.Sprintf("/system/sharding/%s", typeName)
}

type gracefulShutdown struct{}

type shardTerminated struct {
	Shard string
	Err   error
}

type runningShard struct {
	shard  *shard.Shard
	cancel context.CancelFunc
}

type Region struct {
	config    Config
	system    *actor.System
	journal   persistence.Journal
	handler   shard.Handler
	extractor Extractor
	locate    CoordinatorLocator
	mailbox   *actor.Mailbox
	logger    *zap.Logger

	coordinator      actor.Ref
	homes            map[string]actor.Ref
	shards           map[string]runningShard
	buffers          map[string][]actor.Envelope
	shuttingDown     bool
	stopped          chan struct{}
	stopOnce         sync.Once
	registerBackOff  backoff.BackOff
	ctx              context.Context
	bufferedMessages int
}

func New(system *actor.System, journal persistence.Journal, config Config, extractor Extractor, handler shard.Handler, locate CoordinatorLocator, logger *zap.Logger) (*Region, error) {
	mailbox, err := system.Spawn(LocalPath(config.TypeName, config.Proxy))
	if err != nil {
		return nil, err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.RetryInterval / 10
	b.MaxInterval = config.RetryInterval
	b.MaxElapsedTime = 0
	return &Region{
		config:          config,
		system:          system,
		journal:         journal,
		handler:         handler,
		extractor:       extractor,
		locate:          locate,
		mailbox:         mailbox,
		logger:          logger.With(zap.String("type_name", config.TypeName), zap.Bool("proxy", config.Proxy)),
		homes:           map[string]actor.Ref{},
		shards:          map[string]runningShard{},
		buffers:         map[string][]actor.Envelope{},
		stopped:         make(chan struct{}),
		registerBackOff: b,
	}, nil
}

func (r *Region) Ref() actor.Ref {
	return r.mailbox
}

// Tell routes msg to its entity.
func (r *Region) Tell(msg interface{}, sender actor.Ref) {
	r.mailbox.Tell(msg, sender)
}

// GracefulShutdown asks the coordinator to hand off every shard of this
// region. The returned channel is closed once no shard is left.
func (r *Region) GracefulShutdown() <-chan struct{} {
	r.mailbox.Tell(gracefulShutdown{}, nil)
	return r.stopped
}

func (r *Region) Run(ctx context.Context) error {
	r.ctx = ctx
	defer r.mailbox.Stop()
	defer func() {
		for _, running := range r.shards {
			running.cancel()
		}
	}()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			timer.Reset(r.tick())
		case env := <-r.mailbox.Receive():
			r.handle(env)
		}
	}
}

// tick registers to the coordinator, or retries the requests that may have
// been lost. It returns the delay before the next tick.
func (r *Region) tick() time.Duration {
	if r.coordinator == nil {
		r.register()
		return r.registerBackOff.NextBackOff()
	}
	if r.shuttingDown && len(r.shards) > 0 {
		r.coordinator.Tell(sharding.GracefulShutdownRequest{ShardRegion: r.mailbox}, r.mailbox)
	}
	for shardID := range r.buffers {
		r.coordinator.Tell(sharding.GetShardHome{Shard: shardID}, r.mailbox)
	}
	return r.config.RetryInterval
}

func (r *Region) register() {
	coordinator, ok := r.locate()
	if !ok {
		r.logger.Debug("no coordinator available")
		return
	}
	if r.config.Proxy {
		coordinator.Tell(sharding.RegisterProxy{ShardRegionProxy: r.mailbox}, r.mailbox)
	} else {
		coordinator.Tell(sharding.Register{ShardRegion: r.mailbox}, r.mailbox)
	}
}

func (r *Region) handle(env actor.Envelope) {
	switch m := env.Message.(type) {
	case sharding.RegisterAck:
		if !actor.Equal(r.coordinator, m.Coordinator) {
			r.logger.Info("registered to coordinator", zap.String("coordinator", m.Coordinator.Path()))
		}
		r.coordinator = m.Coordinator
		r.registerBackOff.Reset()
		r.system.Watch(r.mailbox, m.Coordinator)
		for shardID := range r.buffers {
			r.coordinator.Tell(sharding.GetShardHome{Shard: shardID}, r.mailbox)
		}
		if r.shuttingDown {
			r.coordinator.Tell(sharding.GracefulShutdownRequest{ShardRegion: r.mailbox}, r.mailbox)
		}
	case actor.Terminated:
		if actor.Equal(m.Ref, r.coordinator) {
			r.logger.Info("coordinator terminated", zap.String("coordinator", m.Ref.Path()))
			r.coordinator = nil
			return
		}
		for shardID, home := range r.homes {
			if actor.Equal(home, m.Ref) {
				delete(r.homes, shardID)
			}
		}
	case sharding.ShardHome:
		r.logger.Debug("shard home received", zap.String("shard_id", m.Shard), zap.String("region", m.Ref.Path()))
		r.homes[m.Shard] = m.Ref
		if !actor.Equal(m.Ref, r.mailbox) {
			r.system.Watch(r.mailbox, m.Ref)
		}
		r.deliverBuffered(m.Shard)
	case sharding.HostShard:
		if r.config.Proxy || r.shuttingDown {
			return
		}
		r.homes[m.Shard] = r.mailbox
		if _, err := r.startShard(m.Shard); err != nil {
			r.logger.Warn("failed to start shard", zap.String("shard_id", m.Shard), zap.Error(err))
			return
		}
		if env.Sender != nil {
			env.Sender.Tell(sharding.ShardStarted{Shard: m.Shard}, r.mailbox)
		}
		r.deliverBuffered(m.Shard)
	case sharding.BeginHandOff:
		delete(r.homes, m.Shard)
		if env.Sender != nil {
			env.Sender.Tell(sharding.BeginHandOffAck{Shard: m.Shard}, r.mailbox)
		}
	case sharding.HandOff:
		if running, ok := r.shards[m.Shard]; ok {
			running.shard.Ref().Tell(m, env.Sender)
		} else if env.Sender != nil {
			env.Sender.Tell(sharding.ShardStopped{Shard: m.Shard}, r.mailbox)
		}
	case shardTerminated:
		if m.Err != nil {
			r.logger.Error("shard stopped", zap.String("shard_id", m.Shard), zap.Error(m.Err))
			if actor.Equal(r.homes[m.Shard], r.mailbox) {
				delete(r.homes, m.Shard)
			}
		}
		delete(r.shards, m.Shard)
		r.checkStopped()
	case gracefulShutdown:
		if r.shuttingDown {
			return
		}
		r.logger.Info("starting graceful shutdown", zap.Int("shard_count", len(r.shards)))
		r.shuttingDown = true
		if r.coordinator != nil {
			r.coordinator.Tell(sharding.GracefulShutdownRequest{ShardRegion: r.mailbox}, r.mailbox)
		}
		r.checkStopped()
	default:
		r.deliver(env)
	}
}

func (r *Region) checkStopped() {
	if r.shuttingDown && len(r.shards) == 0 {
		r.stopOnce.Do(func() { close(r.stopped) })
	}
}

func (r *Region) deliver(env actor.Envelope) {
	entityID, ok := r.extractor.EntityID(env.Message)
	if !ok {
		r.logger.Debug("dropping message without entity", zap.String("message_type", fmt.Sprintf("%T", env.Message)))
		return
	}
	shardID := r.extractor.ShardID(entityID)
	home, ok := r.homes[shardID]
	switch {
	case !ok:
		r.buffer(shardID, env)
	case actor.Equal(home, r.mailbox):
		running, err := r.startShard(shardID)
		if err != nil {
			r.logger.Warn("failed to start shard", zap.String("shard_id", shardID), zap.Error(err))
			return
		}
		if _, ok := env.Message.(sharding.StartEntity); ok {
			running.shard.Ref().Tell(env.Message, env.Sender)
		} else {
			running.shard.Ref().Tell(shard.Delivery{EntityID: entityID, Message: env.Message}, env.Sender)
		}
	default:
		home.Tell(env.Message, env.Sender)
	}
}

func (r *Region) buffer(shardID string, env actor.Envelope) {
	if r.bufferedMessages >= r.config.BufferSize {
		r.logger.Warn("buffer full, dropping message", zap.String("shard_id", shardID))
		return
	}
	r.buffers[shardID] = append(r.buffers[shardID], env)
	r.bufferedMessages++
	if len(r.buffers[shardID]) == 1 && r.coordinator != nil {
		r.coordinator.Tell(sharding.GetShardHome{Shard: shardID}, r.mailbox)
	}
}

func (r *Region) deliverBuffered(shardID string) {
	pending := r.buffers[shardID]
	delete(r.buffers, shardID)
	r.bufferedMessages -= len(pending)
	for _, env := range pending {
		r.deliver(env)
	}
}

func (r *Region) startShard(shardID string) (runningShard, error) {
	if running, ok := r.shards[shardID]; ok {
		return running, nil
	}
	s, err := shard.New(r.system, r.journal, shardID, r.handler, r.config.Shard, r.logger)
	if err != nil {
		return runningShard{}, err
	}
	ctx, cancel := context.WithCancel(r.ctx)
	running := runningShard{shard: s, cancel: cancel}
	r.shards[shardID] = running
	self := r.mailbox
	go func() {
		err := s.Run(ctx)
		cancel()
		self.Tell(shardTerminated{Shard: shardID, Err: err}, nil)
	}()
	r.logger.Debug("shard started", zap.String("shard_id", shardID))
	return running, nil
}
