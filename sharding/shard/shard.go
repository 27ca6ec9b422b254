// Package shard hosts the entities of one shard. The set of running
// entities is event sourced so that a shard restarted on another region
// starts them again.
package shard

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/persistence"
	"github.com/vx-labs/cluster-sharding/sharding"
	"github.com/vx-labs/cluster-sharding/sharding/codec"
	"go.uber.org/zap"
)

// Handler processes the messages of an entity. Calls for a given entity are
// sequential.
type Handler func(entityID string, msg interface{}, sender actor.Ref)

// Delivery routes a message to an entity, starting it when needed.
type Delivery struct {
	EntityID string
	Message  interface{}
}

// Passivate stops an entity. It will not be started again on recovery.
type Passivate struct {
	EntityID string
}

type Config struct {
	TypeName             string
	SnapshotAfter        int
	PersistRetries       uint64
	PersistRetryInterval time.Duration
}

func DefaultConfig(typeName string) Config {
	return Config{
		TypeName:             typeName,
		SnapshotAfter:        1000,
		PersistRetries:       5,
		PersistRetryInterval: 200 * time.Millisecond,
	}
}

func PersistenceID(typeName, shard string) string {
	return fmt.Sprintf("/sharding/%sShard/%s", typeName, shard)
}

func LocalPath(typeName, shard string) string {
	return fmt.Sprintf("/system/sharding/%s/%s", typeName, shard)
}

type Shard struct {
	id            string
	config        Config
	system        *actor.System
	mailbox       *actor.Mailbox
	log           *persistence.Log
	codec         *codec.Codec
	handler       Handler
	logger        *zap.Logger
	state         sharding.ShardState
	entities      map[string]*actor.Mailbox
	sinceSnapshot int
}

func New(system *actor.System, journal persistence.Journal, id string, handler Handler, config Config, logger *zap.Logger) (*Shard, error) {
	mailbox, err := system.Spawn(LocalPath(config.TypeName, id))
	if err != nil {
		return nil, err
	}
	return &Shard{
		id:       id,
		config:   config,
		system:   system,
		mailbox:  mailbox,
		log:      persistence.NewLog(journal, PersistenceID(config.TypeName, id), codec.SerializerID),
		codec:    codec.New(system),
		handler:  handler,
		logger:   logger.With(zap.String("shard_id", id)),
		state:    sharding.EmptyShardState(),
		entities: map[string]*actor.Mailbox{},
	}, nil
}

func (s *Shard) ID() string {
	return s.id
}

func (s *Shard) Ref() actor.Ref {
	return s.mailbox
}

// Run recovers the remembered entities, starts them, and serves messages
// until ctx is cancelled or the shard is handed off.
func (s *Shard) Run(ctx context.Context) error {
	defer s.mailbox.Stop()
	defer s.stopEntities()
	if err := s.recover(); err != nil {
		return errors.Wrap(err, "failed to recover shard state")
	}
	for _, entityID := range s.state.Entities() {
		if err := s.spawnEntity(entityID); err != nil {
			return err
		}
	}
	if s.state.Len() > 0 {
		s.logger.Debug("remembered entities restarted", zap.Int("entity_count", s.state.Len()))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-s.mailbox.Receive():
			stop, err := s.handle(env)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}

func (s *Shard) recover() error {
	return s.log.Recover(func(snapshot persistence.Snapshot) error {
		msg, err := s.codec.FromBinary(snapshot.Manifest, snapshot.Payload)
		if err != nil {
			return err
		}
		state, ok := msg.(sharding.ShardState)
		if !ok {
			return errors.Errorf("unexpected snapshot type %T", msg)
		}
		s.state = state
		return nil
	}, func(record persistence.Record) error {
		msg, err := s.codec.FromBinary(record.Manifest, record.Payload)
		if err != nil {
			return err
		}
		event, ok := msg.(sharding.ShardEvent)
		if !ok {
			return errors.Errorf("unexpected event type %T", msg)
		}
		s.state = s.state.Updated(event)
		return nil
	})
}

func (s *Shard) handle(env actor.Envelope) (bool, error) {
	switch m := env.Message.(type) {
	case sharding.StartEntity:
		if err := s.startEntity(m.EntityID); err != nil {
			return false, err
		}
		if env.Sender != nil {
			env.Sender.Tell(sharding.StartEntityAck{EntityID: m.EntityID, Shard: s.id}, s.mailbox)
		}
	case Delivery:
		if err := s.startEntity(m.EntityID); err != nil {
			return false, err
		}
		s.entities[m.EntityID].Tell(m.Message, env.Sender)
	case Passivate:
		entity, ok := s.entities[m.EntityID]
		if !ok {
			return false, nil
		}
		if err := s.update(sharding.EntityStopped{EntityID: m.EntityID}); err != nil {
			return false, err
		}
		entity.Stop()
		delete(s.entities, m.EntityID)
	case sharding.GetShardStats:
		if env.Sender != nil {
			env.Sender.Tell(sharding.ShardStats{Shard: s.id, EntityCount: int32(s.state.Len())}, s.mailbox)
		}
	case sharding.HandOff:
		if m.Shard != s.id {
			return false, nil
		}
		s.logger.Debug("handing off shard", zap.Int("entity_count", len(s.entities)))
		s.stopEntities()
		if env.Sender != nil {
			env.Sender.Tell(sharding.ShardStopped{Shard: s.id}, s.mailbox)
		}
		return true, nil
	}
	return false, nil
}

func (s *Shard) startEntity(entityID string) error {
	if _, ok := s.entities[entityID]; ok {
		return nil
	}
	if !s.state.Contains(entityID) {
		if err := s.update(sharding.EntityStarted{EntityID: entityID}); err != nil {
			return err
		}
	}
	return s.spawnEntity(entityID)
}

func (s *Shard) spawnEntity(entityID string) error {
	mailbox, err := s.system.Spawn(LocalPath(s.config.TypeName, s.id) + "/" + entityID)
	if err != nil {
		return err
	}
	s.entities[entityID] = mailbox
	go func() {
		for {
			select {
			case <-mailbox.Done():
				return
			case env := <-mailbox.Receive():
				s.handler(entityID, env.Message, env.Sender)
			}
		}
	}()
	return nil
}

func (s *Shard) stopEntities() {
	for id, entity := range s.entities {
		entity.Stop()
		delete(s.entities, id)
	}
}

func (s *Shard) update(event sharding.ShardEvent) error {
	manifest, _ := s.codec.Manifest(event)
	payload, err := s.codec.ToBinary(event)
	if err != nil {
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.PersistRetryInterval
	err = backoff.Retry(func() error {
		_, err := s.log.Persist(manifest, payload)
		if errors.Cause(err) == persistence.ErrSequenceConflict {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(b, s.config.PersistRetries))
	if err != nil {
		return errors.Wrapf(err, "failed to persist event %T", event)
	}
	s.state = s.state.Updated(event)
	s.sinceSnapshot++
	if s.config.SnapshotAfter > 0 && s.sinceSnapshot >= s.config.SnapshotAfter {
		payload, err := s.codec.ToBinary(s.state)
		if err == nil {
			err = s.log.SaveSnapshot(codec.EntityStateManifest, payload)
		}
		if err != nil {
			s.logger.Warn("failed to save snapshot", zap.Error(err))
		} else {
			s.sinceSnapshot = 0
			if err := s.log.DeleteEvents(s.log.Sequence()); err != nil {
				s.logger.Warn("failed to delete events covered by snapshot", zap.Error(err))
			}
		}
	}
	return nil
}
