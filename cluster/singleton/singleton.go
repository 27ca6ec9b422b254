// Package singleton runs a component on exactly one member of the cluster:
// the oldest Up member carrying a given role.
package singleton

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/cluster/gossip"
	"github.com/vx-labs/cluster-sharding/cluster/mesh"
	"github.com/vx-labs/cluster-sharding/events"
	"github.com/vx-labs/cluster-sharding/identity"
	"go.uber.org/zap"
)

const (
	StartedEvent = "singleton/started"
	StoppedEvent = "singleton/stopped"
)

// Membership tells which member is the oldest.
type Membership interface {
	Self() identity.UniqueAddress
	Oldest(role string) (gossip.Member, bool)
}

// Manager starts its component while this node is the oldest member with
// the role, restarts it with an exponential backoff when it fails, and
// stops it when another member becomes the oldest.
type Manager struct {
	Name          string
	Role          string
	Membership    Membership
	Bus           *events.Bus
	Run           func(ctx context.Context) error
	CheckInterval time.Duration
	Logger        *zap.Logger
}

// Locate resolves the singleton actor hosted at localPath on the current
// oldest member.
func Locate(system *actor.System, membership Membership, role, localPath string) (actor.Ref, bool) {
	oldest, ok := membership.Oldest(role)
	if !ok {
		return nil, false
	}
	ref, err := system.Resolve(oldest.Address().String() + localPath)
	if err != nil {
		return nil, false
	}
	return ref, true
}

func (m *Manager) isOldest() bool {
	oldest, ok := m.Membership.Oldest(m.Role)
	return ok && oldest.UniqueAddress == m.Membership.Self()
}

// Serve supervises the component until ctx is cancelled.
func (m *Manager) Serve(ctx context.Context) {
	changes := make(chan struct{}, 1)
	if m.Bus != nil {
		cancel := m.Bus.Subscribe(mesh.EventPrefix, func(events.Event) {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		defer cancel()
	}
	interval := m.CheckInterval
	if interval == 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var stop context.CancelFunc
	var done chan struct{}
	defer func() {
		if stop != nil {
			stop()
			<-done
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-changes:
		}
		oldest := m.isOldest()
		switch {
		case oldest && stop == nil:
			var runCtx context.Context
			runCtx, stop = context.WithCancel(ctx)
			done = make(chan struct{})
			go func(done chan struct{}) {
				defer close(done)
				m.supervise(runCtx)
			}(done)
			m.Logger.Info("singleton started", zap.String("singleton", m.Name))
			m.emit(StartedEvent)
		case !oldest && stop != nil:
			stop()
			<-done
			stop = nil
			m.Logger.Info("singleton stopped", zap.String("singleton", m.Name))
			m.emit(StoppedEvent)
		}
	}
}

func (m *Manager) emit(key string) {
	if m.Bus != nil {
		m.Bus.Emit(events.Event{Key: key, Entry: m.Name})
	}
}

func (m *Manager) supervise(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	for {
		err := m.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := b.NextBackOff()
		m.Logger.Warn("singleton failed, restarting", zap.String("singleton", m.Name),
			zap.Duration("delay", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
