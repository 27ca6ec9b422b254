package coordinator

import (
	"time"

	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/sharding"
	"go.uber.org/zap"
)

// rebalanceDone is sent by a hand off worker to the coordinator.
type rebalanceDone struct {
	Shard string
	OK    bool
}

// handOffWorker moves one shard out of its region. Every region and proxy
// must acknowledge BeginHandOff, so that none of them keeps routing to the
// old home, before the owner is asked to stop the shard.
type handOffWorker struct {
	shard       string
	from        actor.Ref
	regions     []actor.Ref
	timeout     time.Duration
	mailbox     *actor.Mailbox
	system      *actor.System
	coordinator actor.Ref
	logger      *zap.Logger
}

func (w *handOffWorker) run() {
	defer w.mailbox.Stop()
	for _, region := range w.regions {
		defer w.system.Unwatch(w.mailbox, region)
	}
	ok := w.handOff()
	w.coordinator.Tell(rebalanceDone{Shard: w.shard, OK: ok}, w.mailbox)
}

func (w *handOffWorker) handOff() bool {
	remaining := make(map[string]struct{}, len(w.regions))
	for _, region := range w.regions {
		remaining[region.Path()] = struct{}{}
	}
	for _, region := range w.regions {
		w.system.Watch(w.mailbox, region)
		region.Tell(sharding.BeginHandOff{Shard: w.shard}, w.mailbox)
	}
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	for len(remaining) > 0 {
		select {
		case <-timer.C:
			w.logger.Warn("hand off timed out waiting for acknowledgements",
				zap.String("shard_id", w.shard), zap.Int("remaining_regions", len(remaining)))
			return false
		case env := <-w.mailbox.Receive():
			switch m := env.Message.(type) {
			case sharding.BeginHandOffAck:
				if m.Shard == w.shard && env.Sender != nil {
					delete(remaining, env.Sender.Path())
				}
			case actor.Terminated:
				delete(remaining, m.Ref.Path())
			}
		}
	}
	if !timer.Stop() {
		<-timer.C
	}
	timer.Reset(w.timeout)
	w.from.Tell(sharding.HandOff{Shard: w.shard}, w.mailbox)
	for {
		select {
		case <-timer.C:
			w.logger.Warn("hand off timed out waiting for shard to stop", zap.String("shard_id", w.shard))
			return false
		case env := <-w.mailbox.Receive():
			switch m := env.Message.(type) {
			case sharding.ShardStopped:
				if m.Shard == w.shard {
					return true
				}
			case actor.Terminated:
				if actor.Equal(m.Ref, w.from) {
					return true
				}
			}
		}
	}
}
