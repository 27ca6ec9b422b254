package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/cli"
	"github.com/vx-labs/cluster-sharding/cluster/singleton"
	"github.com/vx-labs/cluster-sharding/persistence"
	"github.com/vx-labs/cluster-sharding/persistence/boltstore"
	"github.com/vx-labs/cluster-sharding/persistence/memstore"
	"github.com/vx-labs/cluster-sharding/sharding/codec"
	"github.com/vx-labs/cluster-sharding/sharding/coordinator"
	"github.com/vx-labs/cluster-sharding/sharding/region"
	"go.uber.org/zap"
)

func addShardingFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().String("type-name", "entity", "Sharded entity type name")
	cmd.Flags().String("journal", "bolt", "Journal backend: bolt or memory")
	cmd.Flags().String("data-dir", "/tmp/cluster-sharding", "Journal directory")
	cmd.Flags().Uint32("number-of-shards", 100, "Number of shards entities are spread over")
	cmd.Flags().Duration("handoff-timeout", 60*time.Second, "Maximum duration of a shard hand off")
	cmd.Flags().Duration("shard-start-timeout", 10*time.Second, "Delay before HostShard is sent again")
	cmd.Flags().Duration("rebalance-interval", 10*time.Second, "Delay between two rebalance rounds")
	cmd.Flags().Int("rebalance-threshold", 10, "Shard count difference triggering a rebalance")
	cmd.Flags().Int("max-simultaneous-rebalance", 3, "Maximum number of shards handed off at once")
	cmd.Flags().Int("snapshot-after", 1000, "Save a snapshot every N events")
	cmd.Flags().Uint64("persist-retries", 5, "Journal write attempts before the coordinator restarts")
	cmd.Flags().String("coordinator-role", "", "Role of the members allowed to host the coordinator")
	cmd.Flags().Bool("proxy", false, "Route messages without hosting shards")
	for _, name := range []string{"type-name", "journal", "data-dir", "number-of-shards", "handoff-timeout",
		"shard-start-timeout", "rebalance-interval", "rebalance-threshold", "max-simultaneous-rebalance",
		"snapshot-after", "persist-retries", "coordinator-role", "proxy"} {
		v.BindPFlag(name, cmd.Flags().Lookup(name))
	}
}

func coordinatorConfig(v *viper.Viper) coordinator.Config {
	config := coordinator.DefaultConfig(v.GetString("type-name"))
	config.HandOffTimeout = v.GetDuration("handoff-timeout")
	config.ShardStartTimeout = v.GetDuration("shard-start-timeout")
	config.RebalanceInterval = v.GetDuration("rebalance-interval")
	config.RebalanceThreshold = v.GetInt("rebalance-threshold")
	config.MaxSimultaneousRebalance = v.GetInt("max-simultaneous-rebalance")
	config.SnapshotAfter = v.GetInt("snapshot-after")
	config.PersistRetries = v.GetUint64("persist-retries")
	return config
}

func regionConfig(v *viper.Viper) region.Config {
	config := region.DefaultConfig(v.GetString("type-name"))
	config.Proxy = v.GetBool("proxy")
	config.Shard.SnapshotAfter = v.GetInt("snapshot-after")
	config.Shard.PersistRetries = v.GetUint64("persist-retries")
	return config
}

type closableJournal interface {
	persistence.Journal
	Close() error
}

func openJournal(v *viper.Viper) (closableJournal, error) {
	switch kind := v.GetString("journal"); kind {
	case "memory":
		return memstore.New(), nil
	case "bolt":
		dir := v.GetString("data-dir")
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}
		store, err := boltstore.New(boltstore.Options{Path: filepath.Join(dir, "journal.bolt")})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.Errorf("unknown journal backend %q", kind)
	}
}

// shardingService runs the shard region of this node, and the coordinator
// when this node is the oldest member carrying the coordinator role.
type shardingService struct {
	region    *region.Region
	singleton *singleton.Manager
}

func (s *shardingService) Run(ctx context.Context) error {
	go s.singleton.Serve(ctx)
	return s.region.Run(ctx)
}

func (s *shardingService) Shutdown(ctx context.Context) {
	select {
	case <-s.region.GracefulShutdown():
	case <-ctx.Done():
	}
}

func (s *shardingService) Health() string {
	return "ok"
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	ctx, err := cli.Bootstrap(cmd, v)
	if err != nil {
		return err
	}
	logger := ctx.Logger
	journal, err := openJournal(v)
	if err != nil {
		return err
	}
	defer journal.Close()
	ctx.Mesh.RegisterSerializer(codec.New(ctx.System))

	coordinatorConf := coordinatorConfig(v)
	role := v.GetString("coordinator-role")
	locate := func() (actor.Ref, bool) {
		return singleton.Locate(ctx.System, ctx.Mesh, role, coordinator.LocalPath(coordinatorConf.TypeName))
	}
	regionLogger := logger.With(zap.String("component", "region"))
	r, err := region.New(ctx.System, journal, regionConfig(v), region.HashExtractor{NumberOfShards: v.GetUint32("number-of-shards")},
		func(entityID string, msg interface{}, sender actor.Ref) {
			regionLogger.Debug("entity message", zap.String("entity_id", entityID), zap.String("message_type", fmt.Sprintf("%T", msg)))
		}, locate, regionLogger)
	if err != nil {
		return err
	}
	coordinatorLogger := logger.With(zap.String("component", "coordinator"))
	service := &shardingService{
		region: r,
		singleton: &singleton.Manager{
			Name:       coordinator.PersistenceID(coordinatorConf.TypeName),
			Role:       role,
			Membership: ctx.Mesh,
			Bus:        ctx.Bus,
			Logger:     logger.With(zap.String("component", "singleton")),
			Run: func(runCtx context.Context) error {
				c, err := coordinator.New(ctx.System, journal, coordinatorConf, coordinatorLogger)
				if err != nil {
					return err
				}
				return c.Run(runCtx)
			},
		},
	}
	return ctx.Run(service)
}

func main() {
	v := viper.New()
	v.SetEnvPrefix("node")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	root := &cobra.Command{
		Use:           "node",
		Short:         "Run a cluster member hosting sharded entities",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v)
		},
	}
	cli.AddClusterFlags(root, v)
	addShardingFlags(root, v)
	root.AddCommand(Inspect())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
