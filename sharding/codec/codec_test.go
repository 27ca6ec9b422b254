package codec

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/identity"
	"github.com/vx-labs/cluster-sharding/sharding"
	"go.uber.org/zap"
)

func testSystem() *actor.System {
	return actor.NewSystem(identity.Address{Protocol: identity.DefaultProtocol, System: "test", Host: "127.0.0.1", Port: 2551}, zap.NewNop())
}

func TestCodec_RoundTrip(t *testing.T) {
	system := testSystem()
	c := New(system)
	region, err := system.Resolve("akka.tcp://test@127.0.0.1:2552/system/sharding/cart")
	require.NoError(t, err)
	proxy, err := system.Resolve("akka.tcp://test@127.0.0.1:2553/system/sharding/cartProxy")
	require.NoError(t, err)

	messages := []struct {
		manifest string
		msg      interface{}
	}{
		{ShardRegionRegisteredManifest, sharding.ShardRegionRegistered{Region: region}},
		{ShardRegionProxyRegisteredManifest, sharding.ShardRegionProxyRegistered{RegionProxy: proxy}},
		{ShardRegionTerminatedManifest, sharding.ShardRegionTerminated{Region: region}},
		{ShardRegionProxyTerminatedManifest, sharding.ShardRegionProxyTerminated{RegionProxy: proxy}},
		{ShardHomeAllocatedManifest, sharding.ShardHomeAllocated{Shard: "s1", Region: region}},
		{ShardHomeDeallocatedManifest, sharding.ShardHomeDeallocated{Shard: "s1"}},
		{RegisterManifest, sharding.Register{ShardRegion: region}},
		{RegisterProxyManifest, sharding.RegisterProxy{ShardRegionProxy: proxy}},
		{RegisterAckManifest, sharding.RegisterAck{Coordinator: region}},
		{GetShardHomeManifest, sharding.GetShardHome{Shard: "s1"}},
		{ShardHomeManifest, sharding.ShardHome{Shard: "s1", Ref: region}},
		{HostShardManifest, sharding.HostShard{Shard: "s1"}},
		{ShardStartedManifest, sharding.ShardStarted{Shard: "s1"}},
		{BeginHandOffManifest, sharding.BeginHandOff{Shard: "s1"}},
		{BeginHandOffAckManifest, sharding.BeginHandOffAck{Shard: "s1"}},
		{HandOffManifest, sharding.HandOff{Shard: "s1"}},
		{ShardStoppedManifest, sharding.ShardStopped{Shard: "s1"}},
		{GracefulShutdownRequestManifest, sharding.GracefulShutdownRequest{ShardRegion: region}},
		{EntityStartedManifest, sharding.EntityStarted{EntityID: "e1"}},
		{EntityStoppedManifest, sharding.EntityStopped{EntityID: "e1"}},
		{GetShardStatsManifest, sharding.GetShardStats{}},
		{ShardStatsManifest, sharding.ShardStats{Shard: "s1", EntityCount: 4}},
		{StartEntityManifest, sharding.StartEntity{EntityID: "e1"}},
		{StartEntityAckManifest, sharding.StartEntityAck{EntityID: "e1", Shard: "s1"}},
	}
	for _, tt := range messages {
		t.Run(tt.manifest, func(t *testing.T) {
			manifest, ok := c.Manifest(tt.msg)
			require.True(t, ok)
			require.Equal(t, tt.manifest, manifest)
			payload, err := c.ToBinary(tt.msg)
			require.NoError(t, err)
			out, err := c.FromBinary(manifest, payload)
			require.NoError(t, err)
			require.Equal(t, tt.msg, out)
		})
	}
}

func TestCodec_CoordinatorState(t *testing.T) {
	system := testSystem()
	c := New(system)
	a, _ := system.Resolve("akka.tcp://test@127.0.0.1:2552/system/sharding/cart")
	b, _ := system.Resolve("akka.tcp://test@127.0.0.1:2554/system/sharding/cart")
	proxy, _ := system.Resolve("akka.tcp://test@127.0.0.1:2553/system/sharding/cartProxy")
	state, err := sharding.Replay(
		sharding.ShardRegionRegistered{Region: b},
		sharding.ShardRegionRegistered{Region: a},
		sharding.ShardRegionProxyRegistered{RegionProxy: proxy},
		sharding.ShardHomeAllocated{Shard: "s1", Region: a},
		sharding.ShardHomeAllocated{Shard: "s2", Region: b},
		sharding.ShardHomeAllocated{Shard: "s3", Region: a},
		sharding.ShardHomeDeallocated{Shard: "s3"},
	)
	require.NoError(t, err)

	manifest, ok := c.Manifest(state)
	require.True(t, ok)
	require.Equal(t, CoordinatorStateManifest, manifest)
	payload, err := c.ToBinary(state)
	require.NoError(t, err)
	require.Equal(t, []byte{0x1f, 0x8b}, payload[:2], "coordinator state is gzipped")

	out, err := c.FromBinary(manifest, payload)
	require.NoError(t, err)
	decoded := out.(sharding.State)
	require.True(t, state.Equal(decoded))
	require.Equal(t, b.Path(), decoded.Regions()[0].Region.Path(), "registration order survives")
	require.Equal(t, []string{"s3"}, decoded.UnallocatedShards())
}

func TestCodec_ShardState(t *testing.T) {
	c := New(testSystem())
	state := sharding.NewShardState("e2", "e1")
	payload, err := c.ToBinary(state)
	require.NoError(t, err)
	out, err := c.FromBinary(EntityStateManifest, payload)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2"}, out.(sharding.ShardState).Entities())
}

func TestCodec_Errors(t *testing.T) {
	c := New(testSystem())
	_, err := c.FromBinary("ZZ", nil)
	require.Equal(t, ErrUnknownManifest, errors.Cause(err))
	_, ok := c.Manifest("hello")
	require.False(t, ok)
	_, err = c.ToBinary("hello")
	require.Equal(t, ErrUnknownMessage, errors.Cause(err))
	_, err = c.FromBinary(ShardRegionRegisteredManifest, []byte{0xff, 0xff})
	require.Error(t, err)
	_, err = c.FromBinary(CoordinatorStateManifest, []byte("not gzip"))
	require.Error(t, err)
}
