package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vx-labs/cluster-sharding/actor"
	"github.com/vx-labs/cluster-sharding/persistence/memstore"
	"github.com/vx-labs/cluster-sharding/sharding"
)

func ref(path string) actor.Ref {
	return &actor.FuncRef{Name: path, Fn: func(interface{}, actor.Ref) {}}
}

func TestViewOf(t *testing.T) {
	regionA := ref("akka.tcp://shop@127.0.0.1:2551/system/sharding/cart")
	proxy := ref("akka.tcp://shop@127.0.0.1:2552/system/sharding/cartProxy")
	state, err := sharding.Replay(
		sharding.ShardRegionRegistered{Region: regionA},
		sharding.ShardRegionProxyRegistered{RegionProxy: proxy},
		sharding.ShardHomeAllocated{Shard: "9", Region: regionA},
		sharding.ShardHomeAllocated{Shard: "1", Region: regionA},
	)
	require.NoError(t, err)
	view := viewOf("cart", 4, state)
	require.Equal(t, uint64(4), view.Sequence)
	require.Len(t, view.Regions, 1)
	require.Equal(t, []string{"1", "9"}, view.Regions[0].Shards)
	require.Equal(t, []string{proxy.Path()}, view.Proxies)
	require.Empty(t, view.Unallocated)
}

func TestPrintCoordinator(t *testing.T) {
	out := bytes.NewBuffer(nil)
	require.NoError(t, printCoordinator(out, memstore.New(), "cart"))
	require.Contains(t, out.String(), "cart")
	require.Contains(t, out.String(), "Unallocated:")
}
