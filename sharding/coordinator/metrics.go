package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sharding"

var (
	eventsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "events_persisted_total",
			Help:      "Number of coordinator events written to the journal",
		},
		[]string{"manifest"},
	)
	allocatedShards = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "allocated_shards",
			Help:      "Number of shards with a home",
		},
		[]string{"type_name"},
	)
	rebalances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "rebalances_total",
			Help:      "Number of completed shard hand offs",
		},
		[]string{"result"},
	)
)
