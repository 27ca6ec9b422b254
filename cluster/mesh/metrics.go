package mesh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vx-labs/cluster-sharding/cluster/gossip"
)

var (
	gossipReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cluster",
		Name:      "gossip_received_total",
		Help:      "Cluster protocol messages received, by kind.",
	}, []string{"kind"})
	membersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cluster",
		Name:      "members",
		Help:      "Members of the local gossip, by status.",
	}, []string{"status"})
	convergenceGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cluster",
		Name:      "convergence",
		Help:      "1 when the local gossip has converged.",
	})
	droppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cluster",
		Name:      "dropped_messages_total",
		Help:      "Cluster messages dropped because the node inbox was full.",
	})
)

func recordMembers(g gossip.Gossip, converged bool) {
	counts := map[gossip.MemberStatus]float64{}
	for _, m := range g.Members() {
		counts[m.Status]++
	}
	for status := gossip.Joining; status <= gossip.Removed; status++ {
		membersGauge.WithLabelValues(status.String()).Set(counts[status])
	}
	if converged {
		convergenceGauge.Set(1)
	} else {
		convergenceGauge.Set(0)
	}
}
