package mesh

import (
	"time"

	"github.com/vx-labs/cluster-sharding/identity"
)

type Config struct {
	SystemName    string
	BindAddr      string
	BindPort      int
	AdvertiseAddr string
	AdvertisePort int
	Roles         []string
	// Seeds are host:port memberlist endpoints. When the first seed is this
	// node, or when there are no seeds at all, the node forms a new cluster
	// if nobody welcomed it after JoinRetryInterval.
	Seeds                    []string
	GossipInterval           time.Duration
	LeaderActionsInterval    time.Duration
	AutoDownUnreachableAfter time.Duration
	JoinRetryInterval        time.Duration
	PruneTombstonesAfter     time.Duration
	InboxSize                int
}

func DefaultConfig(systemName string) Config {
	return Config{
		SystemName:            systemName,
		BindAddr:              "0.0.0.0",
		BindPort:              3500,
		AdvertiseAddr:         "127.0.0.1",
		AdvertisePort:         3500,
		GossipInterval:        time.Second,
		LeaderActionsInterval: time.Second,
		JoinRetryInterval:     5 * time.Second,
		PruneTombstonesAfter:  24 * time.Hour,
		InboxSize:             1024,
	}
}

// Address is the cluster address of the node described by the config.
func (c Config) Address() identity.Address {
	return identity.Address{
		Protocol: identity.DefaultProtocol,
		System:   c.SystemName,
		Host:     c.AdvertiseAddr,
		Port:     uint32(c.AdvertisePort),
	}
}
