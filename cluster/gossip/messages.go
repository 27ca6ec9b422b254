package gossip

import (
	"github.com/vx-labs/cluster-sharding/cluster/vclock"
	"github.com/vx-labs/cluster-sharding/identity"
)

// Message is the closed set of cluster protocol messages.
type Message interface {
	clusterMessage()
}

// Join is sent by a new node to a seed.
type Join struct {
	Node  identity.UniqueAddress
	Roles []string
}

// Welcome answers a Join with the gossip the new node must start from.
type Welcome struct {
	From   identity.UniqueAddress
	Gossip Gossip
}

// LeaveRequest asks the cluster to gracefully remove a member.
type LeaveRequest struct {
	Address identity.Address
}

// DownRequest forcefully marks a member Down.
type DownRequest struct {
	Address identity.Address
}

// Envelope carries a full gossip between two members.
type Envelope struct {
	From   identity.UniqueAddress
	To     identity.UniqueAddress
	Gossip Gossip
}

// Status is the gossip digest: it only carries the sender's version.
type Status struct {
	From    identity.UniqueAddress
	Version vclock.VectorClock
}

func (Join) clusterMessage()         {}
func (Welcome) clusterMessage()      {}
func (LeaveRequest) clusterMessage() {}
func (DownRequest) clusterMessage()  {}
func (Envelope) clusterMessage()     {}
func (Status) clusterMessage()       {}
