package mesh

import (
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/actor"
	clustercodec "github.com/vx-labs/cluster-sharding/cluster/codec"
	"github.com/vx-labs/cluster-sharding/cluster/gossip"
	"github.com/vx-labs/cluster-sharding/cluster/pb"
	"github.com/vx-labs/cluster-sharding/identity"
	"go.uber.org/zap"
)

// daemonPath is the recipient of cluster protocol packets.
const daemonPath = "/system/cluster/core/daemon"

var ErrNoSerializer = errors.New("no serializer for message")

// RegisterSerializer makes the messages known to s deliverable to remote
// actors.
func (n *Node) RegisterSerializer(s actor.Serializer) {
	n.serializersMtx.Lock()
	defer n.serializersMtx.Unlock()
	n.serializers[s.Identifier()] = s
}

func (n *Node) serializerFor(msg interface{}) (actor.Serializer, string, bool) {
	n.serializersMtx.RLock()
	defer n.serializersMtx.RUnlock()
	for _, s := range n.serializers {
		if manifest, ok := s.Manifest(msg); ok {
			return s, manifest, true
		}
	}
	return nil, "", false
}

// SendRemote implements actor.Transport.
func (n *Node) SendRemote(to identity.Address, recipient string, msg interface{}, sender actor.Ref) error {
	s, manifest, ok := n.serializerFor(msg)
	if !ok {
		return errors.Wrapf(ErrNoSerializer, "%T", msg)
	}
	payload, err := s.ToBinary(msg)
	if err != nil {
		return err
	}
	packet, err := proto.Marshal(&pb.Packet{
		Manifest:     manifest,
		Payload:      payload,
		Recipient:    recipient,
		Sender:       actor.PathOf(sender),
		SerializerId: s.Identifier(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode packet")
	}
	return n.wire.Send(to, packet)
}

func (n *Node) clusterPacket(msg gossip.Message) ([]byte, error) {
	manifest, payload, err := clustercodec.Encode(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&pb.Packet{
		Manifest:     manifest,
		Payload:      payload,
		Recipient:    n.self.Address.String() + daemonPath,
		Sender:       n.self.Address.String() + daemonPath,
		SerializerId: clustercodec.SerializerID,
	})
}

func (n *Node) send(to identity.Address, msg gossip.Message) {
	packet, err := n.clusterPacket(msg)
	if err != nil {
		n.logger.Error("failed to encode cluster message", zap.Error(err))
		return
	}
	if err := n.wire.Send(to, packet); err != nil {
		n.logger.Debug("failed to send cluster message", zap.String("to", to.String()), zap.Error(err))
	}
}

// onPacket dispatches a packet received from the network. Undecodable
// packets are logged and dropped.
func (n *Node) onPacket(payload []byte) {
	packet := &pb.Packet{}
	if err := proto.Unmarshal(payload, packet); err != nil {
		n.logger.Warn("dropping invalid packet", zap.Error(err))
		return
	}
	if packet.SerializerId == clustercodec.SerializerID {
		msg, err := clustercodec.Decode(packet.Manifest, packet.Payload)
		if err != nil {
			n.logger.Warn("dropping cluster message", zap.String("manifest", packet.Manifest), zap.Error(err))
			return
		}
		n.push(msg)
		return
	}
	n.serializersMtx.RLock()
	s, ok := n.serializers[packet.SerializerId]
	n.serializersMtx.RUnlock()
	if !ok {
		n.logger.Warn("dropping message with unknown serializer", zap.Int32("serializer_id", packet.SerializerId))
		return
	}
	msg, err := s.FromBinary(packet.Manifest, packet.Payload)
	if err != nil {
		n.logger.Warn("dropping message", zap.String("manifest", packet.Manifest), zap.Error(err))
		return
	}
	if err := n.system.Deliver(packet.Recipient, msg, packet.Sender); err != nil {
		n.logger.Debug("failed to deliver remote message", zap.String("recipient", packet.Recipient), zap.Error(err))
	}
}
