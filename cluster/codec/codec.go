// Package codec serializes cluster protocol messages. Every message kind is
// identified by a short manifest travelling next to the payload.
package codec

import (
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/cluster/gossip"
	"github.com/vx-labs/cluster-sharding/cluster/pb"
	"github.com/vx-labs/cluster-sharding/identity"
)

const (
	JoinManifest           = "J"
	WelcomeManifest        = "W"
	LeaveManifest          = "L"
	DownManifest           = "D"
	GossipEnvelopeManifest = "GE"
	GossipStatusManifest   = "GS"
)

// SerializerID identifies this codec in persisted or forwarded packets.
const SerializerID int32 = 5

var (
	ErrUnknownManifest = errors.New("unknown manifest")
	ErrUnknownMessage  = errors.New("unknown message type")
	ErrInvalidPayload  = errors.New("invalid payload")
)

// Manifest returns the wire tag of a cluster message.
func Manifest(msg gossip.Message) (string, error) {
	switch msg.(type) {
	case gossip.Join:
		return JoinManifest, nil
	case gossip.Welcome:
		return WelcomeManifest, nil
	case gossip.LeaveRequest:
		return LeaveManifest, nil
	case gossip.DownRequest:
		return DownManifest, nil
	case gossip.Envelope:
		return GossipEnvelopeManifest, nil
	case gossip.Status:
		return GossipStatusManifest, nil
	}
	return "", errors.Wrapf(ErrUnknownMessage, "%T", msg)
}

// Encode serializes msg and returns its manifest.
func Encode(msg gossip.Message) (string, []byte, error) {
	manifest, err := Manifest(msg)
	if err != nil {
		return "", nil, err
	}
	var payload []byte
	switch m := msg.(type) {
	case gossip.Join:
		payload, err = proto.Marshal(&pb.Join{Node: uniqueAddressToProto(m.Node), Roles: m.Roles})
	case gossip.Welcome:
		payload, err = encodeWelcome(m)
	case gossip.LeaveRequest:
		payload, err = proto.Marshal(addressToProto(m.Address))
	case gossip.DownRequest:
		payload, err = proto.Marshal(addressToProto(m.Address))
	case gossip.Envelope:
		payload, err = encodeEnvelope(m)
	case gossip.Status:
		payload, err = proto.Marshal(statusToProto(m))
	default:
		return "", nil, errors.Wrapf(ErrUnknownMessage, "%T", msg)
	}
	if err != nil {
		return "", nil, errors.Wrapf(err, "failed to encode %s", manifest)
	}
	return manifest, payload, nil
}

// Decode is the inverse of Encode. An unknown manifest is an error: it
// signals a protocol mismatch between nodes.
func Decode(manifest string, payload []byte) (gossip.Message, error) {
	switch manifest {
	case JoinManifest:
		m := &pb.Join{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode join")
		}
		node, err := uniqueAddressFromProto(m.Node)
		if err != nil {
			return nil, err
		}
		return gossip.Join{Node: node, Roles: m.Roles}, nil
	case WelcomeManifest:
		return decodeWelcome(payload)
	case LeaveManifest, DownManifest:
		m := &pb.Address{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode address")
		}
		addr := addressFromProto(m)
		if manifest == LeaveManifest {
			return gossip.LeaveRequest{Address: addr}, nil
		}
		return gossip.DownRequest{Address: addr}, nil
	case GossipEnvelopeManifest:
		return decodeEnvelope(payload)
	case GossipStatusManifest:
		m := &pb.GossipStatus{}
		if err := proto.Unmarshal(payload, m); err != nil {
			return nil, errors.Wrap(err, "failed to decode gossip status")
		}
		return statusFromProto(m)
	}
	return nil, errors.Wrapf(ErrUnknownManifest, "%q", manifest)
}

func encodeWelcome(m gossip.Welcome) ([]byte, error) {
	g, err := GossipToProto(m.Gossip)
	if err != nil {
		return nil, err
	}
	payload, err := proto.Marshal(&pb.Welcome{From: uniqueAddressToProto(m.From), Gossip: g})
	if err != nil {
		return nil, err
	}
	return Compress(payload)
}

func decodeWelcome(payload []byte) (gossip.Message, error) {
	raw, err := Decompress(payload)
	if err != nil {
		return nil, err
	}
	m := &pb.Welcome{}
	if err := proto.Unmarshal(raw, m); err != nil {
		return nil, errors.Wrap(err, "failed to decode welcome")
	}
	from, err := uniqueAddressFromProto(m.From)
	if err != nil {
		return nil, err
	}
	g, err := GossipFromProto(m.Gossip)
	if err != nil {
		return nil, err
	}
	return gossip.Welcome{From: from, Gossip: g}, nil
}

func encodeEnvelope(m gossip.Envelope) ([]byte, error) {
	serialized, err := EncodeGossip(m.Gossip)
	if err != nil {
		return nil, err
	}
	serialized, err = Compress(serialized)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&pb.GossipEnvelope{
		From:             uniqueAddressToProto(m.From),
		To:               uniqueAddressToProto(m.To),
		SerializedGossip: serialized,
	})
}

func decodeEnvelope(payload []byte) (gossip.Message, error) {
	m := &pb.GossipEnvelope{}
	if err := proto.Unmarshal(payload, m); err != nil {
		return nil, errors.Wrap(err, "failed to decode gossip envelope")
	}
	from, err := uniqueAddressFromProto(m.From)
	if err != nil {
		return nil, err
	}
	to, err := uniqueAddressFromProto(m.To)
	if err != nil {
		return nil, err
	}
	raw, err := Decompress(m.SerializedGossip)
	if err != nil {
		return nil, err
	}
	g, err := DecodeGossip(raw)
	if err != nil {
		return nil, err
	}
	return gossip.Envelope{From: from, To: to, Gossip: g}, nil
}

// EncodeGossip serializes a gossip without compression.
func EncodeGossip(g gossip.Gossip) ([]byte, error) {
	out, err := GossipToProto(g)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(out)
}

func DecodeGossip(payload []byte) (gossip.Gossip, error) {
	m := &pb.Gossip{}
	if err := proto.Unmarshal(payload, m); err != nil {
		return gossip.Gossip{}, errors.Wrap(err, "failed to decode gossip")
	}
	return GossipFromProto(m)
}

func addressToProto(a identity.Address) *pb.Address {
	return &pb.Address{System: a.System, Hostname: a.Host, Port: a.Port, Protocol: a.Protocol}
}

func addressFromProto(a *pb.Address) identity.Address {
	if a == nil {
		return identity.Address{}
	}
	return identity.Address{Protocol: a.Protocol, System: a.System, Host: a.Hostname, Port: a.Port}
}

func uniqueAddressToProto(a identity.UniqueAddress) *pb.UniqueAddress {
	return &pb.UniqueAddress{Address: addressToProto(a.Address), Uid: uint32(a.UID)}
}

func uniqueAddressFromProto(a *pb.UniqueAddress) (identity.UniqueAddress, error) {
	if a == nil || a.Address == nil {
		return identity.UniqueAddress{}, errors.Wrap(ErrInvalidPayload, "missing unique address")
	}
	return identity.UniqueAddress{Address: addressFromProto(a.Address), UID: int32(a.Uid)}, nil
}
