package codec

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vx-labs/cluster-sharding/cluster/gossip"
	"github.com/vx-labs/cluster-sharding/identity"
)

func addr(port uint32) identity.UniqueAddress {
	return identity.UniqueAddress{
		Address: identity.Address{Protocol: identity.DefaultProtocol, System: "test", Host: "127.0.0.1", Port: port},
		UID:     int32(port) * -1,
	}
}

func sampleGossip() gossip.Gossip {
	a, b, c := addr(2551), addr(2552), addr(2553)
	ma := gossip.NewMember(a, []string{"frontend", "backend"})
	ma, _ = ma.Upped(1)
	mb := gossip.NewMember(b, []string{"backend"})
	mc := gossip.NewMember(c, nil)
	mc, _ = mc.Upped(2)
	mc, _ = mc.WithStatus(gossip.Down)
	g := gossip.New(ma, mb, mc).Increment(a).Increment(b)
	g = g.WithReachability(g.Overview.Reachability.Unreachable(a, c).Terminated(b, c).Unreachable(b, a).Reachable(b, a))
	g = g.RemoveMember(addr(2554), 99)
	return g.OnlySeen(a).MarkSeen(b)
}

func TestGossipRoundTrip(t *testing.T) {
	g := sampleGossip()
	payload, err := EncodeGossip(g)
	require.NoError(t, err)
	decoded, err := DecodeGossip(payload)
	require.NoError(t, err)
	require.True(t, g.Equal(decoded), "%s\n%s", g, decoded)
	require.Equal(t, g.Overview.Reachability.Versions(), decoded.Overview.Reachability.Versions())
	require.Equal(t, g.Tombstones, decoded.Tombstones)
}

func TestMessages(t *testing.T) {
	a, b := addr(2551), addr(2552)
	for _, tc := range []struct {
		manifest string
		msg      gossip.Message
	}{
		{JoinManifest, gossip.Join{Node: a, Roles: []string{"backend"}}},
		{LeaveManifest, gossip.LeaveRequest{Address: a.Address}},
		{DownManifest, gossip.DownRequest{Address: b.Address}},
		{GossipStatusManifest, gossip.Status{From: a, Version: sampleGossip().Version}},
	} {
		t.Run(tc.manifest, func(t *testing.T) {
			manifest, payload, err := Encode(tc.msg)
			require.NoError(t, err)
			require.Equal(t, tc.manifest, manifest)
			decoded, err := Decode(manifest, payload)
			require.NoError(t, err)
			if status, ok := tc.msg.(gossip.Status); ok {
				require.True(t, status.Version.Equal(decoded.(gossip.Status).Version))
				require.Equal(t, status.From, decoded.(gossip.Status).From)
				return
			}
			require.Equal(t, tc.msg, decoded)
		})
	}
}

func TestGossipCarryingMessages(t *testing.T) {
	a, b := addr(2551), addr(2552)
	g := sampleGossip()

	manifest, payload, err := Encode(gossip.Envelope{From: a, To: b, Gossip: g})
	require.NoError(t, err)
	require.Equal(t, GossipEnvelopeManifest, manifest)
	decoded, err := Decode(manifest, payload)
	require.NoError(t, err)
	env := decoded.(gossip.Envelope)
	require.Equal(t, a, env.From)
	require.Equal(t, b, env.To)
	require.True(t, g.Equal(env.Gossip))

	manifest, payload, err = Encode(gossip.Welcome{From: a, Gossip: g})
	require.NoError(t, err)
	require.Equal(t, WelcomeManifest, manifest)
	_, err = Decompress(payload)
	require.NoError(t, err, "welcome payloads are compressed")
	decoded, err = Decode(manifest, payload)
	require.NoError(t, err)
	require.True(t, g.Equal(decoded.(gossip.Welcome).Gossip))
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("ZZ", []byte{})
	require.Error(t, err)
	require.Equal(t, ErrUnknownManifest, errors.Cause(err))

	_, err = Decode(WelcomeManifest, []byte("not gzip"))
	require.Error(t, err)

	g, err := GossipToProto(sampleGossip())
	require.NoError(t, err)
	g.Members[0].AddressIndex = 42
	_, err = GossipFromProto(g)
	require.Equal(t, ErrInvalidPayload, errors.Cause(err))
}
