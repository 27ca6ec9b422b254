package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vx-labs/cluster-sharding/identity"
	"go.uber.org/zap"
)

var local = identity.Address{Protocol: identity.DefaultProtocol, System: "test", Host: "127.0.0.1", Port: 2551}
var remote = identity.Address{Protocol: identity.DefaultProtocol, System: "test", Host: "127.0.0.1", Port: 2552}

type recordingTransport struct {
	mtx  sync.Mutex
	sent []string
}

func (r *recordingTransport) SendRemote(to identity.Address, recipient string, msg interface{}, sender Ref) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.sent = append(r.sent, recipient)
	return nil
}

func receive(t *testing.T, m *Mailbox) Envelope {
	select {
	case env := <-m.Receive():
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Envelope{}
}

func TestSplitPath(t *testing.T) {
	addr, local, err := SplitPath("akka.tcp://test@127.0.0.1:2551/system/sharding/cartCoordinator")
	require.NoError(t, err)
	require.Equal(t, uint32(2551), addr.Port)
	require.Equal(t, "/system/sharding/cartCoordinator", local)
	_, _, err = SplitPath("/user/a")
	require.Error(t, err)
}

func TestSystem_SpawnResolve(t *testing.T) {
	s := NewSystem(local, zap.NewNop())
	m, err := s.Spawn("/user/a")
	require.NoError(t, err)
	_, err = s.Spawn("user/a")
	require.Error(t, err)

	ref, err := s.Resolve(m.Path())
	require.NoError(t, err)
	require.True(t, Equal(ref, m))
	ref.Tell("hello", nil)
	require.Equal(t, "hello", receive(t, m).Message)

	transport := &recordingTransport{}
	s.SetTransport(transport)
	remoteRef, err := s.Resolve(remote.String() + "/user/b")
	require.NoError(t, err)
	remoteRef.Tell("hi", m)
	require.Equal(t, []string{remote.String() + "/user/b"}, transport.sent)

	require.NoError(t, s.Deliver(m.Path(), "delivered", remote.String()+"/user/b"))
	env := receive(t, m)
	require.Equal(t, "delivered", env.Message)
	require.Equal(t, remote.String()+"/user/b", env.Sender.Path())
	require.Error(t, s.Deliver(s.PathFor("/user/missing"), "x", ""))
}

func TestSystem_Watch(t *testing.T) {
	s := NewSystem(local, zap.NewNop())
	watcher, _ := s.Spawn("/user/watcher")
	target, _ := s.Spawn("/user/target")
	s.Watch(watcher, target)
	target.Stop()
	env := receive(t, watcher)
	require.Equal(t, target.Path(), env.Message.(Terminated).Ref.Path())

	s.Watch(watcher, target)
	require.IsType(t, Terminated{}, receive(t, watcher).Message, "watching a stopped actor")

	remoteTarget, _ := s.Resolve(remote.String() + "/user/region")
	s.Watch(watcher, remoteTarget)
	s.AddressTerminated(remote)
	require.Equal(t, remoteTarget.Path(), receive(t, watcher).Message.(Terminated).Ref.Path())

	s.SetLiveness(func(identity.Address) bool { return false })
	s.Watch(watcher, remoteTarget)
	require.IsType(t, Terminated{}, receive(t, watcher).Message)

	other, _ := s.Spawn("/user/other")
	s.Watch(watcher, other)
	s.Unwatch(watcher, other)
	other.Stop()
	select {
	case env := <-watcher.Receive():
		t.Fatalf("unexpected message %v", env)
	case <-time.After(50 * time.Millisecond):
	}
}
