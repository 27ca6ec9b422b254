package mesh

import (
	"bytes"
	"compress/zlib"
	"io"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/pkg/errors"
	clustercodec "github.com/vx-labs/cluster-sharding/cluster/codec"
	"github.com/vx-labs/cluster-sharding/cluster/gossip"
	"github.com/vx-labs/cluster-sharding/identity"
	"go.uber.org/zap"
)

var ErrUnknownPeer = errors.New("unknown peer")

// wire is how a node reaches its peers.
type wire interface {
	Send(to identity.Address, payload []byte) error
	Broadcast(payload []byte)
	Join(hosts []string) error
	Leave(timeout time.Duration) error
}

// peerHandler receives what the wire learns from the network.
type peerHandler interface {
	onPacket(payload []byte)
	onPeerUp(node identity.UniqueAddress, roles []string)
	onPeerDown(node identity.UniqueAddress)
	localState() []byte
	onRemoteState(payload []byte)
}

// layer is the memberlist implementation of wire. Memberlist node names are
// unique addresses, and node meta carries the node roles.
type layer struct {
	name       string
	mlist      *memberlist.Memberlist
	logger     *zap.Logger
	handler    peerHandler
	meta       []byte
	bcastQueue *memberlist.TransmitLimitedQueue
	mtx        sync.RWMutex
	nodes      map[identity.Address]*memberlist.Node
}

type broadcast struct {
	msg []byte
}

// A newer status always supersedes an older one.
func (b broadcast) Invalidates(other memberlist.Broadcast) bool { return true }
func (b broadcast) Message() []byte                             { return b.msg }
func (b broadcast) Finished()                                   {}

func newLayer(config Config, self identity.UniqueAddress, handler peerHandler, logger *zap.Logger) (*layer, error) {
	_, meta, err := encodeJoin(self, config.Roles)
	if err != nil {
		return nil, err
	}
	l := &layer{
		name:    self.String(),
		logger:  logger,
		handler: handler,
		meta:    meta,
		nodes:   map[identity.Address]*memberlist.Node{},
	}
	l.bcastQueue = &memberlist.TransmitLimitedQueue{
		NumNodes:       l.numMembers,
		RetransmitMult: 3,
	}
	mconfig := memberlist.DefaultLANConfig()
	mconfig.BindAddr = config.BindAddr
	mconfig.BindPort = config.BindPort
	mconfig.AdvertiseAddr = config.AdvertiseAddr
	mconfig.AdvertisePort = config.AdvertisePort
	mconfig.Name = l.name
	mconfig.Delegate = l
	mconfig.Events = l
	if os.Getenv("ENABLE_MEMBERLIST_LOG") != "true" {
		mconfig.LogOutput = ioutil.Discard
	}
	list, err := memberlist.Create(mconfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memberlist")
	}
	l.mlist = list
	return l, nil
}

func (l *layer) numMembers() int {
	if l.mlist == nil {
		return 1
	}
	return l.mlist.NumMembers()
}

func (l *layer) Send(to identity.Address, payload []byte) error {
	l.mtx.RLock()
	node, ok := l.nodes[to]
	l.mtx.RUnlock()
	if !ok {
		return errors.Wrapf(ErrUnknownPeer, "%s", to.String())
	}
	return l.mlist.SendReliable(node, payload)
}

func (l *layer) Broadcast(payload []byte) {
	l.bcastQueue.QueueBroadcast(broadcast{msg: payload})
}

func (l *layer) Join(newHosts []string) error {
	if len(newHosts) == 0 {
		return nil
	}
	hosts := []string{}
	curHosts := l.mlist.Members()
	for _, host := range newHosts {
		found := false
		for _, cur := range curHosts {
			if cur.Address() == host {
				found = true
				break
			}
		}
		if !found {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return nil
	}
	if l.mlist.NumMembers() == 1 {
		l.logger.Debug("joining cluster", zap.Strings("nodes", hosts), zap.Strings("provided_nodes", newHosts))
	}
	count, err := l.mlist.Join(hosts)
	if err != nil {
		if count == 0 && l.mlist.NumMembers() == 1 {
			l.logger.Warn("failed to join cluster", zap.Error(err))
			return err
		}
		l.logger.Warn("failed to join some member of cluster", zap.Error(err))
	}
	return nil
}

func (l *layer) Leave(timeout time.Duration) error {
	if err := l.mlist.Leave(timeout); err != nil {
		l.logger.Warn("failed to leave memberlist", zap.Error(err))
	}
	return l.mlist.Shutdown()
}

func (l *layer) NodeMeta(limit int) []byte {
	b := bytes.NewBuffer(nil)
	w := zlib.NewWriter(b)
	if _, err := w.Write(l.meta); err != nil {
		l.logger.Error("failed to compress node meta", zap.Error(err))
		return nil
	}
	if err := w.Close(); err != nil {
		l.logger.Error("failed to compress node meta", zap.Error(err))
		return nil
	}
	if b.Len() > limit {
		l.logger.Error("node meta is too large", zap.Int("size", b.Len()), zap.Int("limit", limit))
		return nil
	}
	return b.Bytes()
}

func encodeJoin(self identity.UniqueAddress, roles []string) (string, []byte, error) {
	return clustercodec.Encode(gossip.Join{Node: self, Roles: roles})
}

func decodeMeta(b []byte) (gossip.Join, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return gossip.Join{}, errors.Wrap(err, "failed to decompress node meta")
	}
	out := bytes.NewBuffer(nil)
	if _, err := io.Copy(out, r); err != nil {
		return gossip.Join{}, errors.Wrap(err, "failed to decompress node meta")
	}
	msg, err := clustercodec.Decode(clustercodec.JoinManifest, out.Bytes())
	if err != nil {
		return gossip.Join{}, err
	}
	return msg.(gossip.Join), nil
}

func (l *layer) NotifyMsg(b []byte) {
	if len(b) == 0 {
		return
	}
	// memberlist reuses the buffer.
	payload := make([]byte, len(b))
	copy(payload, b)
	l.handler.onPacket(payload)
}

func (l *layer) GetBroadcasts(overhead, limit int) [][]byte {
	return l.bcastQueue.GetBroadcasts(overhead, limit)
}

func (l *layer) LocalState(join bool) []byte {
	return l.handler.localState()
}

func (l *layer) MergeRemoteState(buf []byte, join bool) {
	if len(buf) == 0 {
		return
	}
	payload := make([]byte, len(buf))
	copy(payload, buf)
	l.handler.onRemoteState(payload)
}

func (l *layer) NotifyJoin(n *memberlist.Node) {
	if n.Name == l.name {
		return
	}
	join, err := decodeMeta(n.Meta)
	if err != nil {
		l.logger.Warn("ignoring peer with invalid meta", zap.String("peer", n.Name), zap.Error(err))
		return
	}
	l.mtx.Lock()
	l.nodes[join.Node.Address] = n
	l.mtx.Unlock()
	l.handler.onPeerUp(join.Node, join.Roles)
}

func (l *layer) NotifyLeave(n *memberlist.Node) {
	if n.Name == l.name {
		return
	}
	node, err := identity.ParseUniqueAddress(n.Name)
	if err != nil {
		l.logger.Warn("ignoring peer with invalid name", zap.String("peer", n.Name), zap.Error(err))
		return
	}
	l.mtx.Lock()
	if cur, ok := l.nodes[node.Address]; ok && cur.Name == n.Name {
		delete(l.nodes, node.Address)
	}
	l.mtx.Unlock()
	l.handler.onPeerDown(node)
}

func (l *layer) NotifyUpdate(n *memberlist.Node) {}
