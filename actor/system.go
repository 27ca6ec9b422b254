package actor

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/identity"
	"go.uber.org/zap"
)

// System is the registry of the actors hosted by this node.
type System struct {
	address   identity.Address
	logger    *zap.Logger
	mtx       sync.RWMutex
	actors    map[string]*Mailbox
	watchers  map[string]map[string]Ref
	transport Transport
	alive     func(identity.Address) bool
}

func NewSystem(address identity.Address, logger *zap.Logger) *System {
	return &System{
		address:  address,
		logger:   logger,
		actors:   map[string]*Mailbox{},
		watchers: map[string]map[string]Ref{},
	}
}

func (s *System) Address() identity.Address {
	return s.address
}

// SetTransport configures how messages to remote paths are sent.
func (s *System) SetTransport(t Transport) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.transport = t
}

// SetLiveness configures the function deciding whether a remote address
// is still a cluster member. Watching an actor on a dead address
// immediately yields Terminated.
func (s *System) SetLiveness(f func(identity.Address) bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.alive = f
}

// PathFor builds the full path of a local actor.
func (s *System) PathFor(local string) string {
	if !strings.HasPrefix(local, "/") {
		local = "/" + local
	}
	return s.address.String() + local
}

// Spawn registers a new mailbox at the given local path.
func (s *System) Spawn(local string) (*Mailbox, error) {
	return s.SpawnWithSize(local, defaultMailboxSize)
}

func (s *System) SpawnWithSize(local string, size int) (*Mailbox, error) {
	path := s.PathFor(local)
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.actors[path]; ok {
		return nil, errors.Wrapf(ErrAlreadyExists, "%s", path)
	}
	m := &Mailbox{
		path:   path,
		ch:     make(chan Envelope, size),
		system: s,
		done:   make(chan struct{}),
	}
	s.actors[path] = m
	return m, nil
}

func (s *System) isLocal(addr identity.Address) bool {
	return addr == s.address
}

// Resolve returns the local mailbox registered at path, or a remote
// reference when path belongs to another node.
func (s *System) Resolve(path string) (Ref, error) {
	addr, _, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	if !s.isLocal(addr) {
		return &remoteRef{path: path, address: addr, system: s}, nil
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	m, ok := s.actors[path]
	if !ok {
		return &deadRef{path: path, system: s}, nil
	}
	return m, nil
}

// Deliver hands a message received from the network to a local actor.
func (s *System) Deliver(recipient string, msg interface{}, senderPath string) error {
	s.mtx.RLock()
	m, ok := s.actors[recipient]
	s.mtx.RUnlock()
	if !ok {
		s.deadLetter(recipient, msg)
		return errors.Wrapf(ErrNotFound, "%s", recipient)
	}
	var sender Ref
	if senderPath != "" {
		resolved, err := s.Resolve(senderPath)
		if err == nil {
			sender = resolved
		}
	}
	m.Tell(msg, sender)
	return nil
}

// Watch asks for a Terminated message to be sent to watcher when target
// stops.
func (s *System) Watch(watcher, target Ref) {
	addr, _, err := SplitPath(target.Path())
	if err != nil {
		watcher.Tell(Terminated{Ref: target}, nil)
		return
	}
	s.mtx.Lock()
	if s.isLocal(addr) {
		if _, ok := s.actors[target.Path()]; !ok {
			s.mtx.Unlock()
			watcher.Tell(Terminated{Ref: target}, nil)
			return
		}
	} else if s.alive != nil && !s.alive(addr) {
		s.mtx.Unlock()
		watcher.Tell(Terminated{Ref: target}, nil)
		return
	}
	set, ok := s.watchers[target.Path()]
	if !ok {
		set = map[string]Ref{}
		s.watchers[target.Path()] = set
	}
	set[watcher.Path()] = watcher
	s.mtx.Unlock()
}

func (s *System) Unwatch(watcher, target Ref) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if set, ok := s.watchers[target.Path()]; ok {
		delete(set, watcher.Path())
		if len(set) == 0 {
			delete(s.watchers, target.Path())
		}
	}
}

func (s *System) notify(target string, ref Ref) {
	s.mtx.Lock()
	set := s.watchers[target]
	delete(s.watchers, target)
	s.mtx.Unlock()
	for _, watcher := range set {
		watcher.Tell(Terminated{Ref: ref}, nil)
	}
}

// AddressTerminated notifies the watchers of every actor hosted on addr.
// The cluster calls it when a node is removed or downed.
func (s *System) AddressTerminated(addr identity.Address) {
	prefix := addr.String() + "/"
	s.mtx.RLock()
	targets := []string{}
	for path := range s.watchers {
		if strings.HasPrefix(path, prefix) {
			targets = append(targets, path)
		}
	}
	s.mtx.RUnlock()
	for _, path := range targets {
		s.notify(path, &remoteRef{path: path, address: addr, system: s})
	}
}

func (s *System) unregister(m *Mailbox) {
	s.mtx.Lock()
	if s.actors[m.path] == m {
		delete(s.actors, m.path)
	}
	s.mtx.Unlock()
	s.notify(m.path, m)
}

func (s *System) deadLetter(path string, msg interface{}) {
	if s.logger != nil {
		s.logger.Debug("dead letter", zap.String("recipient", path), zap.String("message_type", typeName(msg)))
	}
}

func (s *System) sendRemote(to *remoteRef, msg interface{}, sender Ref) {
	s.mtx.RLock()
	transport := s.transport
	s.mtx.RUnlock()
	if transport == nil {
		s.deadLetter(to.path, msg)
		return
	}
	if err := transport.SendRemote(to.address, to.path, msg, sender); err != nil && s.logger != nil {
		s.logger.Warn("failed to send remote message", zap.String("recipient", to.path),
			zap.String("message_type", typeName(msg)), zap.Error(err))
	}
}

type remoteRef struct {
	path    string
	address identity.Address
	system  *System
}

func (r *remoteRef) Path() string { return r.path }
func (r *remoteRef) Tell(msg interface{}, sender Ref) {
	r.system.sendRemote(r, msg, sender)
}

type deadRef struct {
	path   string
	system *System
}

func (r *deadRef) Path() string { return r.path }
func (r *deadRef) Tell(msg interface{}, sender Ref) {
	r.system.deadLetter(r.path, msg)
}
