// Package actor is the small message-passing runtime the cluster and
// sharding components are built on: addressable references, mailboxes,
// death-watch and remote delivery through a pluggable transport.
package actor

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/vx-labs/cluster-sharding/identity"
)

var (
	ErrNotFound      = errors.New("actor not found")
	ErrAlreadyExists = errors.New("actor already exists")
	ErrInvalidPath   = errors.New("invalid actor path")
	ErrNoTransport   = errors.New("no remote transport configured")
)

// Ref is an addressable actor.
type Ref interface {
	Path() string
	Tell(msg interface{}, sender Ref)
}

// Resolver turns a serialized actor path into a reference.
type Resolver interface {
	Resolve(path string) (Ref, error)
}

// Terminated is delivered to watchers when a watched actor stops or its
// node leaves the cluster.
type Terminated struct {
	Ref Ref
}

// Envelope is a message waiting in a mailbox.
type Envelope struct {
	Message interface{}
	Sender  Ref
}

// Serializer turns messages into bytes for remote delivery.
type Serializer interface {
	Identifier() int32
	Manifest(msg interface{}) (string, bool)
	ToBinary(msg interface{}) ([]byte, error)
	FromBinary(manifest string, payload []byte) (interface{}, error)
}

// Transport delivers a message to an actor hosted on another node.
type Transport interface {
	SendRemote(to identity.Address, recipient string, msg interface{}, sender Ref) error
}

// SplitPath separates the address part of an actor path from its local
// element, which always starts with a slash.
func SplitPath(path string) (identity.Address, string, error) {
	idx := strings.Index(path, "://")
	if idx < 0 {
		return identity.Address{}, "", errors.Wrapf(ErrInvalidPath, "%q", path)
	}
	local := "/"
	if slash := strings.Index(path[idx+3:], "/"); slash >= 0 {
		local = path[idx+3+slash:]
	}
	addr, err := identity.ParseAddress(path)
	if err != nil {
		return identity.Address{}, "", err
	}
	return addr, local, nil
}

// Equal compares two references by path. Nil references are equal.
func Equal(a, b Ref) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Path() == b.Path()
}

// PathOf returns the path of ref, or an empty string for a nil reference.
func PathOf(ref Ref) string {
	if ref == nil {
		return ""
	}
	return ref.Path()
}
