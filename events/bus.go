// Package events is an in-process publish/subscribe bus. Subscriptions are
// stored in an immutable radix tree swapped with compare-and-swap, so Emit
// never blocks on Subscribe or cancellation.
package events

import (
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"
	iradix "github.com/hashicorp/go-immutable-radix"
)

// Event is published under a key. Subscribers of the key and of any
// prefix of it ending with a slash receive it.
type Event struct {
	Key   string
	Entry interface{}
}

type CancelFunc func()

type subscription struct {
	key     string
	handler func(Event)
}

type Bus struct {
	state *iradix.Tree
}

func NewBus() *Bus {
	return &Bus{state: iradix.New()}
}

func (b *Bus) load() *iradix.Tree {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(&b.state))
	return (*iradix.Tree)(atomic.LoadPointer(ptr))
}

func (b *Bus) cas(old, new *iradix.Tree) bool {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(&b.state))
	return atomic.CompareAndSwapPointer(ptr, unsafe.Pointer(old), unsafe.Pointer(new))
}

// Subscribe calls handler for every event emitted under key. Handlers run
// on the emitting goroutine and must not block.
func (b *Bus) Subscribe(key string, handler func(Event)) CancelFunc {
	id := []byte(key + "\x00" + uuid.New().String())
	sub := &subscription{key: key, handler: handler}
	for {
		old := b.load()
		next, _, _ := old.Insert(id, sub)
		if b.cas(old, next) {
			break
		}
	}
	return func() {
		for {
			old := b.load()
			next, _, _ := old.Delete(id)
			if b.cas(old, next) {
				return
			}
		}
	}
}

// Emit publishes ev to the subscribers of ev.Key, and to the subscribers of
// its parent keys: an event emitted under "cluster/member_up" reaches
// subscribers of "cluster/".
func (b *Bus) Emit(ev Event) {
	b.load().Root().Walk(func(k []byte, v interface{}) bool {
		sub := v.(*subscription)
		if sub.key == ev.Key || (strings.HasSuffix(sub.key, "/") && strings.HasPrefix(ev.Key, sub.key)) {
			sub.handler(ev)
		}
		return false
	})
}
