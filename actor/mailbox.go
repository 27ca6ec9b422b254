package actor

import (
	"sync"
)

const defaultMailboxSize = 1024

// Mailbox is a local actor reference backed by a buffered channel. The
// owner goroutine consumes Receive() and calls Stop when done.
type Mailbox struct {
	path    string
	ch      chan Envelope
	system  *System
	mtx     sync.RWMutex
	stopped bool
	done    chan struct{}
}

func (m *Mailbox) Path() string {
	return m.path
}

// Tell enqueues a message. Messages sent to a stopped mailbox are dropped.
func (m *Mailbox) Tell(msg interface{}, sender Ref) {
	m.mtx.RLock()
	stopped := m.stopped
	m.mtx.RUnlock()
	if stopped {
		m.system.deadLetter(m.path, msg)
		return
	}
	select {
	case m.ch <- Envelope{Message: msg, Sender: sender}:
	case <-m.done:
		m.system.deadLetter(m.path, msg)
	}
}

func (m *Mailbox) Receive() <-chan Envelope {
	return m.ch
}

// Done is closed once the mailbox is stopped.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

// Stop unregisters the mailbox and notifies its watchers.
func (m *Mailbox) Stop() {
	m.mtx.Lock()
	if m.stopped {
		m.mtx.Unlock()
		return
	}
	m.stopped = true
	close(m.done)
	m.mtx.Unlock()
	m.system.unregister(m)
}
