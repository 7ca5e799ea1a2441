// Session admission lock: the process-wide "who owns the
// player" arbiter. Encapsulated with explicit acquire/release/preempt
// operations so the admission policy is testable in isolation.

package main

import (
	"sync"
	"time"
)

const preemptPollInterval = 100 * time.Millisecond
const preemptBudget = 3 * time.Second

// SessionSlot holds at most one active connection. Only the connection
// that observes itself equal to the slot's holder may drive the player.
type SessionSlot struct {
	mu     sync.Mutex
	holder *Connection
}

func NewSessionSlot() *SessionSlot {
	return &SessionSlot{}
}

// Current returns the connection currently holding the slot, or nil.
func (s *SessionSlot) Current() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder
}

// HasPlayer reports whether conn is the current holder.
func (s *SessionSlot) HasPlayer(conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder == conn
}

// tryClaim claims the slot for conn if it is empty, or is already conn
// (duplicate ANNOUNCE). Returns true if conn now holds the slot.
func (s *SessionSlot) tryClaim(conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holder == nil || s.holder == conn {
		s.holder = conn
		return true
	}
	return false
}

// Release drops the slot if conn currently holds it. A no-op otherwise.
func (s *SessionSlot) Release(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder == conn {
		s.holder = nil
	}
}

// AcquireWithPreempt implements the admission algorithm for ANNOUNCE:
//  1. Empty slot or we already hold it → claim and return true.
//  2. Holder is already stop-flagged → wait for it to clear, polling.
//  3. allowInterruption → stop+cancel the holder, then wait.
//  4. Otherwise → fail immediately (caller responds 453).
//
// The waiter polls every 100ms for up to 3s; failure leaves the slot
// unchanged.
func (s *SessionSlot) AcquireWithPreempt(conn *Connection, allowInterruption bool) bool {
	if s.tryClaim(conn) {
		return true
	}

	s.mu.Lock()
	holder := s.holder
	s.mu.Unlock()

	if holder == nil {
		return s.tryClaim(conn)
	}

	if !holder.isStopping() {
		if !allowInterruption {
			return false
		}
		holder.requestStop()
		holder.markInterrupting()
		if holder.fd != nil {
			holder.fd.Close()
		}
	}

	deadline := time.Now().Add(preemptBudget)
	for time.Now().Before(deadline) {
		if s.tryClaim(conn) {
			return true
		}
		time.Sleep(preemptPollInterval)
	}

	return s.tryClaim(conn)
}
