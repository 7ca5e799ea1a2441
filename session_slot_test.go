package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionSlotSingleHolder(t *testing.T) {
	slot := NewSessionSlot()
	a := &Connection{connection_number: 1}
	b := &Connection{connection_number: 2}

	assert.True(t, slot.tryClaim(a))
	assert.True(t, slot.HasPlayer(a))
	assert.False(t, slot.HasPlayer(b))

	assert.False(t, slot.tryClaim(b))
	assert.Same(t, a, slot.Current())
}

func TestSessionSlotReentrantClaim(t *testing.T) {
	slot := NewSessionSlot()
	a := &Connection{connection_number: 1}

	assert.True(t, slot.tryClaim(a))
	assert.True(t, slot.tryClaim(a))
}

func TestSessionSlotReleaseOnlyByHolder(t *testing.T) {
	slot := NewSessionSlot()
	a := &Connection{connection_number: 1}
	b := &Connection{connection_number: 2}

	slot.tryClaim(a)
	slot.Release(b)
	assert.Same(t, a, slot.Current())

	slot.Release(a)
	assert.Nil(t, slot.Current())
}

func TestSessionSlotAcquireWithPreemptDenied(t *testing.T) {
	slot := NewSessionSlot()
	a := &Connection{connection_number: 1}
	b := &Connection{connection_number: 2}

	slot.tryClaim(a)
	assert.False(t, slot.AcquireWithPreempt(b, false))
	assert.Same(t, a, slot.Current())
}

func TestSessionSlotAcquireWithPreemptGranted(t *testing.T) {
	slot := NewSessionSlot()
	a := &Connection{connection_number: 1}
	b := &Connection{connection_number: 2}

	slot.tryClaim(a)

	go func() {
		time.Sleep(150 * time.Millisecond)
		slot.Release(a)
	}()

	assert.True(t, slot.AcquireWithPreempt(b, true))
	assert.Same(t, b, slot.Current())
	assert.True(t, a.isStopping())
}
