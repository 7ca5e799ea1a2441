package main

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetadataHubFansOutToSubscriber(t *testing.T) {
	hub := &MetadataHub{}
	hub.sinks = append(hub.sinks, newMetadataSink("hub", hub.deliverToHubSubscribers))
	defer hub.Close()

	sub := hub.Subscribe(4)

	hub.sendMetadata(metaType("core"), metaType("minm"), []byte("Track"), nil)

	select {
	case pkg := <-sub:
		assert.Equal(t, metaType("core"), pkg.mtype)
		assert.Equal(t, []byte("Track"), pkg.payload())
	case <-time.After(time.Second):
		t.Fatal("subscriber never received published metadata")
	}
}

func TestMetadataHubCarrierRetainRelease(t *testing.T) {
	var mu sync.Mutex
	var receivedPayload []byte
	gotOne := make(chan struct{})

	deliver := func(pkg MetadataPackage) {
		mu.Lock()
		receivedPayload = append([]byte(nil), pkg.payload()...)
		mu.Unlock()
		close(gotOne)
	}

	sink := newMetadataSink("test", deliver)
	hub := &MetadataHub{sinks: []*MetadataSink{sink}}
	defer hub.Close()

	carrier := createRtspMessage()
	carrier.setContent([]byte("pict-bytes"))

	hub.sendMetadata(metaType("ssnc"), metaType("PICT"), nil, carrier)
	carrier.release() // handler's own reference goes away once dispatched

	select {
	case <-gotOne:
	case <-time.After(time.Second):
		t.Fatal("sink never received item")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("pict-bytes"), receivedPayload)
}

func TestMetadataHubDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	deliver := func(pkg MetadataPackage) { <-block }

	sink := newMetadataSink("slow", deliver)
	hub := &MetadataHub{sinks: []*MetadataSink{sink}}
	defer func() {
		close(block)
		hub.Close()
	}()

	for i := 0; i < queueCapacity+10; i++ {
		hub.sendMetadata(metaType("ssnc"), metaType("prgr"), []byte("x"), nil)
	}

	assert.LessOrEqual(t, sink.queue.occupancy(), queueCapacity)
}
