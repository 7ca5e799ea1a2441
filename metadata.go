// Metadata fan-out

package main

import (
	"sync"
)

// MetadataSink is one independent consumer of the fan-out: pipe, multicast,
// hub, or MQTT. Each sink owns a bounded queue and a dedicated worker.
type MetadataSink struct {
	name  string
	queue *BoundedQueue
	stop  chan struct{}
	wg    sync.WaitGroup

	deliver func(MetadataPackage)
}

func newMetadataSink(name string, deliver func(MetadataPackage)) *MetadataSink {
	s := &MetadataSink{
		name:    name,
		queue:   NewBoundedQueue(),
		stop:    make(chan struct{}),
		deliver: deliver,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *MetadataSink) run() {
	defer s.wg.Done()
	for {
		pkg, ok := s.queue.getItem(s.stop)
		if !ok {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					LogWarning("[METADATA:" + s.name + "] consumer panic recovered")
				}
			}()
			s.deliver(pkg)
		}()

		if pkg.carrier != nil {
			pkg.carrier.release()
		}
	}
}

func (s *MetadataSink) close() {
	close(s.stop)
	s.queue.close()
	s.wg.Wait()
}

// MetadataHub fans published packages out to every enabled sink.
type MetadataHub struct {
	sinks []*MetadataSink

	// hubSubscribers lets in-process Go consumers (e.g. the coordinator
	// connection) receive every published item without going through a
	// named sink.
	hubMu          sync.Mutex
	hubSubscribers []chan MetadataPackage
}

func NewMetadataHub(cfg *Config) *MetadataHub {
	h := &MetadataHub{}

	if cfg.MetadataPipePath != "" {
		h.sinks = append(h.sinks, newMetadataSink("pipe", newPipeSink(cfg.MetadataPipePath)))
	}
	if cfg.MetadataMulticastAddr != "" {
		if deliver, err := newMulticastSink(cfg.MetadataMulticastAddr); err == nil {
			h.sinks = append(h.sinks, newMetadataSink("multicast", deliver))
		} else {
			LogError(err)
		}
	}
	if cfg.MetadataMQTTBroker != "" {
		h.sinks = append(h.sinks, newMetadataSink("mqtt", newMQTTSink(cfg)))
	}

	h.sinks = append(h.sinks, newMetadataSink("hub", h.deliverToHubSubscribers))

	return h
}

func (h *MetadataHub) deliverToHubSubscribers(pkg MetadataPackage) {
	h.hubMu.Lock()
	subs := make([]chan MetadataPackage, len(h.hubSubscribers))
	copy(subs, h.hubSubscribers)
	h.hubMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- pkg:
		default:
			// Never block the fan-out worker for a slow in-process subscriber.
		}
	}
}

// Subscribe registers an in-process consumer (e.g. the coordinator
// connection). The returned channel is never closed by the hub; callers
// should stop reading from it when done.
func (h *MetadataHub) Subscribe(buffer int) chan MetadataPackage {
	ch := make(chan MetadataPackage, buffer)
	h.hubMu.Lock()
	h.hubSubscribers = append(h.hubSubscribers, ch)
	h.hubMu.Unlock()
	return ch
}

func (h *MetadataHub) Close() {
	for _, s := range h.sinks {
		s.close()
	}
}

// sendMetadata builds one package template and publishes it into every
// enabled sink. If carrier is non-nil it is retained per enqueue; otherwise
// if data is non-nil it is copied per enqueue. A failed enqueue releases
// the just-taken retain or frees the just-taken copy.
func (h *MetadataHub) sendMetadata(mtype [4]byte, code [4]byte, data []byte, carrier *RtspMessage) {
	for _, sink := range h.sinks {
		pkg := MetadataPackage{mtype: mtype, code: code}

		if carrier != nil {
			pkg.carrier = carrier.retain()
		} else if data != nil {
			cp := make([]byte, len(data))
			copy(cp, data)
			pkg.data = cp
		}

		if !sink.queue.addItem(pkg) {
			if pkg.carrier != nil {
				pkg.carrier.release()
			}
			LogDebug("[METADATA:" + sink.name + "] queue full, dropped type=" + string(mtype[:]) + " code=" + string(code[:]))
		}
	}
}

func metaType(s string) [4]byte {
	var b [4]byte
	copy(b[:], s)
	return b
}
