// Reference-counted RTSP message

package main

import (
	"strings"
	"sync"
)

const MAX_HEADERS = 16

// A single (name, value) header pair
type RtspHeader struct {
	name  string
	value string
}

// RtspMessage carries headers and an opaque content buffer across threads.
// It is referenced by both the request handler and by metadata consumers
// that must outlive the handler. Once published to any queue it
// is treated as immutable.
type RtspMessage struct {
	index_number int64

	headers []RtspHeader

	content        []byte
	content_length int

	method  string // request verb, requests only
	uri     string
	version string

	respcode int // response status, responses only
	resptext string

	refcount int
}

var msgRefMutex sync.Mutex
var nextMessageIndex int64

// createRtspMessage allocates a message with an initial reference count of 1.
func createRtspMessage() *RtspMessage {
	msgRefMutex.Lock()
	nextMessageIndex++
	idx := nextMessageIndex
	msgRefMutex.Unlock()

	return &RtspMessage{
		index_number: idx,
		headers:      make([]RtspHeader, 0, MAX_HEADERS),
		refcount:     1,
	}
}

// retain increments the reference count. Used whenever a message is handed
// to more than one holder at once (e.g. a metadata carrier plus the request
// handler that produced it).
func (m *RtspMessage) retain() *RtspMessage {
	if m == nil {
		return nil
	}
	msgRefMutex.Lock()
	m.refcount++
	msgRefMutex.Unlock()
	return m
}

// release decrements the reference count. When it reaches zero the message's
// storage is dropped. Every retain must be paired with exactly one release.
func (m *RtspMessage) release() {
	if m == nil {
		return
	}
	msgRefMutex.Lock()
	m.refcount--
	dead := m.refcount <= 0
	msgRefMutex.Unlock()

	if dead {
		m.headers = nil
		m.content = nil
	}
}

// setHeader appends or overwrites a header, case-insensitively on name.
// Silently drops the header if the 16-header budget is exhausted, mirroring
// the fixed-size header storage of the message's data model.
func (m *RtspMessage) setHeader(name string, value string) {
	for i := range m.headers {
		if strings.EqualFold(m.headers[i].name, name) {
			m.headers[i].value = value
			return
		}
	}
	if len(m.headers) >= MAX_HEADERS {
		return
	}
	m.headers = append(m.headers, RtspHeader{name: name, value: value})
}

// getHeader looks up a header case-insensitively, returning ("", false) if absent.
func (m *RtspMessage) getHeader(name string) (string, bool) {
	for _, h := range m.headers {
		if strings.EqualFold(h.name, name) {
			return h.value, true
		}
	}
	return "", false
}

func (m *RtspMessage) setContent(b []byte) {
	m.content = b
	m.content_length = len(b)
}
