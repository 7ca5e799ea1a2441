// DMAP tagged binary decoder for SET_PARAMETER's application/x-dmap-tagged bodies

package main

import (
	"encoding/binary"
	"errors"
)

var ErrDmapTruncated = errors.New("dmap: truncated tuple")

// DmapTag is one decoded (name, value) tuple. value is the raw payload;
// the caller interprets it according to the tag's known type (most of the
// tags the core cares about — minm, asal, asar — are UTF-8 strings).
type DmapTag struct {
	Name  string
	Value []byte
}

// decodeDmap walks a DMAP tagged buffer: each tuple is a 4-byte ASCII tag,
// a 4-byte big-endian length, and that many bytes of payload. Nested
// container tags (e.g. mlit) are not expanded — callers that care about
// track metadata only look at the top-level minm/asar/asal tags AirPlay
// senders actually send in SET_PARAMETER.
func decodeDmap(buf []byte) ([]DmapTag, error) {
	var tags []DmapTag
	off := 0
	for off < len(buf) {
		if off+8 > len(buf) {
			return tags, ErrDmapTruncated
		}
		name := string(buf[off : off+4])
		length := binary.BigEndian.Uint32(buf[off+4 : off+8])
		off += 8

		if off+int(length) > len(buf) {
			return tags, ErrDmapTruncated
		}

		value := make([]byte, length)
		copy(value, buf[off:off+int(length)])
		off += int(length)

		tags = append(tags, DmapTag{Name: name, Value: value})
	}
	return tags, nil
}

// dmapString returns the first tag matching name as a string, if present.
func dmapString(tags []DmapTag, name string) (string, bool) {
	for _, t := range tags {
		if t.Name == name {
			return string(t.Value), true
		}
	}
	return "", false
}
