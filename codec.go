// RTSP message codec: request parsing and response serialisation

package main

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

var ErrChannelClosed = errors.New("channel closed")
var ErrReadError = errors.New("read error")
var ErrBadPacket = errors.New("bad packet")
var ErrImmediateShutdown = errors.New("immediate shutdown requested")
var ErrAlloc = errors.New("allocation failure")

const readChunkSize = 4096
const bodyChunkSize = 64 * 1024
const bodyStallTimeout = 15 * time.Second

// findLineEnd scans buf[from:] for the first \r\n, bare \r, or bare \n and
// returns the line (without terminator) and the offset just past the
// terminator. Any of the three counts as a terminator.
func findLineEnd(buf []byte, from int) (line string, next int, found bool) {
	for i := from; i < len(buf); i++ {
		switch buf[i] {
		case '\r':
			if i+1 < len(buf) && buf[i+1] == '\n' {
				return string(buf[from:i]), i + 2, true
			}
			return string(buf[from:i]), i + 1, true
		case '\n':
			return string(buf[from:i]), i + 1, true
		}
	}
	return "", from, false
}

// readRequest reads exactly one RTSP request off the connection, never
// reading past Content-Length.
func readRequest(conn *Connection) (*RtspMessage, error) {
	buf := make([]byte, 0, readChunkSize)
	parsed := 0 // offset up to which lines have already been consumed
	headerPhaseDone := false

	msg := createRtspMessage()

	readMore := func() error {
		if conn.isStopping() {
			return ErrImmediateShutdown
		}
		chunk := make([]byte, readChunkSize)
		n, err := conn.fd.Read(chunk)
		if n == 0 && err == io.EOF {
			return ErrChannelClosed
		}
		if err != nil && n == 0 {
			return ErrReadError
		}
		buf = append(buf, chunk[:n]...)
		return nil
	}

	firstLine := true

	for !headerPhaseDone {
		line, next, found := findLineEnd(buf, parsed)
		if !found {
			if err := readMore(); err != nil {
				return nil, err
			}
			continue
		}
		parsed = next

		if firstLine {
			firstLine = false
			parts := strings.Fields(line)
			if len(parts) != 3 {
				return nil, ErrBadPacket
			}
			if parts[2] != "RTSP/1.0" {
				return nil, ErrBadPacket
			}
			msg.method = parts[0]
			msg.uri = parts[1]
			msg.version = parts[2]
			continue
		}

		if line == "" {
			headerPhaseDone = true
			continue
		}

		sep := strings.Index(line, ": ")
		if sep < 0 {
			return nil, ErrBadPacket
		}
		msg.setHeader(line[:sep], line[sep+2:])
	}

	contentLength := 0
	if cl, ok := msg.getHeader("Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err == nil && n > 0 {
			contentLength = n
		}
	}

	if contentLength == 0 {
		msg.setContent(nil)
		return msg, nil
	}

	bodyStart := time.Now()
	stalled := false

	for len(buf)-parsed < contentLength {
		if conn.isStopping() {
			return nil, ErrImmediateShutdown
		}

		if !stalled && time.Since(bodyStart) > bodyStallTimeout {
			conn.publishStalled()
			stalled = true
		}

		toRead := contentLength - (len(buf) - parsed)
		if toRead > bodyChunkSize {
			toRead = bodyChunkSize
		}

		chunk := make([]byte, toRead)
		n, err := conn.fd.Read(chunk)
		if n == 0 && err == io.EOF {
			return nil, ErrChannelClosed
		}
		if err != nil && n == 0 {
			return nil, ErrReadError
		}
		buf = append(buf, chunk[:n]...)

		if conn.server.cfg.BodyReadPaceMs > 0 && len(buf)-parsed < contentLength {
			time.Sleep(time.Duration(conn.server.cfg.BodyReadPaceMs) * time.Millisecond)
		}
	}

	body := make([]byte, contentLength)
	copy(body, buf[parsed:parsed+contentLength])
	msg.setContent(body)

	return msg, nil
}

// writeResponse serialises and writes a single RTSP response in one
// contiguous write; a partial write is treated as an error.
func writeResponse(conn *Connection, resp *RtspMessage) error {
	statusText := resp.resptext
	if statusText == "" {
		if resp.respcode == 200 {
			statusText = "OK"
		} else {
			statusText = "Unauthorized"
		}
	}

	var b strings.Builder
	b.WriteString("RTSP/1.0 ")
	b.WriteString(strconv.Itoa(resp.respcode))
	b.WriteString(" ")
	b.WriteString(statusText)
	b.WriteString("\r\n")

	for _, h := range resp.headers {
		b.WriteString(h.name)
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteString("\r\n")
	}

	if len(resp.content) > 0 {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(resp.content)))
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")

	out := []byte(b.String())
	out = append(out, resp.content...)

	n, err := conn.fd.Write(out)
	if err != nil {
		return err
	}
	if n != len(out) {
		return errors.New("partial write")
	}
	return nil
}
