// RTSP method handlers: OPTIONS, ANNOUNCE, SETUP, RECORD, FLUSH, PAUSE,
// TEARDOWN, GET_PARAMETER, SET_PARAMETER

package main

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// recordAudioLatency is the constant RECORD advertises; not configurable.
const recordAudioLatency = 11025

func newResponse(code int) *RtspMessage {
	resp := createRtspMessage()
	resp.respcode = code
	return resp
}

func (c *Connection) withCSeq(req *RtspMessage, resp *RtspMessage) *RtspMessage {
	if cseq, ok := req.getHeader("CSeq"); ok {
		resp.setHeader("CSeq", cseq)
	}
	return resp
}

// dispatch routes a parsed request to its handler, enforcing Digest
// authentication (when configured) ahead of every method, OPTIONS included:
// a request without an Authorization header gets a fresh nonce and a 401
// challenge.
func (c *Connection) dispatch(req *RtspMessage) *RtspMessage {
	LogRequest(c.connection_number, c.ip, req.method+" "+req.uri)

	cfg := c.server.cfg

	if cfg.Password != "" && !c.isAuthorized() {
		header, has := req.getHeader("Authorization")
		if !has {
			c.authMu.Lock()
			c.authNonce = newNonce()
			c.authMu.Unlock()

			resp := newResponse(401)
			resp.setHeader("WWW-Authenticate", wwwAuthenticateHeader(c.authNonce))
			return c.withCSeq(req, resp)
		}
		if !checkDigestAuth(cfg, c, req.method, header) {
			resp := newResponse(401)
			resp.setHeader("WWW-Authenticate", wwwAuthenticateHeader(c.authNonce))
			return c.withCSeq(req, resp)
		}
	}

	var resp *RtspMessage
	switch req.method {
	case "OPTIONS":
		resp = c.handleOptions(req)
	case "ANNOUNCE":
		resp = c.handleAnnounce(req)
	case "SETUP":
		resp = c.handleSetup(req)
	case "RECORD":
		resp = c.handleRecord(req)
	case "FLUSH":
		resp = c.handleFlush(req)
	case "PAUSE":
		resp = c.handlePause(req)
	case "TEARDOWN":
		resp = c.handleTeardown(req)
	case "GET_PARAMETER":
		resp = c.handleGetParameter(req)
	case "SET_PARAMETER":
		resp = c.handleSetParameter(req)
	default:
		resp = newResponse(501)
	}

	return c.withCSeq(req, resp)
}

func (c *Connection) handleOptions(req *RtspMessage) *RtspMessage {
	resp := newResponse(200)
	resp.setHeader("Public", "ANNOUNCE, SETUP, RECORD, PAUSE, FLUSH, TEARDOWN, OPTIONS, GET_PARAMETER, SET_PARAMETER")

	if challenge, ok := req.getHeader("Apple-Challenge"); ok {
		response, err := appleResponse(c.server.rsa, challenge, c.fd, c.server.hwAddr)
		if err != nil {
			LogDebugConn(c.connection_number, c.ip, "Apple-Challenge response unavailable: "+err.Error())
		} else {
			resp.setHeader("Apple-Response", response)
		}
	}

	return resp
}

func (c *Connection) handleAnnounce(req *RtspMessage) *RtspMessage {
	if !c.server.sessionSlot.AcquireWithPreempt(c, c.server.cfg.AllowSessionInterruption) {
		return newResponse(453) // Not Enough Bandwidth, reused as "session in use"
	}

	sdp, err := parseSDP(req.content, c.server.rsa)
	if err != nil {
		c.server.sessionSlot.Release(c)
		if err == ErrUnsupportedCodec {
			return newResponse(456)
		}
		return newResponse(400)
	}

	c.mu.Lock()
	c.stream = sdp.stream
	c.inputRate = sdp.inputRate
	c.inputNumChannels = sdp.inputNumChannels
	c.inputBitDepth = sdp.inputBitDepth
	c.inputBytesPerFrame = (sdp.inputBitDepth / 8) * sdp.inputNumChannels
	c.maxFramesPerPacket = sdp.maxFramesPerPacket
	c.minimumLatency = sdp.minLatency
	c.maximumLatency = sdp.maxLatency
	c.mu.Unlock()

	if clientName, ok := req.getHeader("X-Apple-Client-Name"); ok {
		c.server.metadata.sendMetadata(metaType("ssnc"), metaType("snam"), []byte(clientName), nil)
	}
	if ua, ok := req.getHeader("User-Agent"); ok {
		c.mu.Lock()
		c.userAgent = ua
		if v, ok := parseAirplayVersion(ua); ok {
			c.airplayVersion = v
		}
		c.mu.Unlock()
		c.server.metadata.sendMetadata(metaType("ssnc"), metaType("snua"), []byte(ua), nil)
	}

	return newResponse(200)
}

// parseAirplayVersion extracts n from a User-Agent of the form "AirPlay/<n>".
func parseAirplayVersion(ua string) (float64, bool) {
	const prefix = "AirPlay/"
	idx := strings.Index(ua, prefix)
	if idx < 0 {
		return 0, false
	}
	rest := ua[idx+len(prefix):]
	end := strings.IndexFunc(rest, func(r rune) bool { return r != '.' && (r < '0' || r > '9') })
	if end >= 0 {
		rest = rest[:end]
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *Connection) handleSetup(req *RtspMessage) *RtspMessage {
	if !c.server.sessionSlot.HasPlayer(c) {
		return newResponse(451)
	}

	transport, _ := req.getHeader("Transport")
	remoteControl := extractTransportField(transport, "control_port")
	remoteTiming := extractTransportField(transport, "timing_port")

	if c.rtpRunning {
		if remoteControl != c.remoteControlPort || remoteTiming != c.remoteTimingPort {
			LogWarning("SETUP: repeat request with different ports, keeping original transport")
		} else {
			LogDebugConn(c.connection_number, c.ip, "SETUP: repeat request, benign")
		}
	} else {
		ports, err := c.server.rtp.Setup(c, remoteControl, remoteTiming)
		if err != nil {
			c.server.sessionSlot.Release(c)
			return newResponse(451)
		}

		c.mu.Lock()
		c.remoteControlPort = remoteControl
		c.remoteTimingPort = remoteTiming
		c.localAudioPort = ports.Audio
		c.localControlPort = ports.Control
		c.localTimingPort = ports.Timing
		c.mu.Unlock()

		if err := c.server.rtp.Initialise(c); err != nil {
			c.server.sessionSlot.Release(c)
			return newResponse(451)
		}
		c.rtpRunning = true
	}

	if dacpID, ok := req.getHeader("DACP-ID"); ok {
		c.mu.Lock()
		c.dacpID = dacpID
		c.mu.Unlock()
		c.server.metadata.sendMetadata(metaType("ssnc"), metaType("daid"), []byte(dacpID), nil)
	}
	if remote, ok := req.getHeader("Active-Remote"); ok {
		c.mu.Lock()
		c.dacpActiveRemote = remote
		c.mu.Unlock()
		c.server.metadata.sendMetadata(metaType("ssnc"), metaType("acre"), []byte(remote), nil)
	}

	resp := newResponse(200)
	resp.setHeader("Session", "1")
	resp.setHeader("Transport", transportReply(RTPPorts{Audio: c.localAudioPort, Control: c.localControlPort, Timing: c.localTimingPort}))
	return resp
}

func (c *Connection) handleRecord(req *RtspMessage) *RtspMessage {
	if !c.server.sessionSlot.HasPlayer(c) {
		return newResponse(451)
	}

	if err := c.server.player.Play(c); err != nil {
		return newResponse(500)
	}

	c.server.fireCallback("record", c)

	if rtpInfo, ok := req.getHeader("RTP-Info"); ok {
		c.server.player.Flush(parseRtptime(rtpInfo), c)
	}

	resp := newResponse(200)
	resp.setHeader("Audio-Latency", strconv.Itoa(recordAudioLatency))
	return resp
}

func (c *Connection) handleFlush(req *RtspMessage) *RtspMessage {
	if !c.server.sessionSlot.HasPlayer(c) {
		return newResponse(451)
	}
	rtptime := uint32(0)
	if rtpInfo, ok := req.getHeader("RTP-Info"); ok {
		rtptime = parseRtptime(rtpInfo)
	}
	if err := c.server.player.Flush(rtptime, c); err != nil {
		return newResponse(500)
	}
	return newResponse(200)
}

func (c *Connection) handlePause(req *RtspMessage) *RtspMessage {
	if !c.server.sessionSlot.HasPlayer(c) {
		return newResponse(451)
	}
	// Player-side pause is advisory; not separately treated in the core.
	return newResponse(200)
}

func (c *Connection) handleTeardown(req *RtspMessage) *RtspMessage {
	if c.server.sessionSlot.HasPlayer(c) {
		c.server.player.Stop(c)
		if c.rtpRunning {
			c.server.rtp.Terminate(c)
			c.rtpRunning = false
		}
		c.server.sessionSlot.Release(c)
		c.server.fireCallback("teardown", c)
	}
	resp := newResponse(200)
	resp.setHeader("Connection", "close")
	c.requestStop()
	return resp
}

func (c *Connection) handleGetParameter(req *RtspMessage) *RtspMessage {
	resp := newResponse(200)

	body := strings.TrimRight(string(req.content), "\r\n")
	if body == "volume" {
		c.mu.Lock()
		v := c.volume
		c.mu.Unlock()
		resp.setHeader("Content-Type", "text/parameters")
		resp.setContent([]byte("\r\nvolume: " + strconv.FormatFloat(v, 'f', -1, 64) + "\r\n"))
	}
	return resp
}

func (c *Connection) handleSetParameter(req *RtspMessage) *RtspMessage {
	contentType, _ := req.getHeader("Content-Type")

	switch {
	case contentType == "text/parameters":
		c.handleSetParamText(req)
	case contentType == "application/x-dmap-tagged":
		c.handleSetParamDmap(req)
	case strings.HasPrefix(contentType, "image/"):
		if c.server.cfg.GetCoverArt {
			c.server.metadata.sendMetadata(metaType("ssnc"), metaType("pcst"), nil, nil)
			c.server.metadata.sendMetadata(metaType("ssnc"), metaType("PICT"), nil, req)
			c.server.metadata.sendMetadata(metaType("ssnc"), metaType("pcen"), nil, nil)
		}
	default:
		LogDebugConn(c.connection_number, c.ip, "SET_PARAMETER: unhandled content-type "+contentType)
	}

	return newResponse(200)
}

func (c *Connection) handleSetParamText(req *RtspMessage) {
	lines := strings.Split(string(req.content), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sep := strings.Index(line, ":")
		if sep < 0 {
			continue
		}
		key := strings.TrimSpace(line[:sep])
		val := strings.TrimSpace(line[sep+1:])

		switch strings.ToLower(key) {
		case "volume":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				c.server.player.Volume(c, v)
				c.mu.Lock()
				c.volume = v
				c.mu.Unlock()
			}
		case "progress":
			c.server.metadata.sendMetadata(metaType("ssnc"), metaType("prgr"), []byte(val), nil)
		}
	}
}

// handleSetParamDmap forwards every decoded DMAP tuple as type core with
// code set to the tag, bracketed by mdst/mden carrying the RTP-Info
// rtptime when present.
func (c *Connection) handleSetParamDmap(req *RtspMessage) {
	tags, err := decodeDmap(req.content)
	if err != nil {
		LogDebugConn(c.connection_number, c.ip, "dmap decode: "+err.Error())
		return
	}

	var rtBuf []byte
	if rtpInfo, ok := req.getHeader("RTP-Info"); ok {
		rtBuf = make([]byte, 4)
		binary.BigEndian.PutUint32(rtBuf, parseRtptime(rtpInfo))
	}

	c.server.metadata.sendMetadata(metaType("ssnc"), metaType("mdst"), rtBuf, nil)
	for _, tag := range tags {
		c.server.metadata.sendMetadata(metaType("core"), metaType(tag.Name), tag.Value, nil)
	}
	c.server.metadata.sendMetadata(metaType("ssnc"), metaType("mden"), rtBuf, nil)
}

func extractTransportField(transport, field string) int {
	for _, part := range strings.Split(transport, ";") {
		if strings.HasPrefix(part, field+"=") {
			n, err := strconv.Atoi(strings.TrimPrefix(part, field+"="))
			if err == nil {
				return n
			}
		}
	}
	return 0
}

func transportReply(ports RTPPorts) string {
	return "RTP/AVP/UDP;unicast;interleaved=0-1;mode=record;server_port=" + strconv.Itoa(ports.Audio) +
		";control_port=" + strconv.Itoa(ports.Control) + ";timing_port=" + strconv.Itoa(ports.Timing)
}

func parseRtptime(rtpInfo string) uint32 {
	for _, part := range strings.Split(rtpInfo, ";") {
		if strings.HasPrefix(part, "rtptime=") {
			n, err := strconv.ParseUint(strings.TrimPrefix(part, "rtptime="), 10, 32)
			if err == nil {
				return uint32(n)
			}
		}
	}
	return 0
}
