package main

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *AirplayServer {
	return &AirplayServer{
		cfg:         &Config{AllowSessionInterruption: true},
		sessionSlot: NewSessionSlot(),
		metadata:    &MetadataHub{},
		player:      noopPlayer{},
		rtp:         &noopRTPTransport{},
		mdns:        noopMDNS{},
		rsa:         nullRSAProvider{},
		hwAddr:      []byte{1, 2, 3, 4, 5, 6},
	}
}

func newTestConnection(server *AirplayServer, id uint64) *Connection {
	return &Connection{server: server, connection_number: id, maxFramesPerPacket: 352}
}

func TestHandleOptionsAdvertisesMethods(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	req.method = "OPTIONS"

	resp := conn.handleOptions(req)
	assert.Equal(t, 200, resp.respcode)
	public, ok := resp.getHeader("Public")
	assert.True(t, ok)
	assert.Contains(t, public, "ANNOUNCE")
}

func TestHandleAnnounceClaimsSlot(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	req.content = []byte("m=audio 0 RTP/AVP 96\r\na=rtpmap:96 L16/44100/2\r\n")

	resp := conn.handleAnnounce(req)
	assert.Equal(t, 200, resp.respcode)
	assert.True(t, server.sessionSlot.HasPlayer(conn))
	assert.Equal(t, 44100, conn.inputRate)
}

func TestHandleAnnounceRejectsSecondSessionWithoutInterruption(t *testing.T) {
	server := newTestServer()
	server.cfg.AllowSessionInterruption = false

	first := newTestConnection(server, 1)
	second := newTestConnection(server, 2)

	req := createRtspMessage()
	req.content = []byte("m=audio 0 RTP/AVP 96\r\na=rtpmap:96 L16/44100/2\r\n")

	resp1 := first.handleAnnounce(req)
	assert.Equal(t, 200, resp1.respcode)

	resp2 := second.handleAnnounce(req)
	assert.Equal(t, 453, resp2.respcode)
}

type countingRTP struct {
	calls int
	base  int
}

func (t *countingRTP) Setup(conn *Connection, remoteControlPort, remoteTimingPort int) (RTPPorts, error) {
	t.calls++
	base := t.base
	if base == 0 {
		base = 7000
	}
	t.base = base + 3
	return RTPPorts{Audio: base, Control: base + 1, Timing: base + 2}, nil
}
func (t *countingRTP) Initialise(conn *Connection) error { return nil }
func (t *countingRTP) Terminate(conn *Connection)        {}

func TestHandleSetupIsIdempotent(t *testing.T) {
	server := newTestServer()
	rtp := &countingRTP{}
	server.rtp = rtp
	conn := newTestConnection(server, 1)
	server.sessionSlot.tryClaim(conn)

	req := createRtspMessage()
	req.setHeader("Transport", "RTP/AVP/UDP;unicast;control_port=6001;timing_port=6002")

	resp1 := conn.handleSetup(req)
	require.Equal(t, 200, resp1.respcode)
	audioPort := conn.localAudioPort

	resp2 := conn.handleSetup(req)
	require.Equal(t, 200, resp2.respcode)
	assert.NotZero(t, audioPort)
	assert.Equal(t, audioPort, conn.localAudioPort)
	assert.Equal(t, 1, rtp.calls)
}

func TestHandleSetupWithoutSlotRejected(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	resp := conn.handleSetup(req)
	assert.Equal(t, 451, resp.respcode)
}

func TestHandleSetupCapturesDacpAndActiveRemote(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)
	server.sessionSlot.tryClaim(conn)

	req := createRtspMessage()
	req.setHeader("Transport", "RTP/AVP/UDP;unicast;control_port=6001;timing_port=6002")
	req.setHeader("DACP-ID", "1234ABCD")
	req.setHeader("Active-Remote", "987654321")

	resp := conn.handleSetup(req)
	require.Equal(t, 200, resp.respcode)
	assert.Equal(t, "1234ABCD", conn.dacpID)
	assert.Equal(t, "987654321", conn.dacpActiveRemote)
}

func TestHandleTeardownReleasesSlot(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)
	server.sessionSlot.tryClaim(conn)

	req := createRtspMessage()
	resp := conn.handleTeardown(req)

	assert.Equal(t, 200, resp.respcode)
	assert.False(t, server.sessionSlot.HasPlayer(conn))
	assert.True(t, conn.isStopping())
}

func TestDispatchAddsCSeq(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	req.method = "OPTIONS"
	req.setHeader("CSeq", "42")

	resp := conn.dispatch(req)
	cseq, ok := resp.getHeader("CSeq")
	assert.True(t, ok)
	assert.Equal(t, "42", cseq)
}

func TestDispatchRequiresAuthWhenPasswordSet(t *testing.T) {
	server := newTestServer()
	server.cfg.Password = "hunter2"
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	req.method = "ANNOUNCE"

	resp := conn.dispatch(req)
	assert.Equal(t, 401, resp.respcode)
	_, hasChallenge := resp.getHeader("WWW-Authenticate")
	assert.True(t, hasChallenge)
}

func TestHandleAnnounceUnsupportedCodecReturns456(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	req.content = []byte("m=audio 0 RTP/AVP 97\r\na=rtpmap:97 MP4A-LATM/44100/2\r\n")

	resp := conn.handleAnnounce(req)
	assert.Equal(t, 456, resp.respcode)
	assert.False(t, server.sessionSlot.HasPlayer(conn))
}

func TestHandleAnnounceCapturesClientIdentity(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	req.content = []byte("m=audio 0 RTP/AVP 96\r\na=rtpmap:96 L16/44100/2\r\n")
	req.setHeader("X-Apple-Client-Name", "Kitchen")
	req.setHeader("User-Agent", "AirPlay/150.33")

	resp := conn.handleAnnounce(req)
	require.Equal(t, 200, resp.respcode)
	assert.Equal(t, "AirPlay/150.33", conn.userAgent)
	assert.Equal(t, 150.33, conn.airplayVersion)
}

func TestHandleAnnounceDerivesAlacFromFmtp(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	req.content = []byte("m=audio 0 RTP/AVP 96\r\na=rtpmap:96 AppleLossless\r\n" +
		"a=fmtp:96 352 0 16 40 10 14 2 255 0 0 44100\r\n")

	resp := conn.handleAnnounce(req)
	require.Equal(t, 200, resp.respcode)
	assert.Equal(t, 352, conn.maxFramesPerPacket)
	assert.Equal(t, 16, conn.inputBitDepth)
	assert.Equal(t, 2, conn.inputNumChannels)
	assert.Equal(t, 44100, conn.inputRate)
}

func TestHandleRecordReportsConstantAudioLatency(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)
	server.sessionSlot.tryClaim(conn)
	conn.maximumLatency = 0

	resp := conn.handleRecord(createRtspMessage())
	require.Equal(t, 200, resp.respcode)
	latency, ok := resp.getHeader("Audio-Latency")
	assert.True(t, ok)
	assert.Equal(t, "11025", latency)
}

func TestHandleRecordWithoutSlotReturns451(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)

	resp := conn.handleRecord(createRtspMessage())
	assert.Equal(t, 451, resp.respcode)
}

func TestHandlePauseDoesNotStopPlayer(t *testing.T) {
	server := newTestServer()
	stopped := false
	server.player = &recordingPlayer{onStop: func() { stopped = true }}
	conn := newTestConnection(server, 1)
	server.sessionSlot.tryClaim(conn)

	resp := conn.handlePause(createRtspMessage())
	assert.Equal(t, 200, resp.respcode)
	assert.False(t, stopped)
}

type recordingPlayer struct {
	onStop func()
}

func (p *recordingPlayer) Play(conn *Connection) error                  { return nil }
func (p *recordingPlayer) Flush(rtptime uint32, conn *Connection) error { return nil }
func (p *recordingPlayer) Stop(conn *Connection) error {
	if p.onStop != nil {
		p.onStop()
	}
	return nil
}
func (p *recordingPlayer) Volume(conn *Connection, volume float64) error { return nil }

func TestHandleGetParameterReturnsTrackedVolume(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)
	conn.volume = -15.5

	req := createRtspMessage()
	req.content = []byte("volume\r\n")

	resp := conn.handleGetParameter(req)
	assert.Equal(t, 200, resp.respcode)
	assert.Equal(t, "\r\nvolume: -15.5\r\n", string(resp.content))
}

func TestHandleGetParameterOtherBodyIsEmpty(t *testing.T) {
	server := newTestServer()
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	req.content = []byte("progress\r\n")

	resp := conn.handleGetParameter(req)
	assert.Equal(t, 200, resp.respcode)
	assert.Empty(t, resp.content)
}

type capturedMetadata struct {
	mu    sync.Mutex
	items []MetadataPackage
}

func (c *capturedMetadata) add(pkg MetadataPackage) {
	pkg.data = append([]byte(nil), pkg.payload()...)
	c.mu.Lock()
	c.items = append(c.items, pkg)
	c.mu.Unlock()
}

func (c *capturedMetadata) snapshot() []MetadataPackage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MetadataPackage(nil), c.items...)
}

func newCapturingMetadataHub() (*MetadataHub, *capturedMetadata) {
	hub := &MetadataHub{}
	captured := &capturedMetadata{}
	sink := newMetadataSink("capture", captured.add)
	hub.sinks = []*MetadataSink{sink}
	return hub, captured
}

func TestHandleSetParamDmapForwardsEveryTagBracketed(t *testing.T) {
	server := newTestServer()
	hub, received := newCapturingMetadataHub()
	server.metadata = hub
	defer hub.Close()
	conn := newTestConnection(server, 1)

	var buf []byte
	buf = append(buf, encodeDmapTag("minm", []byte("Song"))...)
	buf = append(buf, encodeDmapTag("asar", []byte("Artist"))...)

	req := createRtspMessage()
	req.content = buf

	conn.handleSetParamDmap(req)

	assert.Eventually(t, func() bool { return len(received.snapshot()) >= 4 }, time.Second, 10*time.Millisecond)

	items := received.snapshot()
	assert.Equal(t, metaType("mdst"), items[0].code)
	assert.Equal(t, metaType("core"), items[1].mtype)
	assert.Equal(t, metaType("minm"), items[1].code)
	assert.Equal(t, metaType("core"), items[2].mtype)
	assert.Equal(t, metaType("asar"), items[2].code)
	assert.Equal(t, metaType("mden"), items[3].code)
}

func TestHandleSetParameterImageBracketsPicture(t *testing.T) {
	server := newTestServer()
	server.cfg.GetCoverArt = true
	hub, received := newCapturingMetadataHub()
	server.metadata = hub
	defer hub.Close()
	conn := newTestConnection(server, 1)

	req := createRtspMessage()
	req.setHeader("Content-Type", "image/jpeg")
	req.content = []byte("fake-jpeg-bytes")

	conn.handleSetParameter(req)

	assert.Eventually(t, func() bool { return len(received.snapshot()) >= 3 }, time.Second, 10*time.Millisecond)

	items := received.snapshot()
	assert.Equal(t, metaType("pcst"), items[0].code)
	assert.Equal(t, metaType("PICT"), items[1].code)
	assert.Equal(t, []byte("fake-jpeg-bytes"), items[1].data)
	assert.Equal(t, metaType("pcen"), items[2].code)
}
