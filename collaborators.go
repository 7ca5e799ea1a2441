// External collaborators: the audio player, the RTP transport
// layer, and mDNS service discovery live outside the core. The core only
// calls the interfaces declared here; CreateAirplayServer (server.go) wires
// in the no-op defaults below and main.go does not replace them. Concrete
// implementations are not part of the RTSP/session-admission engine itself.

package main

import "net"

// Player is the external audio pipeline: decoder, jitter buffer, mixer,
// output. Exactly one connection may be the active caller at a time.
type Player interface {
	Play(conn *Connection) error
	Flush(rtptime uint32, conn *Connection) error
	Stop(conn *Connection) error
	Volume(conn *Connection, volume float64) error
}

// RTPPorts is the local UDP port triple handed back by rtp_setup.
type RTPPorts struct {
	Audio   int
	Control int
	Timing  int
}

// RTPTransport is the external RTP audio/control/timing transport layer.
type RTPTransport interface {
	// Setup allocates the local UDP port triple for a connection given the
	// sender's remote control/timing ports.
	Setup(conn *Connection, remoteControlPort, remoteTimingPort int) (RTPPorts, error)
	// Initialise starts the transport once encryption/codec parameters are
	// known (called after a successful SETUP, so external resources commit
	// only once negotiation succeeds).
	Initialise(conn *Connection) error
	// Terminate releases the transport's resources; called during cleanup.
	Terminate(conn *Connection)
}

// MDNSRegistrar is the external service-discovery collaborator.
type MDNSRegistrar interface {
	Register(serviceName string, port int) error
	Unregister(serviceName string)
}

// noopPlayer/noopRTPTransport/noopMDNS are the defaults wired in when no
// real collaborator is configured — they let the RTSP/admission engine be
// exercised (and tested) in isolation.
type noopPlayer struct{}

func (noopPlayer) Play(conn *Connection) error                         { return nil }
func (noopPlayer) Flush(rtptime uint32, conn *Connection) error        { return nil }
func (noopPlayer) Stop(conn *Connection) error                         { return nil }
func (noopPlayer) Volume(conn *Connection, volume float64) error       { return nil }

type noopRTPTransport struct{ nextPort int }

func (t *noopRTPTransport) Setup(conn *Connection, remoteControlPort, remoteTimingPort int) (RTPPorts, error) {
	base := t.nextPort
	if base == 0 {
		base = 6000
	}
	t.nextPort = base + 3
	return RTPPorts{Audio: base, Control: base + 1, Timing: base + 2}, nil
}
func (t *noopRTPTransport) Initialise(conn *Connection) error { return nil }
func (t *noopRTPTransport) Terminate(conn *Connection)        {}

type noopMDNS struct{}

func (noopMDNS) Register(serviceName string, port int) error { return nil }
func (noopMDNS) Unregister(serviceName string)                {}

// localIP is a small helper used by the Apple-Challenge computation
// to find the address the listener is reachable on for a given connection.
func localIP(conn net.Conn) net.IP {
	if tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	return nil
}
