// Per-connection conversation worker

package main

import (
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

type codecType int

const (
	codecUnknown codecType = iota
	codecUncompressedPCM
	codecAppleLossless
)

// StreamParams are the codec parameters negotiated in ANNOUNCE.
type StreamParams struct {
	ctype codecType
	fmtp  [12]int64

	encrypted bool
	aesIV     [16]byte
	aesKey    [16]byte
}

// Connection holds all per-connection state. It is created at accept,
// owned by its worker goroutine, and destroyed by the listener's reaper
// after the worker exits.
type Connection struct {
	server *AirplayServer

	connection_number uint64
	fd                net.Conn
	local             net.Addr
	remote            net.Addr
	ip                string

	authorized int32 // atomic bool; once true, stays true
	authNonce  string
	authMu     sync.Mutex

	stopFlag     int32 // atomic bool
	interrupting int32 // atomic bool
	running      int32 // atomic bool

	stream StreamParams

	inputRate          int
	inputNumChannels   int
	inputBitDepth      int
	inputBytesPerFrame int
	maxFramesPerPacket int

	minimumLatency int
	maximumLatency int

	remoteControlPort int
	remoteTimingPort  int
	localAudioPort    int
	localControlPort  int
	localTimingPort   int
	rtpRunning        bool

	dacpID           string
	dacpActiveRemote string
	userAgent        string
	airplayVersion   float64
	volume           float64

	watchdogBark   atomic.Int64 // unix nanos of last forward progress
	watchdogBarks  int
	watchdogStopCh chan struct{}
	watchdogDoneCh chan struct{}

	stalledPublished bool

	mu sync.Mutex // guards the mutable identity fields above (dacpID, userAgent, ...)
}

func newConnection(server *AirplayServer, id uint64, c net.Conn) *Connection {
	conn := &Connection{
		server:             server,
		connection_number:  id,
		fd:                 c,
		local:              c.LocalAddr(),
		remote:             c.RemoteAddr(),
		maxFramesPerPacket: 352,
	}
	if tcpAddr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		conn.ip = tcpAddr.IP.String()
	} else {
		conn.ip = c.RemoteAddr().String()
	}
	conn.watchdogBark.Store(time.Now().UnixNano())
	return conn
}

func (c *Connection) isStopping() bool   { return atomic.LoadInt32(&c.stopFlag) != 0 }
func (c *Connection) requestStop()       { atomic.StoreInt32(&c.stopFlag, 1) }
func (c *Connection) markInterrupting()  { atomic.StoreInt32(&c.interrupting, 1) }
func (c *Connection) isAuthorized() bool { return atomic.LoadInt32(&c.authorized) != 0 }
func (c *Connection) setAuthorized()     { atomic.StoreInt32(&c.authorized, 1) }

func (c *Connection) touchWatchdog() {
	c.watchdogBark.Store(time.Now().UnixNano())
}

func (c *Connection) publishStalled() {
	if c.stalledPublished {
		return
	}
	c.stalledPublished = true
	c.server.metadata.sendMetadata(metaType("ssnc"), metaType("stal"), []byte("stalled"), nil)
}

// HandleConnection runs the per-connection state machine: Reading →
// Handling → Writing → Terminating.
func (c *Connection) HandleConnection() {
	atomic.StoreInt32(&c.running, 1)
	c.startWatchdog()

	defer c.cleanup()

	retriesLeft := 1

	for {
		if c.isStopping() {
			return
		}

		req, err := readRequest(c)
		if err == nil {
			c.touchWatchdog()
			resp := c.dispatch(req)
			req.release()

			werr := writeResponse(c, resp)
			resp.release()

			if werr != nil {
				c.lingerZero()
				return
			}
			continue
		}

		switch err {
		case ErrImmediateShutdown, ErrChannelClosed:
			return
		case ErrReadError, ErrBadPacket:
			if retriesLeft > 0 {
				retriesLeft--
				time.Sleep(20 * time.Millisecond)
				continue
			}
			c.lingerZero()
			return
		default:
			return
		}
	}
}

func (c *Connection) lingerZero() {
	if tcpConn, ok := c.fd.(*net.TCPConn); ok {
		tcpConn.SetLinger(0)
	}
}

func (c *Connection) startWatchdog() {
	if c.server.cfg.IdleTimeout <= 0 {
		return
	}

	c.watchdogStopCh = make(chan struct{})
	c.watchdogDoneCh = make(chan struct{})

	go func() {
		defer close(c.watchdogDoneCh)
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-c.watchdogStopCh:
				return
			case <-ticker.C:
				last := time.Unix(0, c.watchdogBark.Load())
				if time.Since(last) < c.server.cfg.IdleTimeout {
					continue
				}

				c.watchdogBarks++
				switch c.watchdogBarks {
				case 1:
					LogDebugConn(c.connection_number, c.ip, "Watchdog: idle timeout exceeded, stopping connection")
					c.requestStop()
					c.fd.Close()
				case 3:
					if c.server.cfg.UnfixableCmd != "" {
						LogWarning("Watchdog: connection unresponsive after 3 barks, running unfixable command")
						runUnfixableCommand(c.server.cfg.UnfixableCmd)
					} else {
						LogWarning("Watchdog: connection unresponsive after 3 barks")
					}
				}
			}
		}
	}()
}

func (c *Connection) stopWatchdog() {
	if c.watchdogStopCh == nil {
		return
	}
	close(c.watchdogStopCh)
	<-c.watchdogDoneCh
}

// cleanup runs the Terminating phase: stop the player if owned, release
// RTP resources, free per-connection state, stop the watchdog, and release
// the session slot if still held.
func (c *Connection) cleanup() {
	defer atomic.StoreInt32(&c.running, 0)

	c.stopWatchdog()

	if c.server.sessionSlot.HasPlayer(c) {
		c.server.player.Stop(c)
		if c.rtpRunning {
			c.server.rtp.Terminate(c)
		}
		c.server.sessionSlot.Release(c)
	}

	c.fd.Close()

	LogDebugConn(c.connection_number, c.ip, "Connection closed")
}

func runUnfixableCommand(cmd string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogWarning("unfixable command panicked")
			}
		}()
		if err := exec.Command("sh", "-c", cmd).Run(); err != nil {
			LogError(err)
		}
	}()
}
