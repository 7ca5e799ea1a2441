// Coordinator connection: websocket link to an optional automation hub

package main

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// CoordinatorConnection mirrors every playback event to an automation hub
// (home automation, multi-room sync) over a persistent websocket, and
// forwards the type/code of every item published on the in-process
// metadata hub to it.
type CoordinatorConnection struct {
	server *AirplayServer

	connectionURL string
	connection    *websocket.Conn

	lock    sync.Mutex
	enabled bool
}

func NewCoordinatorConnection(server *AirplayServer) *CoordinatorConnection {
	c := &CoordinatorConnection{server: server}

	if server.cfg.CoordinatorBaseURL == "" {
		LogWarning("No coordinator configured, running stand-alone")
		return c
	}

	base, err := url.Parse(server.cfg.CoordinatorBaseURL)
	if err != nil {
		LogError(err)
		return c
	}
	path, _ := url.Parse("/ws/control/raop")

	c.connectionURL = base.ResolveReference(path).String()
	c.enabled = true

	go c.connect()
	go c.runHeartbeat()
	go c.forwardMetadata()

	return c
}

func (c *CoordinatorConnection) authToken() string {
	if c.server.cfg.ControlSecret == "" {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "raop-control",
	})
	signed, err := token.SignedString([]byte(c.server.cfg.ControlSecret))
	if err != nil {
		LogError(err)
		return ""
	}
	return signed
}

func (c *CoordinatorConnection) connect() {
	c.lock.Lock()
	if c.connection != nil {
		c.lock.Unlock()
		return
	}

	LogInfo("[WS-CONTROL] Connecting to " + c.connectionURL)

	headers := http.Header{}
	if token := c.authToken(); token != "" {
		headers.Set("x-control-auth-token", token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.connectionURL, headers)
	if err != nil {
		c.lock.Unlock()
		LogWarning("[WS-CONTROL] connection error: " + err.Error())
		go c.reconnect()
		return
	}

	c.connection = conn
	c.lock.Unlock()

	go c.readLoop(conn)
}

func (c *CoordinatorConnection) reconnect() {
	time.Sleep(10 * time.Second)
	c.connect()
}

func (c *CoordinatorConnection) onDisconnect(err error) {
	c.lock.Lock()
	c.connection = nil
	c.lock.Unlock()
	LogInfo("[WS-CONTROL] disconnected: " + err.Error())
	go c.connect()
}

func (c *CoordinatorConnection) send(msg messages.RPCMessage) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.connection == nil {
		return false
	}
	c.connection.WriteMessage(websocket.TextMessage, []byte(msg.Serialize()))
	return true
}

func (c *CoordinatorConnection) readLoop(conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}
		msg := messages.ParseRPCMessage(string(payload))
		c.onMessage(&msg)
	}
}

func (c *CoordinatorConnection) onMessage(msg *messages.RPCMessage) {
	switch msg.Method {
	case "KILL-SESSION":
		if holder := c.server.sessionSlot.Current(); holder != nil {
			holder.requestStop()
			holder.fd.Close()
		}
	}
}

func (c *CoordinatorConnection) runHeartbeat() {
	for {
		time.Sleep(20 * time.Second)
		c.send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// NotifyEvent reports a RECORD/TEARDOWN transition to the coordinator.
func (c *CoordinatorConnection) NotifyEvent(event string, conn *Connection) {
	if !c.enabled {
		return
	}
	c.send(messages.RPCMessage{
		Method: "SESSION-EVENT",
		Params: map[string]string{
			"Event":      event,
			"User-Agent": conn.userAgent,
			"Client-IP":  conn.ip,
		},
	})
}

// forwardMetadata relays every published metadata item to the coordinator
// as a best-effort stream; the hub subscriber channel already drops items
// under backpressure, so this never blocks the publisher.
func (c *CoordinatorConnection) forwardMetadata() {
	ch := c.server.metadata.Subscribe(64)
	for pkg := range ch {
		if !c.enabled {
			continue
		}
		c.send(messages.RPCMessage{
			Method: "METADATA",
			Params: map[string]string{
				"Type": hex4(pkg.mtype),
				"Code": hex4(pkg.code),
			},
		})
	}
}
