// Signed webhook callback fired on RECORD/TEARDOWN

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const callbackJWTExpirySeconds = 120

// Callbacker posts a short-lived signed JWT to an external URL whenever a
// session starts or ends playback, letting external automation react
// without polling the status endpoint.
type Callbacker struct {
	url    string
	secret string
}

func NewCallbacker(cfg *Config) *Callbacker {
	if cfg.CallbackURL == "" {
		return nil
	}
	return &Callbacker{url: cfg.CallbackURL, secret: cfg.CallbackJWTSecret}
}

func (cb *Callbacker) Fire(event string, conn *Connection) {
	if cb == nil {
		return
	}

	LogDebugConn(conn.connection_number, conn.ip, "POST "+cb.url+" | Event: "+event)

	exp := time.Now().Unix() + callbackJWTExpirySeconds
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        "raop_event",
		"event":      event,
		"client_ip":  conn.ip,
		"user_agent": conn.userAgent,
		"dacp_id":    conn.dacpID,
		"exp":        exp,
	})

	signed, err := token.SignedString([]byte(cb.secret))
	if err != nil {
		LogError(err)
		return
	}

	req, err := http.NewRequest("POST", cb.url, nil)
	if err != nil {
		LogError(err)
		return
	}
	req.Header.Set("raop-event", signed)

	client := &http.Client{Timeout: 5 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		LogError(err)
		return
	}
	defer res.Body.Close()

	if res.StatusCode != 200 {
		LogDebugConn(conn.connection_number, conn.ip, "Callback request ended with status code: "+fmt.Sprint(res.StatusCode))
	}
}
