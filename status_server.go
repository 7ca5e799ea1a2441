// Optional local status HTTP endpoint (never used for the RTSP channel)

package main

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
)

type statusResponse struct {
	Playing          bool   `json:"playing"`
	ConnectionNumber uint64 `json:"connection_number,omitempty"`
	UserAgent        string `json:"user_agent,omitempty"`
	DacpID           string `json:"dacp_id,omitempty"`
	ActiveRemote     string `json:"active_remote,omitempty"`
}

// StartStatusServer exposes a read-only /status endpoint describing the
// current session slot holder, for monitoring dashboards. It is entirely
// independent from the RTSP control channel.
func StartStatusServer(server *AirplayServer) {
	cfg := server.cfg
	if cfg.StatusAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{}
		if holder := server.sessionSlot.Current(); holder != nil {
			holder.mu.Lock()
			resp.Playing = true
			resp.ConnectionNumber = holder.connection_number
			resp.UserAgent = holder.userAgent
			resp.DacpID = holder.dacpID
			resp.ActiveRemote = holder.dacpActiveRemote
			holder.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	go func() {
		if cfg.StatusCertFile != "" && cfg.StatusKeyFile != "" {
			loader, err := NewCertificateLoader(cfg.StatusCertFile, cfg.StatusKeyFile)
			if err != nil {
				LogError(err)
				return
			}
			go loader.RunReloadLoop()

			listener, err := tls.Listen("tcp", cfg.StatusAddr, &tls.Config{
				GetCertificate: loader.GetCertificateFunc(),
			})
			if err != nil {
				LogError(err)
				return
			}
			LogInfo("[STATUS] Listening (TLS) on " + cfg.StatusAddr)
			http.Serve(listener, mux)
			return
		}

		listener, err := net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			LogError(err)
			return
		}
		LogInfo("[STATUS] Listening on " + cfg.StatusAddr)
		http.Serve(listener, mux)
	}()
}
