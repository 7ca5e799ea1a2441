package main

import (
	"os"
	"os/signal"
	"syscall"
)

func main() {
	LogInfo("RAOP Core (Version 1.0.0)")

	cfg := LoadConfig()

	server := CreateAirplayServer(cfg)
	if server == nil {
		os.Exit(1)
	}

	server.callbacker = NewCallbacker(cfg)
	server.coordinator = NewCoordinatorConnection(server)

	go setupRedisCommandReceiver(server)

	StartStatusServer(server)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		LogInfo("Shutting down")
		server.Stop()
		os.Exit(0)
	}()

	server.Start()
}
