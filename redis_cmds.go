// Cross-process session control over Redis pub/sub

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupRedisCommandReceiver lets another process on the same host (or a
// fleet of receivers behind one coordinator) kill this connection's active
// session without going through the RTSP control path.
func setupRedisCommandReceiver(server *AirplayServer) {
	cfg := server.cfg
	if !cfg.RedisUse {
		return
	}

	defer func() {
		if err := recover(); err != nil {
			switch x := err.(type) {
			case string:
				LogError(errors.New(x))
			case error:
				LogError(x)
			default:
				LogError(errors.New("could not connect to redis"))
			}
		}
		LogWarning("Connection to Redis lost")
	}()

	ctx := context.Background()

	opts := &redis.Options{
		Addr:     cfg.RedisHost + ":" + cfg.RedisPort,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{}
	}

	client := redis.NewClient(opts)
	subscriber := client.Subscribe(ctx, cfg.RedisChannel)

	LogInfo("[REDIS] Listening for commands on channel '" + cfg.RedisChannel + "'")

	for {
		msg, err := subscriber.ReceiveMessage(ctx)
		if err != nil {
			LogWarning("Could not connect to Redis: " + err.Error())
			time.Sleep(10 * time.Second)
			continue
		}
		parseRedisCommand(server, msg.Payload)
	}
}

func parseRedisCommand(server *AirplayServer, cmd string) {
	defer func() {
		if err := recover(); err != nil {
			LogWarning("Could not parse message: " + cmd)
		}
	}()

	switch cmd {
	case "kill-session":
		if holder := server.sessionSlot.Current(); holder != nil {
			holder.requestStop()
			holder.fd.Close()
		}
	default:
		LogWarning("Unknown Redis command: " + cmd)
	}
}
