// Global configuration

package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Process-wide configuration, loaded once at startup from the environment
// (optionally seeded by a .env file), gathered into a single struct rather
// than scattered os.Getenv calls.
type Config struct {
	Port int // RTSP listening port

	Password string // RAOP password; empty disables Digest authentication

	AllowSessionInterruption bool // whether a second ANNOUNCE may pre-empt the active session
	GetCoverArt              bool // whether image/* SET_PARAMETER payloads are forwarded as PICT metadata

	IdleTimeout    time.Duration // 0 disables the watchdog entirely
	UnfixableCmd   string        // external command run on the third watchdog bark
	BodyReadPaceMs int           // configurable version of the 80ms inter-chunk sleep

	MetadataPipePath      string // FIFO path; empty disables the sink
	MetadataMulticastAddr string // UDP multicast address:port; empty disables the sink
	MetadataMQTTBroker    string // tcp://host:port; empty disables the sink
	MetadataMQTTTopicBase string

	AllowedSenderRanges string // comma separated ranges exempt from MaxIPConcurrent; empty or "*" exempts everyone
	MaxIPConcurrent     uint32 // per-IP concurrent connection cap

	RedisUse      bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisChannel  string
	RedisTLS      bool

	CoordinatorBaseURL string // if set, connect to an automation hub over websocket
	ControlSecret      string // HS256 secret for the coordinator auth token

	CallbackURL       string // webhook fired on RECORD/TEARDOWN
	CallbackJWTSecret string

	StatusAddr     string // optional local status HTTP endpoint; empty disables it
	StatusCertFile string
	StatusKeyFile  string
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v == "YES" || v == "true" || v == "1"
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// LoadConfig reads .env (if present) and then the process environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		LogDebug("No .env file loaded: " + err.Error())
	}

	cfg := &Config{
		Port:                     envInt("RTSP_PORT", 5000),
		Password:                 os.Getenv("RAOP_PASSWORD"),
		AllowSessionInterruption: envBool("ALLOW_SESSION_INTERRUPTION", true),
		GetCoverArt:              envBool("GET_COVERART", true),
		IdleTimeout:              time.Duration(envInt("IDLE_TIMEOUT_SECONDS", 0)) * time.Second,
		UnfixableCmd:             os.Getenv("UNFIXABLE_COMMAND"),
		BodyReadPaceMs:           envInt("BODY_READ_PACE_MS", 80),

		MetadataPipePath:      os.Getenv("METADATA_PIPE"),
		MetadataMulticastAddr: os.Getenv("METADATA_MULTICAST_ADDR"),
		MetadataMQTTBroker:    os.Getenv("METADATA_MQTT_BROKER"),
		MetadataMQTTTopicBase: envOr("METADATA_MQTT_TOPIC_BASE", "airplay"),

		AllowedSenderRanges: os.Getenv("ALLOWED_SENDER_RANGES"),
		MaxIPConcurrent:     uint32(envInt("MAX_IP_CONCURRENT_CONNECTIONS", 4)),

		RedisUse:      envBool("REDIS_USE", false),
		RedisHost:     envOr("REDIS_HOST", "localhost"),
		RedisPort:     envOr("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisChannel:  envOr("REDIS_CHANNEL", "airplay_commands"),
		RedisTLS:      envBool("REDIS_TLS", false),

		CoordinatorBaseURL: os.Getenv("COORDINATOR_BASE_URL"),
		ControlSecret:      os.Getenv("CONTROL_SECRET"),

		CallbackURL:       os.Getenv("CALLBACK_URL"),
		CallbackJWTSecret: os.Getenv("JWT_SECRET"),

		StatusAddr:     os.Getenv("STATUS_ADDR"),
		StatusCertFile: os.Getenv("STATUS_SSL_CERT"),
		StatusKeyFile:  os.Getenv("STATUS_SSL_KEY"),
	}

	return cfg
}

func envOr(name string, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
