package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerURL      string // base URL for the HTTP API
	SocketURL      string // websocket endpoint of the event bus
	CipherKey      string // shared secret for the transport cipher
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	Debug          bool
}

func Load() *Config {
	return &Config{
		ServerURL:      getEnv("CONVO_SERVER_URL", "http://localhost:5000"),
		SocketURL:      getEnv("CONVO_WS_URL", "ws://localhost:5000/ws"),
		CipherKey:      getEnv("CONVO_CIPHER_KEY", "corporate-secret-key"),
		ConnectTimeout: getDuration("CONVO_CONNECT_TIMEOUT", 10*time.Second),
		RequestTimeout: getDuration("CONVO_REQUEST_TIMEOUT", 15*time.Second),
		Debug:          getBool("CONVO_DEBUG", false),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
