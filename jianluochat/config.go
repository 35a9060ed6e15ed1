package jianluochat

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultBaseURL is the local development backend.
const DefaultBaseURL = "http://localhost:8080/api"

// Config controls how the SDK connects.
type Config struct {
	BaseURL string // REST base URL, e.g. "http://localhost:8080/api"
	Token   string // bearer token; also carried on the socket URL

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration

	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration // base delay, doubled per attempt
	MaxReconnectAttempts int
}

// DefaultConfig returns sensible defaults.
// Set a timeout to 0 to disable it.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		HandshakeTimeout: 10 * time.Second,
		// three missed heartbeats before the read side gives up
		ReadTimeout:          90 * time.Second,
		WriteTimeout:         10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectDelay:       time.Second,
		MaxReconnectAttempts: 5,
	}
}

// FromEnv builds a Config from the environment, loading a .env file when one
// is present. Missing variables fall back to DefaultConfig values.
func FromEnv() Config {
	_ = godotenv.Load()
	cfg := DefaultConfig()
	if v := os.Getenv("JIANLUOCHAT_API_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("JIANLUOCHAT_TOKEN"); v != "" {
		cfg.Token = v
	}
	return cfg
}

// WebSocketURL derives the realtime endpoint from the REST base URL: the
// scheme flips to ws(s), the /api suffix moves in front of /ws, and the token
// rides as a query parameter.
func WebSocketURL(baseURL, token string) string {
	u := baseURL
	if strings.HasPrefix(u, "https") {
		u = "wss" + strings.TrimPrefix(u, "https")
	} else if strings.HasPrefix(u, "http") {
		u = "ws" + strings.TrimPrefix(u, "http")
	}
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, "/api")
	return u + "/api/ws?token=" + token
}
