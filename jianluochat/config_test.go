package jianluochat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvFallsBackToLocalhost(t *testing.T) {
	t.Setenv("JIANLUOCHAT_API_URL", "")
	t.Setenv("JIANLUOCHAT_TOKEN", "")

	cfg := FromEnv()

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Empty(t, cfg.Token)
}

func TestFromEnvReadsVariables(t *testing.T) {
	t.Setenv("JIANLUOCHAT_API_URL", "https://chat.example.com/api")
	t.Setenv("JIANLUOCHAT_TOKEN", "tok-123")

	cfg := FromEnv()

	assert.Equal(t, "https://chat.example.com/api", cfg.BaseURL)
	assert.Equal(t, "tok-123", cfg.Token)
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t,
		"ws://localhost:8080/api/ws?token=abc",
		WebSocketURL("http://localhost:8080/api", "abc"))

	assert.Equal(t,
		"wss://chat.example.com/api/ws?token=abc",
		WebSocketURL("https://chat.example.com/api", "abc"))

	// a base URL without the /api suffix gets it on the socket path anyway
	assert.Equal(t,
		"ws://chat.example.com/api/ws?token=abc",
		WebSocketURL("http://chat.example.com", "abc"))
}
