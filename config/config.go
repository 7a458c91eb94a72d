package config

import (
	"os"
	"strconv"
	"time"
)

// Producer selection values.
const (
	ProducerFixed  = "fixed"
	ProducerSSE    = "sse"
	ProducerGemini = "gemini"
)

// Config holds all runtime configuration.
type Config struct {
	// HTTP / websocket listen address
	ListenAddr string

	// SQLite database path
	DatabasePath string

	// Persona seed file (YAML); empty disables seeding
	PersonaFile string

	// Streaming backend: fixed, sse or gemini
	Producer string
	// Base address of the remote SSE streaming service
	SSEBaseURL string

	// Characters per streamed fragment
	ChunkSize int
	// Pause between successive fragments
	ChunkDelay time.Duration

	// Longest accepted user message
	MaxUserMessageLength int
}

// Load reads configuration from environment variables, falling back to
// defaults that work for local development.
func Load() Config {
	return Config{
		ListenAddr:           getEnv("CHATCAST_ADDR", ":8080"),
		DatabasePath:         getEnv("CHATCAST_DB", "data/chatcast.db"),
		PersonaFile:          getEnv("CHATCAST_PERSONAS", "personas.yaml"),
		Producer:             getEnv("CHATCAST_PRODUCER", ProducerFixed),
		SSEBaseURL:           getEnv("CHATCAST_SSE_URL", "http://localhost:3000"),
		ChunkSize:            getEnvInt("CHATCAST_CHUNK_SIZE", 3),
		ChunkDelay:           time.Duration(getEnvInt("CHATCAST_CHUNK_DELAY_MS", 100)) * time.Millisecond,
		MaxUserMessageLength: getEnvInt("CHATCAST_MAX_MESSAGE_LENGTH", 1000),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
