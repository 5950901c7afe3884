package config

import (
	"os"
	"strconv"
	"time"
)

// Transport modes.
const (
	TransportSSH   = "ssh"
	TransportAgent = "agent"
)

// Config collects everything read from the environment. Load it once in
// main, after godotenv has had a chance to populate os.Environ.
type Config struct {
	Port         string
	DatabasePath string

	// MediaRoot is where uploaded sources live locally; the same tree is
	// mounted on the encoding worker.
	MediaRoot string

	TransportMode string

	// Command-execution transport.
	SSHAddr       string
	SSHUser       string
	SSHPassword   string
	SSHKeyPath    string
	IngestCommand string
	EncodeRoot    string

	// Streaming-request transport.
	AgentURL string

	// EncodeTimeout bounds one whole remote encode. Feature films take
	// hours, so the default is generous.
	EncodeTimeout time.Duration

	// MaxConcurrentEncodes bounds simultaneous dispatches. The worker
	// serializes internally, so the default is effectively "all of them".
	MaxConcurrentEncodes int64

	// WebhookSecret guards the completion webhook when non-empty.
	WebhookSecret string
}

// Load reads configuration from the environment with defaults.
func Load() *Config {
	return &Config{
		Port:         getenv("PORT", "8080"),
		DatabasePath: getenv("DATABASE_PATH", "data/cinebox.db"),
		MediaRoot:    getenv("MEDIA_ROOT", "data/media"),

		TransportMode: getenv("TRANSPORT_MODE", TransportSSH),

		SSHAddr:       getenv("ENCODER_SSH_ADDR", "127.0.0.1:22"),
		SSHUser:       getenv("ENCODER_SSH_USER", "encoder"),
		SSHPassword:   os.Getenv("ENCODER_SSH_PASSWORD"),
		SSHKeyPath:    os.Getenv("ENCODER_SSH_KEY"),
		IngestCommand: getenv("ENCODER_COMMAND", "ingest-video"),
		EncodeRoot:    getenv("ENCODER_DEST_ROOT", "/var/media"),

		AgentURL: getenv("ENCODER_AGENT_URL", "http://127.0.0.1:9090"),

		EncodeTimeout:        getduration("ENCODE_TIMEOUT", 4*time.Hour),
		MaxConcurrentEncodes: getint64("MAX_CONCURRENT_ENCODES", 64),

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getint64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
