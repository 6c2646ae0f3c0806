package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port      int
	NatsURL   string
	NatsToken string
	LogLevel  string

	// Store selection: "mongo" (default) or "postgres".
	StoreDriver string
	Mongo       MongoConfig
	DatabaseURL string

	// Artifact sinks.
	LogDir  string
	RawLog  bool
	TextLog bool
	JSONLog bool

	// Shortest printable run kept as a text fragment.
	MinTextFragment int
}

// MongoConfig carries the document-store connection parameters. Every field
// has a default so an empty environment still produces a startable config.
type MongoConfig struct {
	Host       string
	Port       int
	Database   string
	Collection string
	Timeout    time.Duration
	Username   string
	Password   string
	AuthDB     string
}

func Load() Config {
	return Config{
		Port:        envInt("SCRIBE_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		StoreDriver: envStr("STORE_DRIVER", "mongo"),
		Mongo: MongoConfig{
			Host:       envStr("MONGO_HOST", "localhost"),
			Port:       envInt("MONGO_PORT", 27017),
			Database:   envStr("MONGO_DB", "prompt_engineering"),
			Collection: envStr("MONGO_COLLECTION", "api_requests"),
			Timeout:    envMillis("MONGO_TIMEOUT_MS", 5000),
			Username:   envStr("MONGO_USERNAME", ""),
			Password:   envStr("MONGO_PASSWORD", ""),
			AuthDB:     envStr("MONGO_AUTH_DB", "admin"),
		},
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogDir:          envStr("CAPTURE_LOG_DIR", "logs"),
		RawLog:          envBool("ENABLE_RAW_LOG", true),
		TextLog:         envBool("ENABLE_TEXT_LOG", true),
		JSONLog:         envBool("ENABLE_JSON_LOG", true),
		MinTextFragment: envInt("MIN_TEXT_FRAGMENT", 4),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envBool recognizes the truthy forms true/1/yes/on and the falsy forms
// false/0/no/off, case-insensitively. Anything else keeps the fallback.
func envBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func envMillis(key string, fallbackMS int) time.Duration {
	return time.Duration(envInt(key, fallbackMS)) * time.Millisecond
}
