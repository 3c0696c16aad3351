package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the daemon's settings. Values come from an optional TOML
// file, then environment variables override field by field.
type Config struct {
	Identity     string `toml:"identity"`
	ServerURL    string `toml:"server_url"`
	AuthURL      string `toml:"auth_url"`
	ServerKey    string `toml:"server_key"`
	DirectoryURL string `toml:"directory_url"`
	DBDSN        string `toml:"db_dsn"`
	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
	AMQPRouting  string `toml:"amqp_routing_key"`
	HTTPPort     string `toml:"http_port"`
	Debug        bool   `toml:"debug"`
	DebugToken   string `toml:"debug_token"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// Load reads the config file at path (skipped when empty) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ServerURL:    "http://localhost:7350",
		AuthURL:      "http://localhost:7350",
		ServerKey:    "defaultkey",
		AMQPExchange: "pandora.events",
		AMQPRouting:  "dm.notifications",
		HTTPPort:     "8083",
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Identity = getEnv("PANDORA_IDENTITY", cfg.Identity)
	cfg.ServerURL = getEnv("PANDORA_SERVER_URL", cfg.ServerURL)
	cfg.AuthURL = getEnv("PANDORA_AUTH_URL", cfg.AuthURL)
	cfg.ServerKey = getEnv("PANDORA_SERVER_KEY", cfg.ServerKey)
	cfg.DirectoryURL = getEnv("PANDORA_DIRECTORY_URL", cfg.DirectoryURL)
	cfg.DBDSN = getEnv("PANDORA_DB_DSN", cfg.DBDSN)
	cfg.AMQPURL = getEnv("PANDORA_AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("PANDORA_AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPRouting = getEnv("PANDORA_AMQP_ROUTING_KEY", cfg.AMQPRouting)
	cfg.HTTPPort = getEnv("PANDORA_HTTP_PORT", cfg.HTTPPort)
	cfg.DebugToken = getEnv("PANDORA_DEBUG_TOKEN", cfg.DebugToken)
	cfg.OTLPEndpoint = getEnv("PANDORA_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	if getEnv("PANDORA_DEBUG", "") == "true" {
		cfg.Debug = true
	}

	if cfg.Identity == "" {
		return nil, fmt.Errorf("identity is required (PANDORA_IDENTITY or config file)")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
