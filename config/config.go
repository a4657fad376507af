package config

import (
	"fmt"
	"time"

	"github.com/Temutjin2k/ride-hail-driver/pkg/configparser"
)

// Config contains all configuration variables of the application
type (
	Config struct {
		LogLevel string `env:"LOG_LEVEL" default:"DEBUG"`

		Dispatch          DispatchConfig
		API               APIConfig
		Storage           StorageConfig
		Debug             DebugConfig
		ExternalAPIConfig ExternalAPIConfig
	}

	DispatchConfig struct {
		Endpoint          string        `env:"DISPATCH_ENDPOINT" default:"ws://localhost:8080/ws/driver"`
		HeartbeatInterval time.Duration `env:"DISPATCH_HEARTBEAT_INTERVAL" default:"25s"`
		ReconnectDelay    time.Duration `env:"DISPATCH_RECONNECT_DELAY" default:"3s"`

		OfferCountdownSeconds int `env:"DISPATCH_OFFER_COUNTDOWN_SECONDS" default:"60"`
	}

	APIConfig struct {
		BaseURL string `env:"API_BASE_URL" default:"http://localhost:3000"`
	}

	StorageConfig struct {
		Path string `env:"STORAGE_PATH" default:"driver-state.json"`
	}

	DebugConfig struct {
		// Local listener for /healthz and /metrics
		Addr string `env:"DEBUG_ADDR" default:"127.0.0.1:9100"`
	}

	ExternalAPIConfig struct {
		LocationIQapiKey string `env:"LOCATIONIQ_API_KEY"`
	}
)

func NewConfig(filepath string) (*Config, error) {
	cfg := &Config{}

	// Loading enviromental variables and parsing to config struct.
	if err := configparser.LoadAndParseYaml(filepath, cfg); err != nil {
		return nil, fmt.Errorf("failed to load and parse config: %w", err)
	}

	return cfg, nil
}
