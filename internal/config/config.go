package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the funnel.
type Config struct {

	// Network identity of the DA chain (tags extension datums)
	NetworkName string

	// Chain endpoints
	EVMRPCURL        string
	DARPCURL         string
	DALightClientURL string
	DAWSURL          string

	// Correlation
	ConfirmationDepth uint64 // DA blocks to lag behind the finalized tip
	DelaySeconds      int64  // seconds subtracted from primary timestamps
	BlockGroupSize    uint64 // max DA headers fetched per chunk
	PollInterval      time.Duration

	// Phase boundaries
	StartingBlockHeight uint64 // primary height where sync begins
	DAStartBlock        uint64 // DA height where presync ends

	// RPC rate limiting
	RPCRPS   int
	RPCBurst int

	// PostgreSQL
	PostgresURL string

	// Redis
	RedisURL    string
	BlocksTopic string

	// WebSocket head listener
	WSEnabled        bool
	WSMaxRetries     int
	WSReconnectDelay time.Duration

	// Logging
	LogLevel string

	// HTTP status API
	HTTPEnabled bool
	HTTPAddr    string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Defaults
		NetworkName:       "da",
		ConfirmationDepth: 1,
		DelaySeconds:      0,
		BlockGroupSize:    100,
		PollInterval:      500 * time.Millisecond,
		RPCRPS:            20,
		RPCBurst:          40,
		BlocksTopic:       "funnel-blocks",
		WSEnabled:         false,
		WSMaxRetries:      25,
		WSReconnectDelay:  time.Second,
		LogLevel:          "info",
		HTTPAddr:          ":8080",
	}

	// Required
	cfg.EVMRPCURL = os.Getenv("EVM_RPC_URL")
	if cfg.EVMRPCURL == "" {
		return nil, fmt.Errorf("EVM_RPC_URL is required")
	}

	cfg.DARPCURL = os.Getenv("DA_RPC_URL")
	if cfg.DARPCURL == "" {
		return nil, fmt.Errorf("DA_RPC_URL is required")
	}

	cfg.DALightClientURL = os.Getenv("DA_LIGHT_CLIENT_URL")
	if cfg.DALightClientURL == "" {
		return nil, fmt.Errorf("DA_LIGHT_CLIENT_URL is required")
	}

	cfg.PostgresURL = os.Getenv("POSTGRES_URL")
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL is required")
	}

	if v := os.Getenv("STARTING_BLOCK_HEIGHT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("STARTING_BLOCK_HEIGHT: %w", err)
		}
		cfg.StartingBlockHeight = n
	} else {
		return nil, fmt.Errorf("STARTING_BLOCK_HEIGHT is required")
	}

	// Optional overrides
	cfg.RedisURL = os.Getenv("REDIS_URL")

	if v := os.Getenv("NETWORK_NAME"); v != "" {
		cfg.NetworkName = v
	}

	cfg.DAWSURL = os.Getenv("DA_WS_URL")

	if v := os.Getenv("DA_START_BLOCK"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.DAStartBlock = n
		}
	}

	if v := os.Getenv("CONFIRMATION_DEPTH"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ConfirmationDepth = n
		}
	}

	if v := os.Getenv("FUNNEL_DELAY_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DelaySeconds = n
		}
	}

	if v := os.Getenv("FUNNEL_BLOCK_GROUP_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.BlockGroupSize = n
		}
	}

	if v := os.Getenv("FUNNEL_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}

	if v := os.Getenv("RPC_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCRPS = n
		}
	}

	if v := os.Getenv("RPC_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCBurst = n
		}
	}

	if v := os.Getenv("BLOCKS_TOPIC"); v != "" {
		cfg.BlocksTopic = v
	}

	if v := os.Getenv("WS_ENABLED"); v != "" {
		cfg.WSEnabled = v == "true" || v == "1"
	}

	if v := os.Getenv("WS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WSMaxRetries = n
		}
	}

	if v := os.Getenv("WS_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WSReconnectDelay = d
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("HTTP_ENABLED"); v != "" {
		cfg.HTTPEnabled = v == "true" || v == "1"
	}

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if cfg.WSEnabled && cfg.DAWSURL == "" {
		return nil, fmt.Errorf("DA_WS_URL is required when WS_ENABLED is set")
	}

	return cfg, nil
}
