// Package config loads meshd's JSON configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/meshnet/internal/auth"
	"github.com/luciancaetano/meshnet/internal/inorder"
	"github.com/luciancaetano/meshnet/internal/protocol"
	"github.com/luciancaetano/meshnet/internal/websocket"
)

// RateLimit mirrors websocket.RateLimitConfig.
type RateLimit struct {
	Enabled           bool    `json:"enabled"`
	MessagesPerSecond float64 `json:"messagesPerSecond"`
	Burst             int     `json:"burst"`
}

// Config is the on-disk server configuration. Durations ending in Ms are
// milliseconds.
type Config struct {
	Addr string `json:"addr"`
	Path string `json:"path"`

	AckTimeoutMs   int64 `json:"ackTimeoutMs"`
	PingIntervalMs int64 `json:"pingIntervalMs"`
	// PingTimeoutMs of 0 or less keeps silent sockets open.
	PingTimeoutMs int64 `json:"pingTimeoutMs"`

	AllowClientPublish bool `json:"allowClientPublish"`
	SocketChannelLimit int  `json:"socketChannelLimit"`

	AuthAlgorithm string `json:"authAlgorithm"`
	// AuthKey is the HS* shared secret.
	AuthKey string `json:"authKey"`
	// AuthPrivateKey and AuthPublicKey hold PEM data or a path to a PEM file.
	AuthPrivateKey string `json:"authPrivateKey"`
	AuthPublicKey  string `json:"authPublicKey"`
	// DefaultExpiry is the token lifetime in seconds.
	DefaultExpiry    int64    `json:"defaultExpiry"`
	VerifyAlgorithms []string `json:"verifyAlgorithms"`

	Codec       string    `json:"codec"`
	CleanupMode string    `json:"cleanupMode"`
	RateLimit   RateLimit `json:"rateLimit"`
	LogLevel    string    `json:"logLevel"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	rl := websocket.DefaultRateLimitConfig()
	return Config{
		Addr:               ":8000",
		Path:               websocket.DefaultPath,
		AckTimeoutMs:       websocket.DefaultAckTimeout.Milliseconds(),
		PingIntervalMs:     websocket.DefaultPingInterval.Milliseconds(),
		PingTimeoutMs:      websocket.DefaultPingTimeout.Milliseconds(),
		AllowClientPublish: true,
		AuthAlgorithm:      auth.DefaultAlgorithm,
		DefaultExpiry:      int64(auth.DefaultExpiry / time.Second),
		Codec:              "json",
		CleanupMode:        inorder.ModeClose.String(),
		RateLimit: RateLimit{
			Enabled:           rl.Enabled,
			MessagesPerSecond: float64(rl.MessagesPerSecond),
			Burst:             rl.Burst,
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("the configuration file %s does not contain valid JSON: %w", path, err)
	}
	return cfg, nil
}

// ServerConfig converts c into a websocket.ServerConfig.
func (c Config) ServerConfig(logger *slog.Logger) (*websocket.ServerConfig, error) {
	key, err := c.authKey()
	if err != nil {
		return nil, err
	}

	if c.DefaultExpiry < 0 {
		return nil, fmt.Errorf("defaultExpiry must not be negative, got %d", c.DefaultExpiry)
	}

	var codec protocol.Codec
	switch c.Codec {
	case "", "json":
		codec = protocol.JSONCodec{}
	case "binary":
		codec = protocol.BinaryCodec{}
	default:
		return nil, fmt.Errorf("unknown codec %q", c.Codec)
	}

	mode, err := inorder.ParseMode(c.CleanupMode)
	if err != nil {
		return nil, err
	}

	rl := websocket.NoRateLimit()
	if c.RateLimit.Enabled {
		rl = &websocket.RateLimitConfig{
			Enabled:           true,
			MessagesPerSecond: rate.Limit(c.RateLimit.MessagesPerSecond),
			Burst:             c.RateLimit.Burst,
		}
	}

	return &websocket.ServerConfig{
		Addr:                 c.Addr,
		Path:                 c.Path,
		RateLimitConfig:      rl,
		AckTimeout:           time.Duration(c.AckTimeoutMs) * time.Millisecond,
		PingInterval:         time.Duration(c.PingIntervalMs) * time.Millisecond,
		PingTimeout:          time.Duration(max(c.PingTimeoutMs, 0)) * time.Millisecond,
		PingTimeoutDisabled:  c.PingTimeoutMs <= 0,
		DisableClientPublish: !c.AllowClientPublish,
		SocketChannelLimit:   c.SocketChannelLimit,
		Auth: auth.Options{
			Algorithm:        c.AuthAlgorithm,
			Key:              key,
			DefaultExpiry:    time.Duration(c.DefaultExpiry) * time.Second,
			VerifyAlgorithms: c.VerifyAlgorithms,
		},
		Codec:       codec,
		CleanupMode: mode,
		Logger:      logger,
	}, nil
}

func (c Config) authKey() (auth.Key, error) {
	if c.AuthPrivateKey == "" && c.AuthPublicKey == "" {
		if c.AuthKey == "" {
			return auth.Key{}, nil
		}
		return auth.SharedKey([]byte(c.AuthKey)), nil
	}

	priv, err := readPEM(c.AuthPrivateKey)
	if err != nil {
		return auth.Key{}, fmt.Errorf("authPrivateKey: %w", err)
	}
	pub, err := readPEM(c.AuthPublicKey)
	if err != nil {
		return auth.Key{}, fmt.Errorf("authPublicKey: %w", err)
	}
	return auth.ParseKeyPair(c.AuthAlgorithm, priv, pub)
}

func readPEM(v string) ([]byte, error) {
	if v == "" {
		return nil, errors.New("missing key")
	}
	if strings.HasPrefix(strings.TrimSpace(v), "-----BEGIN") {
		return []byte(v), nil
	}
	return os.ReadFile(v)
}
