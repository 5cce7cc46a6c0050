package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/meshnet/internal/auth"
	"github.com/luciancaetano/meshnet/internal/inorder"
	"github.com/luciancaetano/meshnet/internal/protocol"
	"github.com/luciancaetano/meshnet/internal/websocket"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    func(t *testing.T) string
		want    func(c *Config)
		wantErr bool
	}{
		{
			name: "empty path",
			path: func(*testing.T) string { return "" },
		},
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.json") },
		},
		{
			name: "partial file keeps defaults",
			path: func(t *testing.T) string {
				return writeFile(t, "c.json", `{"addr":":9000","pingTimeoutMs":0,"codec":"binary","defaultExpiry":3600}`)
			},
			want: func(c *Config) {
				c.Addr = ":9000"
				c.PingTimeoutMs = 0
				c.Codec = "binary"
				c.DefaultExpiry = 3600
			},
		},
		{
			name: "expiry in seconds",
			path: func(t *testing.T) string { return writeFile(t, "c.json", `{"defaultExpiry":86400}`) },
		},
		{
			name:    "expiry as duration string",
			path:    func(t *testing.T) string { return writeFile(t, "c.json", `{"defaultExpiry":"24h"}`) },
			wantErr: true,
		},
		{
			name:    "invalid json",
			path:    func(t *testing.T) string { return writeFile(t, "c.json", `{"addr":`) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Load(tt.path(t))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			want := Default()
			if tt.want != nil {
				tt.want(&want)
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestDefaultServerConfig(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sc, err := Default().ServerConfig(logger)
	require.NoError(t, err)

	assert.Equal(t, websocket.DefaultPath, sc.Path)
	assert.Equal(t, websocket.DefaultAckTimeout, sc.AckTimeout)
	assert.Equal(t, websocket.DefaultPingInterval, sc.PingInterval)
	assert.Equal(t, websocket.DefaultPingTimeout, sc.PingTimeout)
	assert.False(t, sc.PingTimeoutDisabled)
	assert.False(t, sc.DisableClientPublish)
	assert.Equal(t, websocket.DefaultRateLimitConfig(), sc.RateLimitConfig)
	assert.Equal(t, int64(86400), Default().DefaultExpiry)
	assert.Equal(t, auth.DefaultExpiry, sc.Auth.DefaultExpiry)
	assert.Equal(t, inorder.ModeClose, sc.CleanupMode)
	assert.IsType(t, protocol.JSONCodec{}, sc.Codec)
	assert.Same(t, logger, sc.Logger)

	_, err = websocket.New(sc)
	require.NoError(t, err)
}

func TestServerConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		edit    func(c *Config)
		check   func(t *testing.T, sc *websocket.ServerConfig)
		wantErr bool
	}{
		{
			name: "ping timeout disabled",
			edit: func(c *Config) { c.PingTimeoutMs = -1 },
			check: func(t *testing.T, sc *websocket.ServerConfig) {
				assert.True(t, sc.PingTimeoutDisabled)
				assert.Zero(t, sc.PingTimeout)
			},
		},
		{
			name: "client publish forbidden",
			edit: func(c *Config) { c.AllowClientPublish = false },
			check: func(t *testing.T, sc *websocket.ServerConfig) {
				assert.True(t, sc.DisableClientPublish)
			},
		},
		{
			name: "binary codec and kill mode",
			edit: func(c *Config) {
				c.Codec = "binary"
				c.CleanupMode = "kill"
			},
			check: func(t *testing.T, sc *websocket.ServerConfig) {
				assert.IsType(t, protocol.BinaryCodec{}, sc.Codec)
				assert.Equal(t, inorder.ModeKill, sc.CleanupMode)
			},
		},
		{
			name: "custom rate limit",
			edit: func(c *Config) { c.RateLimit = RateLimit{Enabled: true, MessagesPerSecond: 5, Burst: 10} },
			check: func(t *testing.T, sc *websocket.ServerConfig) {
				assert.Equal(t, &websocket.RateLimitConfig{Enabled: true, MessagesPerSecond: rate.Limit(5), Burst: 10}, sc.RateLimitConfig)
			},
		},
		{
			name: "rate limit off",
			edit: func(c *Config) { c.RateLimit.Enabled = false },
			check: func(t *testing.T, sc *websocket.ServerConfig) {
				assert.False(t, sc.RateLimitConfig.Enabled)
			},
		},
		{
			name: "shared key and expiry",
			edit: func(c *Config) {
				c.AuthKey = "secret"
				c.DefaultExpiry = 5400
			},
			check: func(t *testing.T, sc *websocket.ServerConfig) {
				assert.Equal(t, auth.SharedKey([]byte("secret")), sc.Auth.Key)
				assert.Equal(t, 90*time.Minute, sc.Auth.DefaultExpiry)
			},
		},
		{name: "unknown codec", edit: func(c *Config) { c.Codec = "xml" }, wantErr: true},
		{name: "unknown cleanup mode", edit: func(c *Config) { c.CleanupMode = "drain" }, wantErr: true},
		{name: "negative expiry", edit: func(c *Config) { c.DefaultExpiry = -1 }, wantErr: true},
		{
			name: "missing public key",
			edit: func(c *Config) {
				c.AuthAlgorithm = "ES256"
				c.AuthPrivateKey = "/does/not/matter"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := Default()
			tt.edit(&c)
			sc, err := c.ServerConfig(nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, sc)
		})
	}
}

func TestServerConfigKeyPairFromFiles(t *testing.T) {
	t.Parallel()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	privDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	privPEM := string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER}))
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))

	c := Default()
	c.AuthAlgorithm = "ES256"
	// One key inline, one from disk.
	c.AuthPrivateKey = privPEM
	c.AuthPublicKey = writeFile(t, "pub.pem", pubPEM)

	sc, err := c.ServerConfig(nil)
	require.NoError(t, err)

	engine, err := auth.New(sc.Auth)
	require.NoError(t, err)
	assert.Equal(t, "ES256", engine.Algorithm())
}
