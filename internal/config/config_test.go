package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadFile tests configuration loading with file and environment sources
func TestLoadFile(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		setupEnv    func(t *testing.T)
		fileContent string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with explicit paths",
			setupEnv: func(t *testing.T) {
				t.Setenv("ISXLIC_PATHS_DATA_DIR", filepath.Join(tempDir, "data"))
				t.Setenv("ISXLIC_PATHS_LOGS_DIR", filepath.Join(tempDir, "logs"))
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "auto", cfg.Store.Backend)
				assert.Equal(t, "isx-license", cfg.Store.Service)
				assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
				assert.Equal(t, "file", cfg.Storage.Driver)
				assert.Equal(t, 30, cfg.Trial.MaxDays)
				assert.Equal(t, 5, cfg.Guard.MaxFailures)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, filepath.Join(tempDir, "data"), cfg.Paths.DataDir)
			},
		},
		{
			name: "file values are applied",
			setupEnv: func(t *testing.T) {
				t.Setenv("ISXLIC_PATHS_DATA_DIR", tempDir)
				t.Setenv("ISXLIC_PATHS_LOGS_DIR", tempDir)
			},
			fileContent: "server:\n  port: 9191\nstore:\n  backend: file\ntrial:\n  max_days: 14\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9191, cfg.Server.Port)
				assert.Equal(t, "file", cfg.Store.Backend)
				assert.Equal(t, 14, cfg.Trial.MaxDays)
				// untouched sections keep their defaults
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
			},
		},
		{
			name: "environment overrides file",
			setupEnv: func(t *testing.T) {
				t.Setenv("ISXLIC_PATHS_DATA_DIR", tempDir)
				t.Setenv("ISXLIC_PATHS_LOGS_DIR", tempDir)
				t.Setenv("ISXLIC_SERVER_PORT", "7070")
				t.Setenv("ISXLIC_LOGGING_FORMAT", "text")
			},
			fileContent: "server:\n  port: 9191\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, "json", cfg.Logging.Format, "format is always forced to json")
			},
		},
		{
			name: "invalid port number",
			setupEnv: func(t *testing.T) {
				t.Setenv("ISXLIC_PATHS_DATA_DIR", tempDir)
				t.Setenv("ISXLIC_PATHS_LOGS_DIR", tempDir)
				t.Setenv("ISXLIC_SERVER_PORT", "99999")
			},
			wantErr: true,
		},
		{
			name: "unknown store backend",
			setupEnv: func(t *testing.T) {
				t.Setenv("ISXLIC_PATHS_DATA_DIR", tempDir)
				t.Setenv("ISXLIC_PATHS_LOGS_DIR", tempDir)
				t.Setenv("ISXLIC_STORE_BACKEND", "registry")
			},
			wantErr: true,
		},
		{
			name: "postgres driver without dsn",
			setupEnv: func(t *testing.T) {
				t.Setenv("ISXLIC_PATHS_DATA_DIR", tempDir)
				t.Setenv("ISXLIC_PATHS_LOGS_DIR", tempDir)
				t.Setenv("ISXLIC_STORAGE_DRIVER", "postgres")
			},
			wantErr: true,
		},
		{
			name: "malformed yaml",
			setupEnv: func(t *testing.T) {
				t.Setenv("ISXLIC_PATHS_DATA_DIR", tempDir)
				t.Setenv("ISXLIC_PATHS_LOGS_DIR", tempDir)
			},
			fileContent: "server: [unclosed",
			wantErr:     true,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setupEnv != nil {
				tt.setupEnv(t)
			}

			path := ""
			if tt.fileContent != "" {
				path = filepath.Join(t.TempDir(), "licensed.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.fileContent), 0600), "case %d", i)
			}

			cfg, err := LoadFile(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

// TestLoadFileMissing tests that a missing explicit file is an error
func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// TestDefault tests the default configuration
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "prometheus", cfg.Telemetry.MetricExporter)
	assert.Equal(t, 15*time.Minute, cfg.Guard.BlockDuration)
}

// TestKeysDecode tests base64 key decoding
func TestKeysDecode(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	secret := []byte("0123456789abcdef0123456789abcdef")

	t.Run("all keys", func(t *testing.T) {
		keys, err := KeysConfig{
			HMACSecret:       base64.StdEncoding.EncodeToString(secret),
			Ed25519PublicKey: base64.StdEncoding.EncodeToString(pub),
		}.Decode()
		require.NoError(t, err)
		assert.Equal(t, secret, keys.HMACSecret)
		assert.Equal(t, pub, keys.Ed25519PublicKey)
		assert.Equal(t, secret, keys.IssuerSecret, "issuer secret falls back to the hmac secret")
	})

	t.Run("url safe encoding accepted", func(t *testing.T) {
		keys, err := KeysConfig{HMACSecret: base64.RawURLEncoding.EncodeToString(secret)}.Decode()
		require.NoError(t, err)
		assert.Equal(t, secret, keys.HMACSecret)
	})

	t.Run("short hmac secret", func(t *testing.T) {
		_, err := KeysConfig{HMACSecret: base64.StdEncoding.EncodeToString([]byte("short"))}.Decode()
		assert.Error(t, err)
	})

	t.Run("wrong public key size", func(t *testing.T) {
		_, err := KeysConfig{Ed25519PublicKey: base64.StdEncoding.EncodeToString([]byte("0123"))}.Decode()
		assert.Error(t, err)
	})

	t.Run("empty config", func(t *testing.T) {
		keys, err := KeysConfig{}.Decode()
		require.NoError(t, err)
		assert.Nil(t, keys.HMACSecret)
		assert.Nil(t, keys.Ed25519PublicKey)
	})
}
