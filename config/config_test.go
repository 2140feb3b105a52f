package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/jwtsecrets/logger"
)

const sampleConfig = `
log_level  = "debug"
log_format = "json"
log_file   = "/var/log/jwtsecrets.log"
log_rotate_max_files = 3
cache_size = 512
rate_limit = 50.5

listener "tcp" {
  address     = "0.0.0.0:8200"
  tls_disable = true
}

storage "postgres" {
  connection_url = "postgres://localhost/jwt"
  max_parallel   = 8
}

mount "jwt" {
  max_ttl  = "24h"
  emit_nbf = true
}

mount "partners/" {
  type    = "jwt"
  key_ttl = 3600
}
`

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig("config.hcl", []byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 512, c.CacheSize)
	assert.Equal(t, 50.5, c.RateLimit)
	require.Len(t, c.Listeners, 1)
	assert.Equal(t, "0.0.0.0:8200", c.Listeners[0].Address)
	assert.True(t, c.Listeners[0].TLSDisable)

	require.NotNil(t, c.Storage)
	assert.Equal(t, "postgres", c.Storage.Type)
	assert.Equal(t, map[string]string{
		"connection_url": "postgres://localhost/jwt",
		"max_parallel":   "8",
	}, c.Storage.Config())

	require.Len(t, c.Mounts, 2)
	assert.Equal(t, "jwt", c.Mounts[0].Path)
	assert.Equal(t, DefaultMountType, c.Mounts[0].Type)
	assert.Equal(t, map[string]string{"max_ttl": "24h", "emit_nbf": "true"}, c.Mounts[0].Config())
	assert.Equal(t, map[string]string{"key_ttl": "3600"}, c.Mounts[1].Config())
}

func TestParseConfig_Defaults(t *testing.T) {
	c, err := ParseConfig("config.hcl", []byte(`
listener "tcp" {
  tls_disable = true
}
storage "inmem" {}
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, c.Listeners[0].Address)
	require.Len(t, c.Mounts, 1)
	assert.Equal(t, DefaultMountPath, c.Mounts[0].Path)
	assert.Empty(t, c.Storage.Config())
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := map[string]struct {
		src     string
		wantErr string
	}{
		"no listener": {
			src:     `storage "inmem" {}`,
			wantErr: "at least one listener block is required",
		},
		"no storage": {
			src:     `listener "tcp" { tls_disable = true }`,
			wantErr: "a storage block is required",
		},
		"tls without files": {
			src:     "listener \"tcp\" {}\nstorage \"inmem\" {}",
			wantErr: "tls_cert_file and tls_key_file are required",
		},
		"unknown listener": {
			src:     "listener \"unix\" { tls_disable = true }\nstorage \"inmem\" {}",
			wantErr: `listener "unix": unsupported type`,
		},
		"duplicate mount": {
			src:     "listener \"tcp\" { tls_disable = true }\nstorage \"inmem\" {}\nmount \"jwt\" {}\nmount \"jwt/\" {}",
			wantErr: `mount "jwt" declared twice`,
		},
		"bad format": {
			src:     "log_format = \"xml\"\nlistener \"tcp\" { tls_disable = true }\nstorage \"inmem\" {}",
			wantErr: "log_format must be",
		},
		"negative rate": {
			src:     "rate_limit = -1\nlistener \"tcp\" { tls_disable = true }\nstorage \"inmem\" {}",
			wantErr: "must not be negative",
		},
		"syntax": {
			src:     `listener "tcp" {`,
			wantErr: "config.hcl",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig("config.hcl", []byte(tc.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, c.Mounts, 2)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}

func TestDevConfig(t *testing.T) {
	c := DevConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, "inmem", c.Storage.Type)
	assert.Equal(t, DefaultMountPath, c.Mounts[0].Path)
	assert.True(t, c.Listeners[0].TLSDisable)
}

func TestLoggerConfig(t *testing.T) {
	c, err := ParseConfig("config.hcl", []byte(sampleConfig))
	require.NoError(t, err)

	lc := c.LoggerConfig()
	assert.Equal(t, logger.DebugLevel, lc.Level)
	assert.Equal(t, logger.JSONFormat, lc.Format)
	require.NotNil(t, lc.FileConfig)
	assert.Equal(t, "/var/log/jwtsecrets.log", lc.FileConfig.Filename)
	assert.Equal(t, 3, lc.FileConfig.MaxBackups)
	assert.Equal(t, 100, lc.FileConfig.MaxSize)

	assert.Nil(t, DevConfig().LoggerConfig().FileConfig)
}
