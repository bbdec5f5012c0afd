package config_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/novatest/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}
	Storage struct {
		Driver string
		Prefix string
	}
	Redis struct {
		Addrs []string
	}
}

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		file   string
		env    map[string]string
		assert func(t *testing.T, c testConfig)
	}{
		"defaults should be kept without file and env": {
			assert: func(t *testing.T, c testConfig) {
				assert.EqualValues(t, 8080, c.HTTP.Port)
				assert.Equal(t, "memory", c.Storage.Driver)
			},
		},
		"file should override defaults": {
			file: "http:\n  port: 9090\nstorage:\n  driver: redis\nredis:\n  addrs: [\"localhost:6379\"]\n",
			assert: func(t *testing.T, c testConfig) {
				assert.EqualValues(t, 9090, c.HTTP.Port)
				assert.Equal(t, "redis", c.Storage.Driver)
				assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
				assert.Equal(t, "nova", c.Storage.Prefix)
			},
		},
		"env should override file": {
			file: "storage:\n  driver: redis\n",
			env:  map[string]string{"STORAGE_DRIVER": "postgres", "HTTP_PORT": "7070"},
			assert: func(t *testing.T, c testConfig) {
				assert.Equal(t, "postgres", c.Storage.Driver)
				assert.EqualValues(t, 7070, c.HTTP.Port)
			},
		},
		"env should reach keys absent from the file": {
			file: "http:\n  port: 9090\n",
			env:  map[string]string{"STORAGE_PREFIX": "staging"},
			assert: func(t *testing.T, c testConfig) {
				assert.EqualValues(t, 9090, c.HTTP.Port)
				assert.Equal(t, "staging", c.Storage.Prefix)
				assert.Equal(t, "memory", c.Storage.Driver)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			var file string
			if tt.file != "" {
				file = filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(file, []byte(tt.file), 0o600))
			}

			var c testConfig
			c.HTTP.Port = 8080
			c.Storage.Driver = "memory"
			c.Storage.Prefix = "nova"

			require.NoError(t, config.Load(file, &c))
			tt.assert(t, c)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConfig
	err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), &c)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := config.NewLogger(config.Log{Level: "warn", Format: "json"}, &buf)

	l.InfoContext(context.Background(), "hidden")
	l.WarnContext(context.Background(), "shown", "visitor", "v1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"visitor":"v1"`)

	assert.True(t, config.NewLogger(config.Log{Level: "nonsense"}, &buf).Enabled(context.Background(), slog.LevelInfo))
}
