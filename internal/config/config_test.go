package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharflab/lspmux/internal/config"
)

func TestLoadBackends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "backends.json")
	body := `[
		{"cmd": "gopls", "useCompletion": true},
		{"port": 9000, "host": "localhost", "useDiagnostics": false}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	backends, err := config.LoadBackends(path)
	require.NoError(t, err)
	require.Len(t, backends, 2)

	assert.Equal(t, "gopls", backends[0].Cmd)
	assert.True(t, backends[0].UseCompletion)
	assert.False(t, backends[0].IsTCP())
	assert.True(t, backends[0].DiagnosticsEnabled())

	assert.True(t, backends[1].IsTCP())
	assert.Equal(t, "localhost", backends[1].EffectiveHost())
	assert.False(t, backends[1].DiagnosticsEnabled())
}

func TestLoadBackends_EmptyArray(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "backends.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

	_, err := config.LoadBackends(path)
	assert.Error(t, err)
}

func TestLoadBackends_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.LoadBackends(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestBackendConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.BackendConfig
		wantErr bool
	}{
		{"cmd only", config.BackendConfig{Cmd: "gopls"}, false},
		{"port only", config.BackendConfig{Port: 9000}, false},
		{"both set", config.BackendConfig{Cmd: "gopls", Port: 9000}, true},
		{"neither set", config.BackendConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate(0)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEffectiveHost_Default(t *testing.T) {
	t.Parallel()
	var b config.BackendConfig
	assert.Equal(t, "127.0.0.1", b.EffectiveHost())
}

func TestDefaultSettings(t *testing.T) {
	t.Parallel()
	s := config.DefaultSettings()
	assert.Equal(t, "info", s.LogLevel)
	assert.Positive(t, s.BackendQueueSize)
	assert.Positive(t, s.InitializeTimeoutSeconds)
}

func TestLoadSettings_EnvOverride(t *testing.T) {
	t.Setenv("LSPMUX_LOG_LEVEL", "debug")
	t.Setenv("LSPMUX_BACKEND_QUEUE_SIZE", "64")

	s, err := config.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 64, s.BackendQueueSize)
}

func TestBackendConfig_InitializationOptionsRoundTrip(t *testing.T) {
	t.Parallel()
	var b config.BackendConfig
	require.NoError(t, json.Unmarshal([]byte(`{"cmd":"gopls","initializationOptions":{"foo":"bar"}}`), &b))
	assert.JSONEq(t, `{"foo":"bar"}`, string(b.InitializationOptions))
}
