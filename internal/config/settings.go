package config

import (
	"strings"

	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for lspmux's ambient-settings environment variables.
const EnvPrefix = "LSPMUX_"

// Settings holds ambient proxy behavior not covered by the backend-list
// JSON (spec.md §6 only specifies per-backend fields).
type Settings struct {
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `koanf:"log-level"`

	// BackendQueueSize bounds each backend's outbound write queue before the
	// Router applies backpressure to the client connection (spec.md §5).
	BackendQueueSize int `koanf:"backend-queue-size"`

	// InitializeTimeoutSeconds bounds how long the Router waits for a
	// backend to answer `initialize` before treating it as a fatal spawn
	// failure (spec.md §7).
	InitializeTimeoutSeconds int `koanf:"initialize-timeout-seconds"`
}

// DefaultSettings returns lspmux's built-in ambient settings.
func DefaultSettings() Settings {
	return Settings{
		LogLevel:                 "info",
		BackendQueueSize:         256,
		InitializeTimeoutSeconds: 30,
	}
}

// LoadSettings loads ambient settings from defaults overlaid by LSPMUX_*
// environment variables, following the same koanf layering tally's
// internal/config package uses for its own TALLY_* overrides.
func LoadSettings() (Settings, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultSettings(), "koanf"), nil); err != nil {
		return Settings{}, err
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKeyTransform,
	}), nil); err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// envKeyTransform converts LSPMUX_BACKEND_QUEUE_SIZE into backend-queue-size,
// mirroring tally's internal/config envKeyTransform.
func envKeyTransform(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	return s
}
