// Package config loads lspmux's two configuration surfaces: the mandatory
// backend list (spec.md §6, a JSON array passed as the sole CLI argument)
// and the ambient proxy settings (log level, queue bounds, timeouts) that
// spec.md leaves to the implementation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// BackendConfig is one element of the backend-list JSON array (spec.md §6).
type BackendConfig struct {
	Cmd  string   `json:"cmd,omitempty"`
	Args []string `json:"args,omitempty"`

	Port int    `json:"port,omitempty"`
	Host string `json:"host,omitempty"`

	InitializationOptions json.RawMessage `json:"initializationOptions,omitempty"`

	UseCompletion     bool `json:"useCompletion,omitempty"`
	UseSignatureHelp  bool `json:"useSignatureHelp,omitempty"`
	UseFormatting     bool `json:"useFormatting,omitempty"`
	UseExecuteCommand bool `json:"useExecuteCommand,omitempty"`
	UseDiagnostics    *bool `json:"useDiagnostics,omitempty"`
}

// diagnosticsDefault is the default for UseDiagnostics when omitted (spec.md §6: true).
const diagnosticsDefault = true

// DiagnosticsEnabled returns the effective useDiagnostics value, applying
// the documented default of true when the field was omitted.
func (b BackendConfig) DiagnosticsEnabled() bool {
	if b.UseDiagnostics == nil {
		return diagnosticsDefault
	}
	return *b.UseDiagnostics
}

// EffectiveHost returns the configured host, defaulting to 127.0.0.1.
func (b BackendConfig) EffectiveHost() string {
	if b.Host == "" {
		return "127.0.0.1"
	}
	return b.Host
}

// IsTCP reports whether this backend connects over TCP rather than spawning
// a child process.
func (b BackendConfig) IsTCP() bool {
	return b.Port != 0
}

// Validate checks the mutual-exclusivity and required-field rules from
// spec.md §6: at most one of cmd/port per element, and exactly one must be set.
func (b BackendConfig) Validate(index int) error {
	hasCmd := b.Cmd != ""
	hasPort := b.Port != 0
	switch {
	case hasCmd && hasPort:
		return fmt.Errorf("backend %d: cmd and port are mutually exclusive", index)
	case !hasCmd && !hasPort:
		return fmt.Errorf("backend %d: one of cmd or port is required", index)
	}
	return nil
}

// LoadBackends parses and validates the backend-list JSON array from path.
//
// This is intentionally plain encoding/json rather than koanf: koanf's
// providers model a key-value tree rooted at a JSON object, and spec.md §6
// mandates a bare top-level array. Forcing that shape through koanf would
// fight the format the spec requires (see DESIGN.md).
func LoadBackends(path string) ([]BackendConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var backends []BackendConfig
	if err := json.Unmarshal(data, &backends); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("config must declare at least one backend")
	}
	for i, b := range backends {
		if err := b.Validate(i); err != nil {
			return nil, err
		}
	}
	return backends, nil
}
