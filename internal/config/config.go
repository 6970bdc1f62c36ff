// Package config provides configuration loading and persistence for discode.
//
// Configuration is loaded from:
// 1. ~/.discode/config.json (file)
// 2. Environment variables (override file values)
//
// Environment variables:
//   - DISCODE_HOOK_PORT: Port for the agent hook HTTP listener
//   - DISCODE_HOOK_TOKEN: Shared secret required on hook requests
//   - DISCODE_STREAM_SOCKET: Unix socket path for the terminal stream server
//   - DISCODE_SHOW_THINKING: Forward agent thinking output to chat
//   - DISCODE_SHOW_USAGE: Append usage summaries to final responses
//   - DISCODE_SUBMIT_DELAY_MS: Delay between typing a prompt and pressing enter
//   - DISCODE_BUFFER_FALLBACK_INITIAL_MS: First buffer-fallback capture delay
//   - DISCODE_BUFFER_FALLBACK_STABLE_MS: Interval between fallback stability checks
//   - DISCODE_CONFIG_DIR: Override config directory (for testing)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultHookPort is the port the hook listener binds when nothing else is
// configured.
const DefaultHookPort = 18470

// Config holds all configuration for the bridge daemon.
type Config struct {
	// HookPort is the localhost port agent hooks POST events to.
	HookPort int `json:"hook_port"`

	// HookToken is the shared secret hook requests must present.
	HookToken string `json:"hook_token,omitempty"`

	// StreamSocket is the unix socket path for terminal streaming.
	StreamSocket string `json:"stream_socket,omitempty"`

	// ShowThinking forwards the agent's thinking output to the channel.
	ShowThinking bool `json:"show_thinking"`

	// ShowUsage appends a usage summary to final responses.
	ShowUsage bool `json:"show_usage"`

	// SubmitDelayMs is the pause between typing a prompt into the agent
	// window and submitting it.
	SubmitDelayMs int `json:"submit_delay_ms"`

	// BufferFallbackInitialMs is the delay before the first buffer-fallback
	// capture after a routed message.
	BufferFallbackInitialMs int `json:"buffer_fallback_initial_ms"`

	// BufferFallbackStableMs is the interval between fallback stability
	// rechecks.
	BufferFallbackStableMs int `json:"buffer_fallback_stable_ms"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HookPort:                DefaultHookPort,
		HookToken:               "",
		StreamSocket:            "",
		ShowThinking:            false,
		ShowUsage:               false,
		SubmitDelayMs:           0,
		BufferFallbackInitialMs: 3000,
		BufferFallbackStableMs:  2000,
	}
}

// ConfigDir returns the configuration directory path, creating it if necessary.
// Respects DISCODE_CONFIG_DIR environment variable for testing.
func ConfigDir() (string, error) {
	if testDir := os.Getenv("DISCODE_CONFIG_DIR"); testDir != "" {
		if err := os.MkdirAll(testDir, 0700); err != nil {
			return "", fmt.Errorf("could not create config directory: %w", err)
		}
		return testDir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".discode")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("could not create config directory: %w", err)
	}

	return dir, nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration from file and applies environment variable overrides.
// Priority: Environment variables > config file > defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(); err != nil {
		// File doesn't exist or is invalid - use defaults
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// loadFromFile attempts to load configuration from the config file.
func (c *Config) loadFromFile() error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, c)
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("DISCODE_HOOK_TOKEN"); token != "" {
		c.HookToken = token
	}

	if socket := os.Getenv("DISCODE_STREAM_SOCKET"); socket != "" {
		c.StreamSocket = socket
	}

	if port := os.Getenv("DISCODE_HOOK_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil && val > 0 && val < 65536 {
			c.HookPort = val
		}
	}

	if v := os.Getenv("DISCODE_SHOW_THINKING"); v != "" {
		c.ShowThinking = EnvBool("DISCODE_SHOW_THINKING", c.ShowThinking)
	}

	if v := os.Getenv("DISCODE_SHOW_USAGE"); v != "" {
		c.ShowUsage = EnvBool("DISCODE_SHOW_USAGE", c.ShowUsage)
	}

	if v := os.Getenv("DISCODE_SUBMIT_DELAY_MS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val >= 0 {
			c.SubmitDelayMs = val
		}
	}

	if v := os.Getenv("DISCODE_BUFFER_FALLBACK_INITIAL_MS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			c.BufferFallbackInitialMs = val
		}
	}

	if v := os.Getenv("DISCODE_BUFFER_FALLBACK_STABLE_MS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			c.BufferFallbackStableMs = val
		}
	}
}

// Save writes configuration to the config file.
func (c *Config) Save() error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}

	return nil
}

// EnvBool reads a boolean environment variable. Accepts 1/0, true/false,
// yes/no; anything else returns the fallback.
func EnvBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "True", "yes", "YES":
		return true
	case "0", "false", "FALSE", "False", "no", "NO":
		return false
	}
	return fallback
}

// EnvInt reads an integer environment variable, returning the fallback when
// unset or unparsable.
func EnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	val, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return val
}
