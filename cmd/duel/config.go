package main

import (
	"fmt"
	"os"
	"time"

	"codeduel/internal/sandbox"
	"codeduel/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultBackendTimeout = 10 * time.Second
	defaultGracePeriod    = 10 * time.Second
	defaultMatchDuration  = 60 * time.Minute
)

// RelayConfig holds signaling relay settings.
type RelayConfig struct {
	URL string `yaml:"url"`
}

// BackendConfig holds collaborator endpoint settings.
type BackendConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// ICEConfig holds NAT traversal settings. STUN only; no TURN fallback.
type ICEConfig struct {
	Servers     []string      `yaml:"servers"`
	GracePeriod time.Duration `yaml:"gracePeriod"`
}

// MatchConfig holds match timing settings.
type MatchConfig struct {
	Duration time.Duration `yaml:"duration"`
}

// SandboxConfig holds per-language execution budgets.
type SandboxConfig struct {
	Timeouts sandbox.Timeouts `yaml:"timeouts"`
}

// AppConfig holds the engine config.
type AppConfig struct {
	Relay   RelayConfig   `yaml:"relay"`
	Backend BackendConfig `yaml:"backend"`
	ICE     ICEConfig     `yaml:"ice"`
	Match   MatchConfig   `yaml:"match"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Logger  logger.Config `yaml:"logger"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadAppConfig loads and validates the engine config. Missing relay or
// backend addresses are hard startup errors reported as status strings.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Relay.URL == "" {
		return nil, fmt.Errorf("signaling relay url is required")
	}
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = defaultBackendTimeout
	}
	if cfg.ICE.GracePeriod == 0 {
		cfg.ICE.GracePeriod = defaultGracePeriod
	}
	if cfg.Match.Duration == 0 {
		cfg.Match.Duration = defaultMatchDuration
	}
	return &cfg, nil
}
