package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment
// variable overrides.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if adapter := os.Getenv("OPENVPN_UAM_ADAPTER"); adapter != "" {
		cfg.Database.Adapter = adapter
	}
	if ca := os.Getenv("OPENVPN_UAM_CA"); ca != "" {
		cfg.PKI.CA = ca
	}
	if caKey := os.Getenv("OPENVPN_UAM_CA_KEY"); caKey != "" {
		cfg.PKI.CAKey = caKey
	}
	if certDir := os.Getenv("OPENVPN_UAM_CERT_DIRECTORY"); certDir != "" {
		cfg.PKI.CertDirectory = certDir
	}
	if logLevel := os.Getenv("OPENVPN_UAM_LOG_LEVEL"); logLevel != "" {
		cfg.Main.LogLevel = logLevel
	}

	// Validate again after env overrides
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}
