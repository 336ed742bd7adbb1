package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the daemon.
type Config struct {
	Main     MainConfig     `yaml:"main"`
	Database DatabaseConfig `yaml:"database"`

	// Adapters holds one settings section per storage adapter, keyed by
	// the adapter's registered name.
	Adapters map[string]map[string]string `yaml:"adapters"`

	PKI PKIConfig `yaml:"pki"`

	// Extensions holds named X.509 extension sections referenced by the
	// pki section.
	Extensions map[string]map[string]string `yaml:"extensions"`
}

// MainConfig contains process-level configuration.
type MainConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PidPath   string `yaml:"pid"`
}

// DatabaseConfig contains datastore configuration.
type DatabaseConfig struct {
	Adapter string `yaml:"adapter"`

	// PollTime is the number of seconds between two cache refreshes
	// from the adapter.
	PollTime float64 `yaml:"db_poll_time"`

	// WaitTime is the number of seconds to wait between delivery
	// attempts of a pending update, and between reconnection attempts
	// of the scheduler.
	WaitTime float64 `yaml:"db_wait_time"`

	// CertPollTime is the number of seconds between two certificate
	// lifecycle passes.
	CertPollTime float64 `yaml:"cert_poll_time"`
}

// PKIConfig contains certificate authority and issuance configuration.
type PKIConfig struct {
	CA     string `yaml:"ca"`
	CAKey  string `yaml:"ca_key"`

	CertDirectory          string `yaml:"cert_directory"`
	NewCertKeySize         int    `yaml:"new_cert_key_size"`
	Digest                 string `yaml:"digest"`
	KeepCertificateRequest bool   `yaml:"keep_certificate_request"`

	// ClientExtensions and ServerExtensions name the extension sections
	// applied to client and server certificates.
	ClientExtensions string `yaml:"client_extensions"`
	ServerExtensions string `yaml:"server_extensions"`
}

// defaults fills unset options with their default values.
func (c *Config) defaults() {
	if c.Main.LogLevel == "" {
		c.Main.LogLevel = "info"
	}
	if c.Main.LogFormat == "" {
		c.Main.LogFormat = "text"
	}
	if c.Main.PidPath == "" {
		c.Main.PidPath = "/var/run/openvpn-uam.pid"
	}
	if c.Database.PollTime == 0 {
		c.Database.PollTime = 600
	}
	if c.Database.WaitTime == 0 {
		c.Database.WaitTime = 30
	}
	if c.Database.CertPollTime == 0 {
		c.Database.CertPollTime = 600
	}
	if c.PKI.CertDirectory == "" {
		c.PKI.CertDirectory = "certificates/"
	}
	if c.PKI.NewCertKeySize == 0 {
		c.PKI.NewCertKeySize = 2048
	}
	if c.PKI.Digest == "" {
		c.PKI.Digest = "sha512"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Main.LogLevel] {
		return fmt.Errorf("main.log_level must be one of: debug, info, warn, error")
	}
	if c.Main.LogFormat != "json" && c.Main.LogFormat != "text" {
		return fmt.Errorf("main.log_format must be 'json' or 'text'")
	}

	// Database validation
	if c.Database.Adapter == "" {
		return fmt.Errorf("database.adapter is required")
	}
	if _, ok := c.Adapters[c.Database.Adapter]; !ok {
		return fmt.Errorf("adapters.%s section is required for the configured adapter", c.Database.Adapter)
	}
	if c.Database.PollTime <= 0 {
		return fmt.Errorf("database.db_poll_time must be positive")
	}
	if c.Database.WaitTime <= 0 {
		return fmt.Errorf("database.db_wait_time must be positive")
	}
	if c.Database.CertPollTime <= 0 {
		return fmt.Errorf("database.cert_poll_time must be positive")
	}

	// PKI validation
	if c.PKI.CA == "" {
		return fmt.Errorf("pki.ca is required")
	}
	if c.PKI.CAKey == "" {
		return fmt.Errorf("pki.ca_key is required")
	}
	if c.PKI.NewCertKeySize < 2048 {
		return fmt.Errorf("pki.new_cert_key_size must be at least 2048")
	}
	validDigests := map[string]bool{"sha256": true, "sha384": true, "sha512": true}
	if !validDigests[c.PKI.Digest] {
		return fmt.Errorf("pki.digest must be one of: sha256, sha384, sha512")
	}
	for _, section := range []string{c.PKI.ClientExtensions, c.PKI.ServerExtensions} {
		if section == "" {
			continue
		}
		if _, ok := c.Extensions[section]; !ok {
			return fmt.Errorf("extensions.%s section referenced by pki is missing", section)
		}
	}

	return nil
}

// PollInterval returns the cache poll time as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Database.PollTime * float64(time.Second))
}

// WaitInterval returns the update retry cooldown as a duration.
func (c *Config) WaitInterval() time.Duration {
	return time.Duration(c.Database.WaitTime * float64(time.Second))
}

// CertPollInterval returns the lifecycle pass interval as a duration.
func (c *Config) CertPollInterval() time.Duration {
	return time.Duration(c.Database.CertPollTime * float64(time.Second))
}

// AdapterSection returns the settings section of the configured adapter.
func (c *Config) AdapterSection() map[string]string {
	return c.Adapters[c.Database.Adapter]
}

// ExtensionSection returns the named extension section, or nil.
func (c *Config) ExtensionSection(name string) map[string]string {
	return c.Extensions[name]
}
