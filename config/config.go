// Package config holds the authenticator device configuration. The
// configuration is an explicit struct handed to the command engine at
// construction, optionally loaded from a TOML file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the device configuration.
type Config struct {
	// PresenceTimeoutMS bounds how long a user-presence request may block,
	// in milliseconds.
	PresenceTimeoutMS int `toml:"presence_timeout_ms"`

	// MultiReset permits more than one factory reset per boot and lifts
	// the first-command restriction. Test and development builds only.
	MultiReset bool `toml:"multi_reset"`

	// MaxCredentialsPerRP bounds the discoverable credentials stored for a
	// single relying party.
	MaxCredentialsPerRP int `toml:"max_credentials_per_rp"`

	// MaxCredentials bounds the discoverable credentials stored on the
	// device.
	MaxCredentials int `toml:"max_credentials"`

	// MaxPINRetries is the cumulative PIN failure ceiling. Exhausting it
	// locks the device until factory reset.
	MaxPINRetries int `toml:"max_pin_retries"`

	// MaxConsecutivePINFailures is the per-boot failure ceiling. Reaching
	// it locks PIN operations until power cycle.
	MaxConsecutivePINFailures int `toml:"max_consecutive_pin_failures"`

	// StorePath is the database file of the sqlite store backend. Empty
	// selects the in-memory backend.
	StorePath string `toml:"store_path"`
}

// Default returns the standard device configuration.
func Default() Config {
	return Config{
		PresenceTimeoutMS:         30_000,
		MaxCredentialsPerRP:       8,
		MaxCredentials:            64,
		MaxPINRetries:             8,
		MaxConsecutivePINFailures: 3,
	}
}

// Load reads a TOML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot load config %s: %w", path, err)
	}
	return cfg, nil
}

// PresenceTimeout returns the user-presence timeout as a duration.
func (c Config) PresenceTimeout() time.Duration {
	return time.Duration(c.PresenceTimeoutMS) * time.Millisecond
}
