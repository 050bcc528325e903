package config

import (
	"fmt"
	"strings"
)

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server APIServerConfig `yaml:"server" mapstructure:"server"`
	Auth   APIAuthConfig   `yaml:"auth" mapstructure:"auth"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Ingest  RateLimitTier `yaml:"ingest,omitempty" mapstructure:"ingest"`
	Public  RateLimitTier `yaml:"public,omitempty" mapstructure:"public"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings for build submission.
type APIAuthConfig struct {
	Basic BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures username/password authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user from config. PasswordHash is a
// bcrypt hash.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// ValidateAPI checks the api section for errors.
func (c *Config) ValidateAPI() error {
	if c.API == nil {
		return fmt.Errorf("api section is required")
	}

	rl := c.API.Server.RateLimit
	if rl.Enabled && (rl.Ingest.RequestsPerMinute <= 0 || rl.Public.RequestsPerMinute <= 0) {
		return fmt.Errorf("rate_limit: requests_per_minute must be positive for every tier")
	}

	if !c.API.Auth.Basic.Enabled {
		return nil
	}

	if len(c.API.Auth.Basic.Users) == 0 {
		return fmt.Errorf("auth.basic: at least one user is required when enabled")
	}

	seen := make(map[string]struct{}, len(c.API.Auth.Basic.Users))

	for i, u := range c.API.Auth.Basic.Users {
		if u.Username == "" {
			return fmt.Errorf("auth.basic: user %d: username is required", i)
		}

		if _, ok := seen[u.Username]; ok {
			return fmt.Errorf("auth.basic: duplicate user %q", u.Username)
		}

		seen[u.Username] = struct{}{}

		if !strings.HasPrefix(u.PasswordHash, "$2") {
			return fmt.Errorf("auth.basic: user %q: password_hash must be a bcrypt hash", u.Username)
		}
	}

	return nil
}
