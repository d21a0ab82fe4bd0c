package config

import "fmt"

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
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings.
type APIAuthConfig struct {
	Basic BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures username/password authentication. Passwords
// are stored as bcrypt hashes.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user from config.
type BasicAuthUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// ValidateAPI checks the API section for errors.
func (c *Config) ValidateAPI() error {
	if c.API.Server.Listen == "" {
		return fmt.Errorf("api: server.listen is required")
	}

	if c.API.Server.RateLimit.Enabled && c.API.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("api: rate_limit.requests_per_minute must be positive")
	}

	if c.API.Auth.Basic.Enabled {
		if len(c.API.Auth.Basic.Users) == 0 {
			return fmt.Errorf("api: basic auth enabled without users")
		}

		seen := make(map[string]struct{}, len(c.API.Auth.Basic.Users))

		for i, u := range c.API.Auth.Basic.Users {
			if u.Username == "" {
				return fmt.Errorf("api: user %d: username is required", i)
			}

			if u.PasswordHash == "" {
				return fmt.Errorf("api: user %q: password_hash is required", u.Username)
			}

			if _, exists := seen[u.Username]; exists {
				return fmt.Errorf("api: duplicate user %q", u.Username)
			}

			seen[u.Username] = struct{}{}
		}
	}

	return nil
}
