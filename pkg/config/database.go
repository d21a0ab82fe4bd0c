package config

import "fmt"

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`
	PageSize  int    `yaml:"page_size,omitempty" mapstructure:"page_size"`
	CacheSize int    `yaml:"cache_size,omitempty" mapstructure:"cache_size"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// IsInMemory reports whether the database is a temporary SQLite database.
func (d *DatabaseConfig) IsInMemory() bool {
	return d.Driver == "sqlite" &&
		(d.SQLite.Path == InMemoryPath || d.SQLite.Path == "")
}

// Validate checks the database settings for the selected driver.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}

		if d.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", d.Driver)
	}

	return nil
}
