package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/dbbot/pkg/fsutil"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// DBBOT_DATABASE_SQLITE_PATH overrides database.sqlite.path.
	EnvPrefix = "DBBOT"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabasePath is the default SQLite database for test run results.
	DefaultDatabasePath = "robot_results.db"

	// DefaultReportOutput is the default HTML report file.
	DefaultReportOutput = "index.html"

	// DefaultBatchSize is the number of leaf rows written per batch insert.
	DefaultBatchSize = 100

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// InMemoryPath is the SQLite path of a temporary database that is
	// discarded when the connection closes.
	InMemoryPath = ":memory:"
)

// Config is the root configuration for dbbot.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Import   ImportConfig   `yaml:"import" mapstructure:"import"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Upload   UploadConfig   `yaml:"upload" mapstructure:"upload"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ImportConfig controls how result files are written into the database.
type ImportConfig struct {
	// IncludeKeywords enables descent into suite, test and nested keywords.
	IncludeKeywords bool `yaml:"include_keywords" mapstructure:"include_keywords"`
	// SkipDuplicates skips files whose fingerprint is already stored
	// instead of reconciling them against the existing run.
	SkipDuplicates bool `yaml:"skip_duplicates" mapstructure:"skip_duplicates"`
	// DryRun writes into a temporary in-memory database.
	DryRun    bool `yaml:"dry_run" mapstructure:"dry_run"`
	BatchSize int  `yaml:"batch_size" mapstructure:"batch_size"`
}

// ReportConfig contains HTML report settings.
type ReportConfig struct {
	Output string `yaml:"output" mapstructure:"output"`
	Title  string `yaml:"title" mapstructure:"title"`
	// Limit caps the rows of each ranked table; 0 means no limit.
	Limit int `yaml:"limit" mapstructure:"limit"`
	// Owner is an optional "UID:GID" applied to the written report.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// UploadConfig contains remote storage settings for rendered reports.
type UploadConfig struct {
	S3 S3UploadConfig `yaml:"s3" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	// IncludeDatabase also uploads the SQLite database file next to the report.
	IncludeDatabase bool `yaml:"include_database" mapstructure:"include_database"`
}

// Load reads and merges the given configuration files in order, applies
// defaults and DBBOT_* environment overrides. With no paths only defaults
// and the environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every known key so environment overrides apply
// even when the key is absent from all config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", DefaultDatabasePath)
	v.SetDefault("database.sqlite.page_size", 4096)
	v.SetDefault("database.sqlite.cache_size", 10000)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("import.include_keywords", false)
	v.SetDefault("import.skip_duplicates", false)
	v.SetDefault("import.dry_run", false)
	v.SetDefault("import.batch_size", DefaultBatchSize)

	v.SetDefault("report.output", DefaultReportOutput)
	v.SetDefault("report.title", "Robot Framework failure statistics")
	v.SetDefault("report.limit", 0)
	v.SetDefault("report.owner", "")

	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.server.cors_origins", []string{})
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.server.rate_limit.requests_per_minute", 120)
	v.SetDefault("api.auth.basic.enabled", false)

	v.SetDefault("upload.s3.enabled", false)
	v.SetDefault("upload.s3.endpoint_url", "")
	v.SetDefault("upload.s3.region", "us-east-1")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.prefix", "reports")
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
	v.SetDefault("upload.s3.force_path_style", false)
	v.SetDefault("upload.s3.storage_class", "")
	v.SetDefault("upload.s3.acl", "")
	v.SetDefault("upload.s3.include_database", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import: batch_size must be positive, got %d", c.Import.BatchSize)
	}

	if c.Report.Limit < 0 {
		return fmt.Errorf("report: limit must not be negative, got %d", c.Report.Limit)
	}

	if _, err := fsutil.ParseOwner(c.Report.Owner); err != nil {
		return fmt.Errorf("report: owner: %w", err)
	}

	if c.Upload.S3.Enabled && c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload: s3 bucket is required when s3 upload is enabled")
	}

	return nil
}

// ForDryRun returns a copy of the configuration that targets a temporary
// in-memory SQLite database.
func (c *Config) ForDryRun() *Config {
	cp := *c
	cp.Import.DryRun = true
	cp.Database = DatabaseConfig{
		Driver: "sqlite",
		SQLite: SQLiteDatabaseConfig{
			Path:      InMemoryPath,
			PageSize:  c.Database.SQLite.PageSize,
			CacheSize: c.Database.SQLite.CacheSize,
		},
	}

	return &cp
}
