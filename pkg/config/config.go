package config

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix of environment variables overriding config keys.
	EnvPrefix = "TESTOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDriver is the default database driver.
	DefaultDriver = "sqlite"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "testoor.db"

	// DefaultBuildsTable is the default table for build rows.
	DefaultBuildsTable = "builds"

	// DefaultTestResultsTable is the default table for test case rows.
	DefaultTestResultsTable = "test_results"

	// DefaultConcurrency is the default number of units written in parallel.
	DefaultConcurrency = 32

	// DefaultTimeout bounds the completion of one ingestion run.
	DefaultTimeout = 15 * time.Minute

	// DefaultMaxBatchRows caps the rows sent in a single INSERT statement.
	DefaultMaxBatchRows = 1000

	// DefaultConnectAttempts is the number of connection attempts on start.
	DefaultConnectAttempts = 3

	// DefaultAPIListen is the default API listen address.
	DefaultAPIListen = ":8080"

	// DefaultServiceName identifies testoor in exported traces.
	DefaultServiceName = "testoor"
)

// Config is the root configuration for testoor.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Source   SourceConfig   `yaml:"source,omitempty" mapstructure:"source"`
	Tracing  TracingConfig  `yaml:"tracing,omitempty" mapstructure:"tracing"`
	API      *APIConfig     `yaml:"api,omitempty" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// IngestConfig controls what is sent for a build and how.
type IngestConfig struct {
	// Enabled is the global switch; nothing is sent when false.
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	SendBuildResults bool          `yaml:"send_build_results" mapstructure:"send_build_results"`
	SendTestResults  bool          `yaml:"send_test_results" mapstructure:"send_test_results"`
	Concurrency      int           `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
	Timeout          time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Endpoint is the full OTLP/HTTP traces URL. The OTEL_EXPORTER_OTLP_*
	// environment variables apply when empty.
	Endpoint    string  `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Insecure    bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
	ServiceName string  `yaml:"service_name,omitempty" mapstructure:"service_name"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver          string               `yaml:"driver" mapstructure:"driver"`
	SQLite          SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres        PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
	Tables          TablesConfig         `yaml:"tables,omitempty" mapstructure:"tables"`
	AutoMigrate     bool                 `yaml:"auto_migrate" mapstructure:"auto_migrate"`
	MaxOpenConns    int                  `yaml:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
	MaxBatchRows    int                  `yaml:"max_batch_rows,omitempty" mapstructure:"max_batch_rows"`
	ConnectAttempts uint                 `yaml:"connect_attempts,omitempty" mapstructure:"connect_attempts"`
}

// TablesConfig names the tables rows are written to.
type TablesConfig struct {
	Builds      string `yaml:"builds" mapstructure:"builds"`
	TestResults string `yaml:"test_results" mapstructure:"test_results"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
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

// SourceConfig configures where JUnit reports can be read from.
type SourceConfig struct {
	S3 *S3SourceConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3SourceConfig contains S3 settings for reading reports from s3:// URIs.
type S3SourceConfig struct {
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// Load reads and merges configuration files in order, applies environment
// overrides (TESTOOR_<SECTION>_<KEY>) and defaults. With no paths only
// defaults and the environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := bindEnvs(v, reflect.TypeOf(Config{}), ""); err != nil {
		return nil, fmt.Errorf("binding env vars: %w", err)
	}

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

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &cfg,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers defaults that cannot be told apart from an explicit
// zero value after decoding.
func setDefaults(v *viper.Viper) {
	v.SetDefault("ingest.enabled", true)
	v.SetDefault("ingest.send_build_results", true)
	v.SetDefault("ingest.send_test_results", true)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// bindEnvs binds every mapstructure key of t so environment variables apply
// even when the key is absent from all config files.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) error {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := field.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}

		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}) {
			if err := bindEnvs(v, ft, key); err != nil {
				return err
			}

			continue
		}

		if err := v.BindEnv(key); err != nil {
			return err
		}
	}

	return nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Database.Tables.Builds == "" {
		c.Database.Tables.Builds = DefaultBuildsTable
	}

	if c.Database.Tables.TestResults == "" {
		c.Database.Tables.TestResults = DefaultTestResultsTable
	}

	if c.Ingest.Concurrency == 0 {
		c.Ingest.Concurrency = DefaultConcurrency
	}

	if c.Ingest.Timeout == 0 {
		c.Ingest.Timeout = DefaultTimeout
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = c.Ingest.Concurrency
	}

	if c.Database.MaxBatchRows == 0 {
		c.Database.MaxBatchRows = DefaultMaxBatchRows
	}

	if c.Database.ConnectAttempts == 0 {
		c.Database.ConnectAttempts = DefaultConnectAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}

	if c.API != nil && c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultAPIListen
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Ingest.Concurrency < 0 {
		return fmt.Errorf("ingest: concurrency must be positive, got %d", c.Ingest.Concurrency)
	}

	if c.Ingest.Timeout < 0 {
		return fmt.Errorf("ingest: timeout must be positive, got %s", c.Ingest.Timeout)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing: sample_ratio must be between 0 and 1, got %g",
			c.Tracing.SampleRatio)
	}

	return nil
}

// Validate checks the database configuration for errors.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required")
		}

		if d.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported driver %q", d.Driver)
	}

	if d.Tables.Builds == d.Tables.TestResults {
		return fmt.Errorf("tables.builds and tables.test_results must differ, both are %q",
			d.Tables.Builds)
	}

	if d.MaxBatchRows < 0 {
		return fmt.Errorf("max_batch_rows must be positive, got %d", d.MaxBatchRows)
	}

	return nil
}
