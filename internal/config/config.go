package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all configuration for dynaload
type Config struct {
	Log       LogConfig
	DynamoDB  DynamoDBConfig
	Source    SourceConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
	RunLog    RunLogConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// DynamoDBConfig addresses the target table. Credentials are optional: when
// empty the default AWS chain (env, shared config, IAM role) is used.
type DynamoDBConfig struct {
	Region       string
	Endpoint     string // Custom endpoint (e.g. dynamodb-local "http://localhost:8000")
	AccessKey    string
	SecretKey    string
	Table        string
	KeyAttribute string // Primary key attribute of Table
}

// SourceConfig describes where the dataset comes from
type SourceConfig struct {
	Type   string // "file" or "sql"
	Format string // csv, json, ndjson, msgpack, auto
	Path   string // Object path within the storage backend

	// Storage backend for file sources
	Backend     string // local, s3, azure
	LocalPath   string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PathStyle bool

	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureSASToken           string
	AzureContainer          string
	AzureEndpoint           string
	AzureUseManagedIdentity bool

	// SQL sources
	SQLDriver string // duckdb, pgx, sqlite3, clickhouse
	SQLDSN    string
	SQLQuery  string
}

type SchedulerConfig struct {
	Enabled           bool
	Schedule          string // Cron schedule (default: "0 * * * *" = hourly)
	RunTimeoutSeconds int
}

type ServerConfig struct {
	Enabled      bool
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type RunLogConfig struct {
	Enabled bool
	DBPath  string
}

// Load loads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DYNALOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("dynaload")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/dynaload/")
	v.AddConfigPath("$HOME/.dynaload/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		DynamoDB: DynamoDBConfig{
			Region:       v.GetString("dynamodb.region"),
			Endpoint:     v.GetString("dynamodb.endpoint"),
			AccessKey:    v.GetString("dynamodb.access_key"),
			SecretKey:    v.GetString("dynamodb.secret_key"),
			Table:        v.GetString("dynamodb.table"),
			KeyAttribute: v.GetString("dynamodb.key_attribute"),
		},
		Source: SourceConfig{
			Type:                    v.GetString("source.type"),
			Format:                  v.GetString("source.format"),
			Path:                    v.GetString("source.path"),
			Backend:                 v.GetString("source.backend"),
			LocalPath:               v.GetString("source.local_path"),
			S3Bucket:                v.GetString("source.s3_bucket"),
			S3Region:                v.GetString("source.s3_region"),
			S3Endpoint:              v.GetString("source.s3_endpoint"),
			S3AccessKey:             v.GetString("source.s3_access_key"),
			S3SecretKey:             v.GetString("source.s3_secret_key"),
			S3UseSSL:                v.GetBool("source.s3_use_ssl"),
			S3PathStyle:             v.GetBool("source.s3_path_style"),
			AzureConnectionString:   v.GetString("source.azure_connection_string"),
			AzureAccountName:        v.GetString("source.azure_account_name"),
			AzureAccountKey:         v.GetString("source.azure_account_key"),
			AzureSASToken:           v.GetString("source.azure_sas_token"),
			AzureContainer:          v.GetString("source.azure_container"),
			AzureEndpoint:           v.GetString("source.azure_endpoint"),
			AzureUseManagedIdentity: v.GetBool("source.azure_use_managed_identity"),
			SQLDriver:               v.GetString("source.sql_driver"),
			SQLDSN:                  v.GetString("source.sql_dsn"),
			SQLQuery:                v.GetString("source.sql_query"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			Schedule:          v.GetString("scheduler.schedule"),
			RunTimeoutSeconds: v.GetInt("scheduler.run_timeout_seconds"),
		},
		Server: ServerConfig{
			Enabled:      v.GetBool("server.enabled"),
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetInt("server.read_timeout"),
			WriteTimeout: v.GetInt("server.write_timeout"),
		},
		RunLog: RunLogConfig{
			Enabled: v.GetBool("runlog.enabled"),
			DBPath:  v.GetString("runlog.db_path"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("dynamodb.region", "us-east-1")
	v.SetDefault("dynamodb.key_attribute", "OptionSymbol")

	v.SetDefault("source.type", "file")
	v.SetDefault("source.format", "auto")
	v.SetDefault("source.backend", "local")
	v.SetDefault("source.local_path", ".")
	v.SetDefault("source.s3_region", "us-east-1")
	v.SetDefault("source.s3_use_ssl", true)
	v.SetDefault("source.s3_path_style", false)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.schedule", "0 * * * *")      // Hourly
	v.SetDefault("scheduler.run_timeout_seconds", 900) // 15 minutes per run

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("runlog.enabled", true)
	v.SetDefault("runlog.db_path", "./data/dynaload.db")
}

// Validate checks the fields a replace run cannot do without
func (cfg *Config) Validate() error {
	if cfg.DynamoDB.Table == "" {
		return fmt.Errorf("dynamodb.table is required")
	}
	if cfg.DynamoDB.KeyAttribute == "" {
		return fmt.Errorf("dynamodb.key_attribute is required")
	}

	switch strings.ToLower(cfg.Source.Type) {
	case "file":
		if cfg.Source.Path == "" {
			return fmt.Errorf("source.path is required for file sources")
		}
		switch strings.ToLower(cfg.Source.Backend) {
		case "local":
		case "s3":
			if cfg.Source.S3Bucket == "" {
				return fmt.Errorf("source.s3_bucket is required for the s3 backend")
			}
		case "azure":
			if cfg.Source.AzureContainer == "" {
				return fmt.Errorf("source.azure_container is required for the azure backend")
			}
		default:
			return fmt.Errorf("unknown source.backend %q (use local, s3 or azure)", cfg.Source.Backend)
		}
	case "sql":
		if cfg.Source.SQLDriver == "" || cfg.Source.SQLQuery == "" {
			return fmt.Errorf("source.sql_driver and source.sql_query are required for sql sources")
		}
	default:
		return fmt.Errorf("unknown source.type %q (use file or sql)", cfg.Source.Type)
	}

	if cfg.Scheduler.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.Scheduler.Schedule); err != nil {
			return fmt.Errorf("invalid scheduler.schedule %q: %w", cfg.Scheduler.Schedule, err)
		}
	}

	return nil
}
