package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chdirTemp moves into an empty directory so no dynaload.toml is picked up
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
	return tmpDir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DynamoDB.KeyAttribute != "OptionSymbol" {
		t.Errorf("DynamoDB.KeyAttribute = %q, want OptionSymbol", cfg.DynamoDB.KeyAttribute)
	}
	if cfg.DynamoDB.Region != "us-east-1" {
		t.Errorf("DynamoDB.Region = %q, want us-east-1", cfg.DynamoDB.Region)
	}
	if cfg.Source.Type != "file" || cfg.Source.Backend != "local" || cfg.Source.Format != "auto" {
		t.Errorf("unexpected source defaults: %+v", cfg.Source)
	}
	if cfg.Scheduler.Schedule != "0 * * * *" {
		t.Errorf("Scheduler.Schedule = %q, want hourly", cfg.Scheduler.Schedule)
	}
	if cfg.Scheduler.Enabled {
		t.Error("Scheduler should be disabled by default")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if !cfg.RunLog.Enabled {
		t.Error("RunLog should be enabled by default")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdirTemp(t)

	t.Setenv("DYNALOAD_DYNAMODB_TABLE", "option-chain")
	t.Setenv("DYNALOAD_DYNAMODB_KEY_ATTRIBUTE", "sym")
	t.Setenv("DYNALOAD_SOURCE_PATH", "daily/options.csv")
	t.Setenv("DYNALOAD_SCHEDULER_ENABLED", "true")
	t.Setenv("DYNALOAD_SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DynamoDB.Table != "option-chain" {
		t.Errorf("DynamoDB.Table = %q, want option-chain (from env)", cfg.DynamoDB.Table)
	}
	if cfg.DynamoDB.KeyAttribute != "sym" {
		t.Errorf("DynamoDB.KeyAttribute = %q, want sym (from env)", cfg.DynamoDB.KeyAttribute)
	}
	if cfg.Source.Path != "daily/options.csv" {
		t.Errorf("Source.Path = %q (from env)", cfg.Source.Path)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("Scheduler.Enabled should be true (from env)")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090 (from env)", cfg.Server.Port)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)

	content := `
[dynamodb]
table = "from-file"
endpoint = "http://localhost:8000"

[source]
type = "sql"
sql_driver = "sqlite3"
sql_query = "SELECT * FROM quotes"
`
	if err := os.WriteFile(filepath.Join(dir, "dynaload.toml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.DynamoDB.Table != "from-file" {
		t.Errorf("DynamoDB.Table = %q, want from-file", cfg.DynamoDB.Table)
	}
	if cfg.DynamoDB.Endpoint != "http://localhost:8000" {
		t.Errorf("DynamoDB.Endpoint = %q", cfg.DynamoDB.Endpoint)
	}
	if cfg.Source.Type != "sql" || cfg.Source.SQLDriver != "sqlite3" {
		t.Errorf("unexpected source: %+v", cfg.Source)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DynamoDB: DynamoDBConfig{Table: "t", KeyAttribute: "OptionSymbol"},
			Source:   SourceConfig{Type: "file", Backend: "local", Path: "data.csv"},
			Scheduler: SchedulerConfig{
				Schedule: "0 * * * *",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing table", func(c *Config) { c.DynamoDB.Table = "" }, true},
		{"missing key attribute", func(c *Config) { c.DynamoDB.KeyAttribute = "" }, true},
		{"missing path", func(c *Config) { c.Source.Path = "" }, true},
		{"unknown backend", func(c *Config) { c.Source.Backend = "ftp" }, true},
		{"s3 without bucket", func(c *Config) { c.Source.Backend = "s3" }, true},
		{"s3 with bucket", func(c *Config) { c.Source.Backend = "s3"; c.Source.S3Bucket = "b" }, false},
		{"azure without container", func(c *Config) { c.Source.Backend = "azure" }, true},
		{"unknown source type", func(c *Config) { c.Source.Type = "kafka" }, true},
		{"sql without query", func(c *Config) { c.Source.Type = "sql"; c.Source.SQLDriver = "pgx" }, true},
		{"bad schedule ignored when disabled", func(c *Config) { c.Scheduler.Schedule = "nope" }, false},
		{"bad schedule", func(c *Config) { c.Scheduler.Enabled = true; c.Scheduler.Schedule = "nope" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
