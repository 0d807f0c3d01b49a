// Package source loads the dataset a replace run writes, either from a file
// held in a storage backend or from a SQL query.
package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/basekick-labs/dynaload/internal/config"
	"github.com/basekick-labs/dynaload/internal/dataset"
	"github.com/basekick-labs/dynaload/internal/storage"
	"github.com/rs/zerolog"
)

// Source produces a dataset on demand. Each Load reads fresh data.
type Source interface {
	Load(ctx context.Context) (*dataset.Dataset, error)
	Describe() string
	Close() error
}

// FromConfig builds the source described by cfg
func FromConfig(ctx context.Context, cfg *config.SourceConfig, logger zerolog.Logger) (Source, error) {
	switch strings.ToLower(cfg.Type) {
	case "file":
		backend, err := NewBackend(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		format, err := dataset.ParseFormat(cfg.Format)
		if err != nil {
			backend.Close()
			return nil, err
		}
		return NewFileSource(backend, cfg.Path, format, logger), nil

	case "sql":
		return NewSQLSource(cfg.SQLDriver, cfg.SQLDSN, cfg.SQLQuery, logger)

	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// NewBackend creates the storage backend a file source reads from
func NewBackend(ctx context.Context, cfg *config.SourceConfig, logger zerolog.Logger) (storage.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return storage.NewLocalBackend(cfg.LocalPath, logger)
	case "s3":
		return storage.NewS3Backend(ctx, &storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		}, logger)
	case "azure":
		return storage.NewAzureBlobBackend(&storage.AzureBlobConfig{
			ConnectionString:   cfg.AzureConnectionString,
			AccountName:        cfg.AzureAccountName,
			AccountKey:         cfg.AzureAccountKey,
			SASToken:           cfg.AzureSASToken,
			UseManagedIdentity: cfg.AzureUseManagedIdentity,
			ContainerName:      cfg.AzureContainer,
			Endpoint:           cfg.AzureEndpoint,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
