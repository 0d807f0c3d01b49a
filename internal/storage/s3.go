package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// Ranged download part size for large dataset objects
const downloadPartSize = 16 * 1024 * 1024

// S3Backend reads dataset objects from an S3 or MinIO bucket
type S3Backend struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucket     string
	region     string
	logger     zerolog.Logger
}

// S3Config holds S3 backend configuration
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // Custom endpoint for MinIO (e.g., "http://localhost:9000")
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool // Use path-style addressing (required for MinIO)
}

// NewS3Backend creates a new S3/MinIO backend
func NewS3Backend(ctx context.Context, cfg *S3Config, logger zerolog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}


	var opts []func(*config.LoadOptions) error

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts = append(opts, config.WithRegion(region))

	accessKey := cfg.AccessKey
	secretKey := cfg.SecretKey
	if accessKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
	}
	if secretKey == "" {
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}

	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
		logger.Info().Msg("Using static credentials for S3")
	} else {
		logger.Info().Msg("Using default credential chain for S3 (environment, IAM role, etc.)")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			if cfg.UseSSL {
				endpoint = "https://" + endpoint
			} else {
				endpoint = "http://" + endpoint
			}
		}

		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
		logger.Info().Str("endpoint", endpoint).Msg("Using custom S3 endpoint")
	}

	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
		logger.Info().Msg("Using path-style S3 addressing (MinIO compatible)")
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = downloadPartSize
		// Parts must arrive in order to be streamed
		d.Concurrency = 1
	})

	return &S3Backend{
		client:     client,
		downloader: downloader,
		bucket:     cfg.Bucket,
		region:     region,
		logger:     logger,
	}, nil
}

// Stat returns object metadata via HeadObject
func (b *S3Backend) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, b.bucket, path)
		}
		return nil, fmt.Errorf("failed to stat S3 object: %w", err)
	}

	return &ObjectInfo{
		Path:         path,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// ReadTo streams the object into writer using ranged GETs
func (b *S3Backend) ReadTo(ctx context.Context, path string, writer io.Writer) error {
	start := time.Now()
	n, err := b.downloader.Download(ctx, &sequentialWriterAt{w: writer}, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, b.bucket, path)
		}
		return fmt.Errorf("failed to read from S3: %w", err)
	}

	b.logger.Debug().
		Str("key", path).
		Int64("size", n).
		Dur("duration", time.Since(start)).
		Msg("Downloaded object")

	return nil
}

// sequentialWriterAt adapts an io.Writer for a downloader that writes parts in order
type sequentialWriterAt struct {
	w      io.Writer
	offset int64
}

func (s *sequentialWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if off != s.offset {
		return 0, fmt.Errorf("out of order write at offset %d, expected %d", off, s.offset)
	}
	n, err := s.w.Write(p)
	s.offset += int64(n)
	return n, err
}

// isNotFoundError checks if an error indicates the object doesn't exist
func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	// HeadObject on some S3-compatible servers only surfaces a status code
	errStr := err.Error()
	return strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "StatusCode: 404")
}

// Close is a no-op for S3
func (b *S3Backend) Close() error {
	b.logger.Info().Msg("S3 backend closed")
	return nil
}

// Type returns the storage type identifier
func (b *S3Backend) Type() string {
	return "s3"
}
