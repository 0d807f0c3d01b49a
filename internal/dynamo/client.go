package dynamo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
)

// API is the subset of the DynamoDB client the store uses. It is satisfied by
// *dynamodb.Client and by dynamotest.MemoryAPI.
type API interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// ClientConfig holds DynamoDB client settings
type ClientConfig struct {
	Region    string
	Endpoint  string // Custom endpoint for dynamodb-local (e.g. "http://localhost:8000")
	AccessKey string
	SecretKey string
}

// NewClient builds a DynamoDB client. Static credentials are used only when
// both keys are set; otherwise the default AWS chain applies.
func NewClient(ctx context.Context, cfg *ClientConfig, logger zerolog.Logger) (*dynamodb.Client, error) {

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
		logger.Info().Msg("Using static credentials for DynamoDB")
	} else {
		logger.Info().Msg("Using default credential chain for DynamoDB (environment, IAM role, etc.)")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var ddbOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "http://" + endpoint
		}
		ddbOpts = append(ddbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
		logger.Info().Str("endpoint", endpoint).Msg("Using custom DynamoDB endpoint")
	}

	return dynamodb.NewFromConfig(awsCfg, ddbOpts...), nil
}
