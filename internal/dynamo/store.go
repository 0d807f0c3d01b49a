package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/basekick-labs/dynaload/internal/dataset"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingKeyAttribute is returned when a scanned item lacks the key attribute
	ErrMissingKeyAttribute = errors.New("item has no primary key attribute")

	// ErrKeyMismatch is returned when the table's key schema cannot be
	// addressed by the configured single key attribute
	ErrKeyMismatch = errors.New("table key schema does not match key attribute")
)

// Item is a raw DynamoDB item
type Item = map[string]types.AttributeValue

// ScanResult is one page of a table scan
type ScanResult struct {
	Items []Item
	// Truncated is set when the store reported more items beyond this page
	Truncated bool
}

// Store performs single-item table operations against DynamoDB
type Store struct {
	api    API
	logger zerolog.Logger
}

// NewStore wraps a DynamoDB API handle
func NewStore(api API, logger zerolog.Logger) *Store {
	return &Store{
		api:    api,
		logger: logger,
	}
}

// ScanPage returns the first page of a full table scan. It does not follow
// LastEvaluatedKey.
func (s *Store) ScanPage(ctx context.Context, table string) (*ScanResult, error) {
	out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(table),
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}

	s.logger.Debug().
		Str("table", table).
		Int("items", len(out.Items)).
		Int32("scanned", out.ScannedCount).
		Msg("Scanned table page")

	return &ScanResult{
		Items:     out.Items,
		Truncated: len(out.LastEvaluatedKey) > 0,
	}, nil
}

// DeleteItem deletes item by its keyAttr value
func (s *Store) DeleteItem(ctx context.Context, table, keyAttr string, item Item) error {
	key, ok := item[keyAttr]
	if !ok {
		return fmt.Errorf("%w: %q", ErrMissingKeyAttribute, keyAttr)
	}

	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       Item{keyAttr: key},
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// PutRecord writes a record as an item of string attributes
func (s *Store) PutRecord(ctx context.Context, table string, rec dataset.Record) error {
	item, err := attributevalue.MarshalMap(map[string]string(rec))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put into %s: %w", table, err)
	}
	return nil
}

// CheckKey verifies that table is keyed by keyAttr alone
func (s *Store) CheckKey(ctx context.Context, table, keyAttr string) error {
	out, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		return fmt.Errorf("describe %s: %w", table, err)
	}
	if out.Table == nil {
		return fmt.Errorf("describe %s: empty table description", table)
	}

	var hash string
	for _, k := range out.Table.KeySchema {
		switch k.KeyType {
		case types.KeyTypeHash:
			hash = aws.ToString(k.AttributeName)
		case types.KeyTypeRange:
			return fmt.Errorf("%w: %s has sort key %q", ErrKeyMismatch, table, aws.ToString(k.AttributeName))
		}
	}
	if hash != keyAttr {
		return fmt.Errorf("%w: %s is keyed by %q, not %q", ErrKeyMismatch, table, hash, keyAttr)
	}
	return nil
}
