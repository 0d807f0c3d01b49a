// Package dynamotest provides an in-memory DynamoDB double for tests.
package dynamotest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// MemoryAPI implements the scan/put/delete/describe calls over in-memory
// tables keyed by a single hash attribute.
type MemoryAPI struct {
	mu     sync.Mutex
	tables map[string]*memTable

	// PageSize caps the items returned per Scan. Zero means unlimited.
	PageSize int

	// Optional failure hooks
	PutErr    func(item map[string]types.AttributeValue) error
	DeleteErr func(key map[string]types.AttributeValue) error
	ScanErr   error

	ScanCalls   int
	PutCalls    int
	DeleteCalls int
}

type memTable struct {
	hashKey string
	sortKey string
	items   map[string]map[string]types.AttributeValue
}

// NewMemoryAPI returns an empty double
func NewMemoryAPI() *MemoryAPI {
	return &MemoryAPI{tables: make(map[string]*memTable)}
}

// CreateTable registers a table keyed by hashKey
func (m *MemoryAPI) CreateTable(name, hashKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = &memTable{hashKey: hashKey, items: make(map[string]map[string]types.AttributeValue)}
}

// CreateTableWithSortKey registers a table with a composite key. Only
// DescribeTable honours the sort key.
func (m *MemoryAPI) CreateTableWithSortKey(name, hashKey, sortKey string) {
	m.CreateTable(name, hashKey)
	m.mu.Lock()
	m.tables[name].sortKey = sortKey
	m.mu.Unlock()
}

// Seed stores string-valued items directly, bypassing hooks and counters
func (m *MemoryAPI) Seed(table string, items ...map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[table]
	for _, it := range items {
		av := make(map[string]types.AttributeValue, len(it))
		for k, v := range it {
			av[k] = &types.AttributeValueMemberS{Value: v}
		}
		t.items[keyString(av[t.hashKey])] = av
	}
}

// Items returns the table contents as string maps, sorted by key.
// Non-string attributes are rendered with their type prefix.
func (m *MemoryAPI) Items(table string) []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[table]
	if t == nil {
		return nil
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		row := make(map[string]string, len(t.items[k]))
		for attr, v := range t.items[k] {
			row[attr] = displayValue(v)
		}
		out = append(out, row)
	}
	return out
}

// Scan returns up to PageSize items in key order
func (m *MemoryAPI) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScanCalls++

	if m.ScanErr != nil {
		return nil, m.ScanErr
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		after := keyString(params.ExclusiveStartKey[t.hashKey])
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}
	end := len(keys)
	if m.PageSize > 0 && start+m.PageSize < end {
		end = start + m.PageSize
	}

	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, copyItem(t.items[k]))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = out.Count
	if end < len(keys) {
		last := t.items[keys[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{t.hashKey: last[t.hashKey]}
	}
	return out, nil
}

// PutItem stores an item, replacing any item with the same key
func (m *MemoryAPI) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	if m.PutErr != nil {
		if err := m.PutErr(params.Item); err != nil {
			return nil, err
		}
	}

	key, ok := params.Item[t.hashKey]
	if !ok || keyString(key) == "" {
		return nil, validationError(fmt.Sprintf("One or more parameter values were invalid: Missing the key %s in the item", t.hashKey))
	}
	if emptyKey(key) {
		return nil, emptyKeyError(t.hashKey)
	}

	t.items[keyString(key)] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// DeleteItem removes the item with the given key; deleting a missing item succeeds
func (m *MemoryAPI) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	if m.DeleteErr != nil {
		if err := m.DeleteErr(params.Key); err != nil {
			return nil, err
		}
	}

	key, ok := params.Key[t.hashKey]
	if !ok || len(params.Key) != 1 {
		return nil, validationError("The provided key element does not match the schema")
	}
	if emptyKey(key) {
		return nil, emptyKeyError(t.hashKey)
	}

	delete(t.items, keyString(key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// DescribeTable reports the key schema
func (m *MemoryAPI) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}

	schema := []types.KeySchemaElement{{AttributeName: aws.String(t.hashKey), KeyType: types.KeyTypeHash}}
	if t.sortKey != "" {
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(t.sortKey), KeyType: types.KeyTypeRange})
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName: params.TableName,
			KeySchema: schema,
			ItemCount: aws.Int64(int64(len(t.items))),
		},
	}, nil
}

func (m *MemoryAPI) table(name *string) (*memTable, error) {
	t, ok := m.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + aws.ToString(name))}
	}
	return t, nil
}

func validationError(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

func emptyKeyError(attr string) error {
	return validationError("One or more parameter values are not valid. The AttributeValue for a key attribute cannot contain an empty string value. Key: " + attr)
}

// emptyKey reports a zero-length string or binary key value, which the service rejects
func emptyKey(v types.AttributeValue) bool {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value == ""
	case *types.AttributeValueMemberB:
		return len(av.Value) == 0
	}
	return false
}

func keyString(v types.AttributeValue) string {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + av.Value
	case *types.AttributeValueMemberN:
		return "N:" + av.Value
	case *types.AttributeValueMemberB:
		return "B:" + string(av.Value)
	default:
		return ""
	}
}

func displayValue(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return keyString(v)
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
