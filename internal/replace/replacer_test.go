package replace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/basekick-labs/dynaload/internal/dataset"
	"github.com/basekick-labs/dynaload/internal/dynamo"
	"github.com/basekick-labs/dynaload/internal/dynamo/dynamotest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = "quotes"

func newTestReplacer(t *testing.T) (*Replacer, *dynamotest.MemoryAPI) {
	t.Helper()
	api := dynamotest.NewMemoryAPI()
	api.CreateTable(table, "sym")
	store := dynamo.NewStore(api, zerolog.Nop())
	return New(store, "sym", zerolog.Nop()), api
}

func priceDataset() *dataset.Dataset {
	return dataset.New([]string{"sym", "price"},
		dataset.Row{"sym": "AAPL", "price": 150},
		dataset.Row{"sym": "GOOG", "price": nil},
	)
}

func TestReplace_PriceScenario(t *testing.T) {
	r, api := newTestReplacer(t)

	res, err := r.Replace(context.Background(), priceDataset(), table)
	require.NoError(t, err)

	assert.Equal(t, []map[string]string{
		{"sym": "AAPL", "price": "150"},
		{"sym": "GOOG", "price": "0"},
	}, api.Items(table))
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 0, res.Deleted)
	assert.False(t, res.Truncated)
}

func TestReplace_RemovesUnrelatedItems(t *testing.T) {
	r, api := newTestReplacer(t)
	api.Seed(table, map[string]string{"sym": "MSFT"})

	res, err := r.Replace(context.Background(), priceDataset(), table)
	require.NoError(t, err)

	for _, item := range api.Items(table) {
		assert.NotEqual(t, "MSFT", item["sym"])
	}
	assert.Len(t, api.Items(table), 2)
	assert.Equal(t, 1, res.Deleted)
}

func TestReplace_Idempotent(t *testing.T) {
	r, api := newTestReplacer(t)
	ctx := context.Background()

	_, err := r.Replace(ctx, priceDataset(), table)
	require.NoError(t, err)
	once := api.Items(table)

	res, err := r.Replace(ctx, priceDataset(), table)
	require.NoError(t, err)

	assert.Equal(t, once, api.Items(table))
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 2, res.Written)
}

func TestReplace_EmptyDatasetClearsTable(t *testing.T) {
	r, api := newTestReplacer(t)
	api.Seed(table,
		map[string]string{"sym": "AAPL"},
		map[string]string{"sym": "TSLA"},
	)

	res, err := r.Replace(context.Background(), dataset.New(nil), table)
	require.NoError(t, err)

	assert.Empty(t, api.Items(table))
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 0, res.Written)
	assert.Equal(t, 0, api.PutCalls)
}

func TestReplace_SetEquality(t *testing.T) {
	r, api := newTestReplacer(t)
	api.Seed(table,
		map[string]string{"sym": "OLD1", "price": "1"},
		map[string]string{"sym": "AAPL", "price": "99"},
	)

	var rows []dataset.Row
	for i := 0; i < 25; i++ {
		rows = append(rows, dataset.Row{"sym": fmt.Sprintf("SYM%02d", i), "price": float64(i) + 0.5})
	}
	ds := dataset.New([]string{"sym", "price"}, rows...)

	_, err := r.Replace(context.Background(), ds, table)
	require.NoError(t, err)

	want := make(map[string]map[string]string)
	for _, rec := range ds.Records() {
		want[rec["sym"]] = rec
	}
	got := make(map[string]map[string]string)
	for _, item := range api.Items(table) {
		got[item["sym"]] = item
	}
	assert.Equal(t, want, got)
}

func TestReplace_MissingKeyColumn(t *testing.T) {
	r, api := newTestReplacer(t)
	api.Seed(table, map[string]string{"sym": "MSFT"})

	ds := dataset.New([]string{"ticker"}, dataset.Row{"ticker": "AAPL"})
	_, err := r.Replace(context.Background(), ds, table)

	assert.ErrorIs(t, err, ErrMissingKeyColumn)
	assert.Equal(t, 0, api.ScanCalls)
	assert.Len(t, api.Items(table), 1, "table must not be touched")
}

func TestReplace_TruncatedScanLeavesLaterPages(t *testing.T) {
	r, api := newTestReplacer(t)
	api.PageSize = 2
	api.Seed(table,
		map[string]string{"sym": "A"},
		map[string]string{"sym": "B"},
		map[string]string{"sym": "C"},
	)

	res, err := r.Replace(context.Background(), dataset.New(nil), table)
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, api.ScanCalls, "scan must not paginate")
	assert.Equal(t, []map[string]string{{"sym": "C"}}, api.Items(table))
}

func TestReplace_ScanFailure(t *testing.T) {
	r, api := newTestReplacer(t)
	api.ScanErr = errors.New("connection refused")

	_, err := r.Replace(context.Background(), priceDataset(), table)
	require.Error(t, err)

	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseClearing, pe.Phase)
	assert.Equal(t, -1, pe.Index)
	assert.Equal(t, 0, api.PutCalls)
}

func TestReplace_DeleteFailureStopsBeforeLoading(t *testing.T) {
	r, api := newTestReplacer(t)
	api.Seed(table,
		map[string]string{"sym": "A"},
		map[string]string{"sym": "B"},
	)
	throttled := errors.New("ProvisionedThroughputExceededException")
	api.DeleteErr = func(key map[string]types.AttributeValue) error {
		if key["sym"].(*types.AttributeValueMemberS).Value == "B" {
			return throttled
		}
		return nil
	}

	res, err := r.Replace(context.Background(), priceDataset(), table)
	require.ErrorIs(t, err, throttled)

	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseClearing, pe.Phase)
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, api.PutCalls)
	assert.Equal(t, []map[string]string{{"sym": "B"}}, api.Items(table))
}

func TestReplace_PutFailureLeavesPartialLoad(t *testing.T) {
	r, api := newTestReplacer(t)
	api.Seed(table, map[string]string{"sym": "MSFT"})
	api.PutErr = func(item map[string]types.AttributeValue) error {
		if item["sym"].(*types.AttributeValueMemberS).Value == "GOOG" {
			return errors.New("AccessDeniedException")
		}
		return nil
	}

	res, err := r.Replace(context.Background(), priceDataset(), table)
	require.Error(t, err)

	var pe *PhaseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseLoading, pe.Phase)
	assert.Equal(t, 1, pe.Index)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, []map[string]string{{"sym": "AAPL", "price": "150"}}, api.Items(table))
}

func TestReplace_UnknownTable(t *testing.T) {
	r, _ := newTestReplacer(t)

	_, err := r.Replace(context.Background(), priceDataset(), "nope")
	var rnf *types.ResourceNotFoundException
	assert.True(t, errors.As(err, &rnf))
}

func TestPhaseError_Message(t *testing.T) {
	err := &PhaseError{Phase: PhaseLoading, Index: 3, Err: errors.New("boom")}
	assert.Equal(t, "loading item 3: boom", err.Error())

	err = &PhaseError{Phase: PhaseClearing, Index: -1, Err: errors.New("boom")}
	assert.Equal(t, "clearing: boom", err.Error())
}

func TestWithRun_KeepsStoreAndKey(t *testing.T) {
	r, _ := newTestReplacer(t)
	cp := r.WithRun("run-1", "manual")

	assert.Equal(t, "sym", cp.KeyAttribute())
	assert.Same(t, r.store, cp.store)
}

func decodeLogLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n")) {
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		lines = append(lines, line)
	}
	return lines
}

func TestReplace_LogsOneComponentPerLine(t *testing.T) {
	api := dynamotest.NewMemoryAPI()
	api.CreateTable(table, "sym")
	var out bytes.Buffer
	base := zerolog.New(&out).With().Str("component", "replacer").Logger()
	r := New(dynamo.NewStore(api, zerolog.Nop()), "sym", base).WithRun("run-1", "manual")

	_, err := r.Replace(context.Background(), priceDataset(), table)
	require.NoError(t, err)

	raw := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.NotEmpty(t, raw)
	for _, line := range raw {
		assert.Equal(t, 1, bytes.Count(line, []byte(`"component":`)), string(line))
	}
	for _, line := range decodeLogLines(t, &out) {
		assert.Equal(t, "run-1", line["run_id"])
		assert.Equal(t, "manual", line["trigger"])
	}
}

func TestReplace_LogsRecordSummaryAtInfo(t *testing.T) {
	api := dynamotest.NewMemoryAPI()
	api.CreateTable(table, "sym")
	var out bytes.Buffer
	r := New(dynamo.NewStore(api, zerolog.Nop()), "sym", zerolog.New(&out).Level(zerolog.InfoLevel))

	_, err := r.Replace(context.Background(), priceDataset(), table)
	require.NoError(t, err)

	var summary map[string]any
	for _, line := range decodeLogLines(t, &out) {
		if line["message"] == "Records to upload" {
			summary = line
		}
	}
	require.NotNil(t, summary)
	assert.Equal(t, "info", summary["level"])
	assert.EqualValues(t, 2, summary["records"])
	assert.Equal(t, []any{"AAPL", "GOOG"}, summary["keys"])
}

func TestRecordKeys_Capped(t *testing.T) {
	records := make([]dataset.Record, maxLoggedKeys+5)
	for i := range records {
		records[i] = dataset.Record{"sym": fmt.Sprintf("S%03d", i)}
	}

	keys := recordKeys(records, "sym")
	assert.Len(t, keys, maxLoggedKeys)
	assert.Equal(t, "S000", keys[0])
}
