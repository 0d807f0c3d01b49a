package dataset

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AppendsUnlistedColumns(t *testing.T) {
	d := New([]string{"sym"},
		Row{"sym": "AAPL", "price": 150},
		Row{"sym": "GOOG", "bid": 1.5},
	)

	assert.Equal(t, []string{"sym", "bid", "price"}, d.Columns)
	assert.Equal(t, 2, d.Len())
	assert.True(t, d.HasColumn("price"))
	assert.False(t, d.HasColumn("ask"))
}

func TestRecords_PriceScenario(t *testing.T) {
	d := New([]string{"sym", "price"},
		Row{"sym": "AAPL", "price": 150},
		Row{"sym": "GOOG", "price": nil},
	)

	records := d.Records()
	require.Len(t, records, 2)
	assert.Equal(t, Record{"sym": "AAPL", "price": "150"}, records[0])
	assert.Equal(t, Record{"sym": "GOOG", "price": "0"}, records[1])
}

func TestRecords_AbsentCellGetsSentinel(t *testing.T) {
	d := New([]string{"sym", "price", "volume"},
		Row{"sym": "MSFT", "price": 410.25},
	)

	records := d.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "0", records[0]["volume"])
	assert.Equal(t, "410.25", records[0]["price"])
}

func TestRecords_NaNIsMissing(t *testing.T) {
	d := New([]string{"sym", "iv"}, Row{"sym": "TSLA", "iv": math.NaN()})

	records := d.Records()
	assert.Equal(t, "0", records[0]["iv"])
}

func TestRecords_EveryValueNonEmpty(t *testing.T) {
	d := New([]string{"a", "b", "c"},
		Row{"a": nil},
		Row{"b": float32(math.NaN())},
		Row{},
		Row{"a": (*int)(nil), "b": (*float64)(nil), "c": (*string)(nil)},
	)

	for _, rec := range d.Records() {
		require.Len(t, rec, 3)
		for col, v := range rec {
			assert.NotEmpty(t, v, "column %s", col)
		}
	}
}

func TestRecords_NilPointersGetSentinel(t *testing.T) {
	nan := math.NaN()
	price := 150
	d := New([]string{"sym", "price", "iv", "ts"},
		Row{"sym": "AAPL", "price": &price, "iv": &nan, "ts": (*time.Time)(nil)},
		Row{"sym": "GOOG", "price": (*int)(nil), "iv": (*float64)(nil)},
	)

	records := d.Records()
	require.Len(t, records, 2)
	assert.Equal(t, Record{"sym": "AAPL", "price": "150", "iv": "0", "ts": "0"}, records[0])
	assert.Equal(t, Record{"sym": "GOOG", "price": "0", "iv": "0", "ts": "0"}, records[1])
}

func TestRecords_EmptyDataset(t *testing.T) {
	d := New(nil)
	assert.Empty(t, d.Records())
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	d := New([]string{"sym", "price"}, Row{"sym": "AAPL", "price": nil})
	_ = d.Normalize()
	assert.Nil(t, d.Rows[0]["price"])
}

func TestStringify(t *testing.T) {
	ts := time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "0"},
		{"string", "AAPL240315C00150000", "AAPL240315C00150000"},
		{"int", 150, "150"},
		{"int64", int64(-3), "-3"},
		{"uint8", uint8(7), "7"},
		{"whole float", 150.0, "150"},
		{"fraction", 1.25, "1.25"},
		{"bool", true, "true"},
		{"json number", json.Number("1.50"), "1.50"},
		{"bytes", []byte("raw"), "raw"},
		{"time", ts, "2024-03-15T16:00:00Z"},
		{"time pointer", &ts, "2024-03-15T16:00:00Z"},
		{"nil time pointer", (*time.Time)(nil), "0"},
		{"nil int pointer", (*int)(nil), "0"},
		{"nil float pointer", (*float64)(nil), "0"},
		{"nan", math.NaN(), "0"},
		{"slice falls back to fmt", []int{1, 2}, "[1 2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Stringify(tt.in))
		})
	}
}
