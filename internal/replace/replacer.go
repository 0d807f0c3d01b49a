// Package replace implements the full clear-then-load of a key-value table
// from a dataset.
//
// A run moves through two phases, Clearing then Loading, each entered once.
// The first store error ends the run; nothing is retried or rolled back, so a
// failure during Loading leaves the table partially cleared and partially
// loaded.
package replace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/dynaload/internal/dataset"
	"github.com/basekick-labs/dynaload/internal/dynamo"
	"github.com/rs/zerolog"
)

// ErrMissingKeyColumn is returned when a non-empty dataset has no column for
// the table's primary key attribute
var ErrMissingKeyColumn = errors.New("dataset has no primary key column")

// maxLoggedKeys bounds the key list on the info-level progress line
const maxLoggedKeys = 100

// Phase names a step of a replace run
type Phase string

const (
	PhaseClearing Phase = "clearing"
	PhaseLoading  Phase = "loading"
)

// Store is the remote table surface a replace needs. *dynamo.Store satisfies it.
type Store interface {
	ScanPage(ctx context.Context, table string) (*dynamo.ScanResult, error)
	DeleteItem(ctx context.Context, table, keyAttr string, item dynamo.Item) error
	PutRecord(ctx context.Context, table string, rec dataset.Record) error
}

// PhaseError wraps the store error that stopped a run
type PhaseError struct {
	Phase Phase
	Index int // item or record index within the phase, -1 for the scan
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s item %d: %v", e.Phase, e.Index, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Result summarizes a run. On failure it holds the counts reached so far.
type Result struct {
	Table     string        `json:"table"`
	Records   int           `json:"records"`
	Scanned   int           `json:"scanned"`
	Deleted   int           `json:"deleted"`
	Written   int           `json:"written"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

// Replacer replaces a table's contents with a dataset
type Replacer struct {
	store   Store
	keyAttr string
	logger  zerolog.Logger
}

// New creates a Replacer for tables keyed by keyAttr
func New(store Store, keyAttr string, logger zerolog.Logger) *Replacer {
	return &Replacer{
		store:   store,
		keyAttr: keyAttr,
		logger:  logger,
	}
}

// KeyAttribute returns the primary key attribute name
func (r *Replacer) KeyAttribute() string {
	return r.keyAttr
}

// WithRun returns a copy of r whose log lines carry the run id and trigger
func (r *Replacer) WithRun(runID, trigger string) *Replacer {
	cp := *r
	cp.logger = r.logger.With().Str("run_id", runID).Str("trigger", trigger).Logger()
	return &cp
}

// Replace deletes every item on the first scan page of table, then writes one
// item per dataset row. Operations run one at a time, in order.
func (r *Replacer) Replace(ctx context.Context, ds *dataset.Dataset, table string) (*Result, error) {
	start := time.Now()
	res := &Result{Table: table}
	log := r.logger.With().Str("table", table).Logger()

	if ds.Len() > 0 && !ds.HasColumn(r.keyAttr) {
		return res, fmt.Errorf("%w: %q", ErrMissingKeyColumn, r.keyAttr)
	}

	records := ds.Records()
	res.Records = len(records)
	log.Info().
		Int("records", len(records)).
		Strs("keys", recordKeys(records, r.keyAttr)).
		Msg("Records to upload")
	log.Debug().Interface("records", records).Msg("Record contents")

	if err := r.clear(ctx, table, res, log); err != nil {
		res.Duration = time.Since(start)
		return res, err
	}
	log.Info().
		Int("deleted", res.Deleted).
		Bool("truncated", res.Truncated).
		Msg("Cleared records in table")

	if err := r.load(ctx, table, records, res); err != nil {
		res.Duration = time.Since(start)
		return res, err
	}
	res.Duration = time.Since(start)
	log.Info().
		Int("written", res.Written).
		Dur("duration", res.Duration).
		Msg("Uploaded records to table")

	return res, nil
}

// recordKeys lists the key of each record, capped at maxLoggedKeys
func recordKeys(records []dataset.Record, keyAttr string) []string {
	n := min(len(records), maxLoggedKeys)
	keys := make([]string, n)
	for i := range n {
		keys[i] = records[i][keyAttr]
	}
	return keys
}

func (r *Replacer) clear(ctx context.Context, table string, res *Result, log zerolog.Logger) error {
	page, err := r.store.ScanPage(ctx, table)
	if err != nil {
		return &PhaseError{Phase: PhaseClearing, Index: -1, Err: err}
	}
	res.Scanned = len(page.Items)
	res.Truncated = page.Truncated
	if page.Truncated {
		// Items past the first page are left in place
		log.Warn().
			Int("scanned", res.Scanned).
			Msg("Scan returned a continuation token; items beyond the first page will not be cleared")
	}

	for i, item := range page.Items {
		if err := r.store.DeleteItem(ctx, table, r.keyAttr, item); err != nil {
			return &PhaseError{Phase: PhaseClearing, Index: i, Err: err}
		}
		res.Deleted++
	}
	return nil
}

func (r *Replacer) load(ctx context.Context, table string, records []dataset.Record, res *Result) error {
	for i, rec := range records {
		if err := r.store.PutRecord(ctx, table, rec); err != nil {
			return &PhaseError{Phase: PhaseLoading, Index: i, Err: err}
		}
		res.Written++
	}
	return nil
}
