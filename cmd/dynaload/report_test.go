package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/basekick-labs/dynaload/internal/replace"
	"github.com/basekick-labs/dynaload/internal/runlog"
	"github.com/stretchr/testify/assert"
)

func TestPrintSummary_Success(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, &runlog.Run{Table: "options", Records: 2, Deleted: 3, Written: 2}, nil)

	assert.Equal(t,
		"Cleared records in DynamoDB table: options (3 deleted)\n"+
			"Uploaded records to DynamoDB table: options (2 written)\n",
		out.String())
}

func TestPrintSummary_Truncated(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, &runlog.Run{Table: "options", Truncated: true}, nil)

	assert.Contains(t, out.String(), "items beyond the first page were not cleared")
}

func TestPrintSummary_FailureHasNoCompletionNotice(t *testing.T) {
	boom := errors.New("throttled")

	tests := []struct {
		name string
		run  *runlog.Run
		err  error
		want string
	}{
		{
			name: "load",
			run:  &runlog.Run{Table: "options"},
			err:  fmt.Errorf("load dataset: %w", boom),
			want: "Replace of DynamoDB table options failed before clearing: load dataset: throttled\n",
		},
		{
			name: "scan",
			run:  &runlog.Run{Table: "options"},
			err:  &replace.PhaseError{Phase: replace.PhaseClearing, Index: -1, Err: boom},
			want: "Clearing DynamoDB table options failed at scan: throttled\n",
		},
		{
			name: "delete",
			run:  &runlog.Run{Table: "options", Scanned: 4, Deleted: 1},
			err:  &replace.PhaseError{Phase: replace.PhaseClearing, Index: 1, Err: boom},
			want: "Clearing DynamoDB table options failed at item 1 of 4 (1 deleted): throttled\n",
		},
		{
			name: "put",
			run:  &runlog.Run{Table: "options", Records: 3, Deleted: 4, Written: 2},
			err:  fmt.Errorf("wrapped: %w", &replace.PhaseError{Phase: replace.PhaseLoading, Index: 2, Err: boom}),
			want: "Loading DynamoDB table options failed at record 2 of 3 (2 written): throttled\n",
		},
		{
			name: "no run",
			err:  boom,
			want: "Replace of DynamoDB table  failed before clearing: throttled\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			printSummary(&out, tt.run, tt.err)

			assert.Equal(t, tt.want, out.String())
			assert.NotContains(t, out.String(), "Cleared records")
			assert.NotContains(t, out.String(), "Uploaded records")
		})
	}
}
