package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/basekick-labs/dynaload/internal/replace"
	"github.com/basekick-labs/dynaload/internal/runlog"
)

// printSummary writes the completion notices for a successful run, or the
// phase a failed run reached.
func printSummary(w io.Writer, run *runlog.Run, runErr error) {
	if runErr != nil {
		printFailure(w, run, runErr)
		return
	}

	fmt.Fprintf(w, "Cleared records in DynamoDB table: %s (%d deleted)\n", run.Table, run.Deleted)
	fmt.Fprintf(w, "Uploaded records to DynamoDB table: %s (%d written)\n", run.Table, run.Written)
	if run.Truncated {
		fmt.Fprintln(w, "warning: scan returned more than one page; items beyond the first page were not cleared")
	}
}

func printFailure(w io.Writer, run *runlog.Run, runErr error) {
	if run == nil {
		run = &runlog.Run{}
	}
	table := run.Table

	var phaseErr *replace.PhaseError
	if !errors.As(runErr, &phaseErr) {
		fmt.Fprintf(w, "Replace of DynamoDB table %s failed before clearing: %v\n", table, runErr)
		return
	}

	switch phaseErr.Phase {
	case replace.PhaseClearing:
		if phaseErr.Index < 0 {
			fmt.Fprintf(w, "Clearing DynamoDB table %s failed at scan: %v\n", table, phaseErr.Err)
			return
		}
		fmt.Fprintf(w, "Clearing DynamoDB table %s failed at item %d of %d (%d deleted): %v\n",
			table, phaseErr.Index, run.Scanned, run.Deleted, phaseErr.Err)
	case replace.PhaseLoading:
		fmt.Fprintf(w, "Loading DynamoDB table %s failed at record %d of %d (%d written): %v\n",
			table, phaseErr.Index, run.Records, run.Written, phaseErr.Err)
	default:
		fmt.Fprintf(w, "Replace of DynamoDB table %s failed: %v\n", table, runErr)
	}
}
