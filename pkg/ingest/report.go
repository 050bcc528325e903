package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Outcome is the result of executing one unit. A nil Err means success.
type Outcome struct {
	UnitID string
	Table  string
	Rows   int
	Err    error
}

// Failure names a failed unit and its error message.
type Failure struct {
	UnitID string `json:"unit"`
	Error  string `json:"error"`

	err error
}

// Report summarises one ingestion run.
type Report struct {
	RunID       string        `json:"run_id"`
	Units       int           `json:"units"`
	RowsWritten int           `json:"rows_written"`
	Elapsed     time.Duration `json:"-"`
	Failures    []Failure     `json:"failures"`

	// ElapsedSeconds is Elapsed in seconds.
	ElapsedSeconds float64 `json:"elapsed_seconds"`

	// TestRows counts written test result rows only.
	TestRows int `json:"test_rows"`
	// TimedOut counts units that did not complete before the deadline.
	TimedOut int `json:"timed_out"`
}

// Aggregate merges outcomes into a report. Failures keep outcome order.
func Aggregate(runID string, outcomes []Outcome, start, now time.Time) *Report {
	elapsed := now.Sub(start)

	report := &Report{
		RunID:          runID,
		Units:          len(outcomes),
		Elapsed:        elapsed,
		ElapsedSeconds: elapsed.Seconds(),
		Failures:       []Failure{},
	}

	for _, o := range outcomes {
		if o.Err != nil {
			report.Failures = append(report.Failures, Failure{
				UnitID: o.UnitID,
				Error:  o.Err.Error(),
				err:    o.Err,
			})

			var timeoutErr *TimeoutError
			if errors.As(o.Err, &timeoutErr) {
				report.TimedOut++
			}

			continue
		}

		report.RowsWritten += o.Rows

		if o.Table == TableTestResults {
			report.TestRows += o.Rows
		}
	}

	return report
}

// Failed returns the number of failed units.
func (r *Report) Failed() int {
	return len(r.Failures)
}

// Err combines all unit failures into one error, or returns nil when every
// unit succeeded.
func (r *Report) Err() error {
	var result *multierror.Error

	for _, f := range r.Failures {
		err := f.err
		if err == nil {
			err = errors.New(f.Error)
		}

		result = multierror.Append(result, fmt.Errorf("%s: %w", f.UnitID, err))
	}

	return result.ErrorOrNil()
}
