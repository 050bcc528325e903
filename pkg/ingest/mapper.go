package ingest

import (
	"fmt"
	"time"

	"github.com/ethpandaops/testoor/pkg/results"
	"github.com/ethpandaops/testoor/pkg/store"
)

// DefaultNode is recorded for builds that do not name the node they ran on.
const DefaultNode = "master"

// MapBuild converts a build descriptor into its build row. The sub-build
// label is only set for matrix runs and is nil for every other build.
func MapBuild(raw *results.Build, now time.Time) (*store.BuildRun, error) {
	if raw == nil {
		return nil, &MappingError{Field: "build"}
	}

	if raw.Project == "" {
		return nil, &MappingError{Field: "project"}
	}

	if raw.Number <= 0 {
		return nil, &MappingError{Field: "number"}
	}

	if !raw.Kind.Valid() {
		return nil, &MappingError{Field: "kind", Value: string(raw.Kind)}
	}

	run := &store.BuildRun{
		Project:     raw.Project,
		BuildNumber: raw.Number,
		Node:        raw.Node,
		StartTime:   raw.StartedAt,
		Duration:    buildDuration(raw, now),
		Result:      raw.Result,
		URL:         raw.URL,
		InsertedAt:  now,
	}

	if raw.IsMatrixRun() {
		label := raw.ParentName
		run.SubBuildLabel = &label
	}

	if run.Node == "" {
		run.Node = DefaultNode
	}

	if run.Result == "" {
		run.Result = results.StatusNotBuilt
	}

	return run, nil
}

// buildDuration returns the build duration in whole seconds. A build that
// has not recorded its completion is measured up to now.
func buildDuration(raw *results.Build, now time.Time) int {
	if raw.StartedAt.IsZero() {
		return 0
	}

	end := raw.CompletedAt
	if end.IsZero() {
		end = now
	}

	d := end.Sub(raw.StartedAt)
	if d < 0 {
		return 0
	}

	return int(d / time.Second)
}

// MapTestClass converts the cases of one test class into test result rows,
// in input order.
func MapTestClass(
	build *store.BuildRun,
	packageName, className string,
	cases []results.Case,
	now time.Time,
) ([]*store.TestResult, error) {
	if build == nil {
		return nil, &MappingError{Field: "build"}
	}

	if build.Project == "" {
		return nil, &MappingError{Field: "project"}
	}

	if packageName == "" {
		return nil, &MappingError{Field: "package"}
	}

	if className == "" {
		return nil, &MappingError{Field: "class"}
	}

	rows := make([]*store.TestResult, 0, len(cases))

	for _, c := range cases {
		if c.Name == "" {
			return nil, &MappingError{Field: "case.name"}
		}

		fullName := c.FullName
		if fullName == "" {
			fullName = packageName + "." + className + "." + c.Name
		}

		fragment := c.URL
		if fragment == "" {
			fragment = fmt.Sprintf("testReport/%s/%s/%s/",
				results.SafeName(packageName),
				results.SafeName(className),
				results.SafeName(c.Name),
			)
		}

		rows = append(rows, &store.TestResult{
			Project:       build.Project,
			BuildNumber:   build.BuildNumber,
			SubBuildLabel: build.SubBuildLabel,
			Package:       packageName,
			Class:         className,
			Case:          c.Name,
			FullName:      fullName,
			StartTime:     build.StartTime,
			Duration:      c.Duration,
			Result:        classify(c),
			URL:           build.URL + fragment,
			InsertedAt:    now,
		})
	}

	return rows, nil
}

// classify checks failure before skip.
func classify(c results.Case) string {
	switch {
	case c.Failed:
		return store.ResultFailed
	case c.Skipped:
		return store.ResultSkipped
	default:
		return store.ResultPassed
	}
}
