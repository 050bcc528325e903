package ingest

import (
	"context"
	"time"

	"github.com/ethpandaops/testoor/pkg/results"
	"github.com/ethpandaops/testoor/pkg/store"
)

// Logical tables a unit writes to.
const (
	TableBuilds      = "builds"
	TableTestResults = "test_results"
)

// BuildUnitID identifies the build summary unit.
const BuildUnitID = "build"

// Writer persists one batch of rows in a single transaction.
type Writer interface {
	WriteBuildRuns(ctx context.Context, runs []*store.BuildRun) (int, error)
	WriteTestResults(ctx context.Context, rows []*store.TestResult) (int, error)
}

// Unit is one independently scheduled batch: the cases of one test class,
// or the build summary row.
type Unit struct {
	ID    string
	Table string

	build []*store.BuildRun
	tests []*store.TestResult

	// err is a mapping failure captured at dispatch. The unit is reported
	// as failed without writing.
	err error
}

// Rows returns the number of rows the unit writes.
func (u *Unit) Rows() int {
	if u.Table == TableBuilds {
		return len(u.build)
	}

	return len(u.tests)
}

// Err returns the mapping error captured at dispatch, if any.
func (u *Unit) Err() error {
	return u.err
}

func (u *Unit) execute(ctx context.Context, w Writer) Outcome {
	if u.err != nil {
		return Outcome{UnitID: u.ID, Table: u.Table, Err: u.err}
	}

	var (
		n   int
		err error
	)

	if u.Table == TableBuilds {
		n, err = w.WriteBuildRuns(ctx, u.build)
	} else {
		n, err = w.WriteTestResults(ctx, u.tests)
	}

	if err != nil {
		return Outcome{
			UnitID: u.ID,
			Table:  u.Table,
			Err:    &PersistenceError{Table: u.Table, Err: err},
		}
	}

	return Outcome{UnitID: u.ID, Table: u.Table, Rows: n}
}

// DispatchOptions selects what is sent for a build.
type DispatchOptions struct {
	SendBuildResults bool
	SendTestResults  bool
}

// BuildUnit returns the unit writing the build summary row.
func BuildUnit(build *store.BuildRun) *Unit {
	return &Unit{
		ID:    BuildUnitID,
		Table: TableBuilds,
		build: []*store.BuildRun{build},
	}
}

// Dispatch decomposes a result tree into one unit per (package, class),
// mapping rows eagerly. The build summary unit comes first when enabled.
// A nil tree yields no units. Matrix parents never send test results, only
// their runs do.
func Dispatch(
	build *store.BuildRun,
	kind results.Kind,
	tree *results.Tree,
	opts DispatchOptions,
	now time.Time,
) []*Unit {
	if tree == nil {
		return []*Unit{}
	}

	units := make([]*Unit, 0, tree.ClassCount()+1)

	if opts.SendBuildResults {
		units = append(units, BuildUnit(build))
	}

	if !opts.SendTestResults || !kind.HasTestResults() {
		return units
	}

	for _, pkg := range tree.Packages {
		for _, class := range pkg.Classes {
			rows, err := MapTestClass(build, pkg.Name, class.Name, class.Cases, now)

			units = append(units, &Unit{
				ID:    pkg.Name + "." + class.Name,
				Table: TableTestResults,
				tests: rows,
				err:   err,
			})
		}
	}

	return units
}
