package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethpandaops/testoor/pkg/results"
	"github.com/ethpandaops/testoor/pkg/store"
)

var errConnection = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")

// fakeWriter records written rows. Writes for classes listed in fail return
// the mapped error, and writes for classes listed in block wait until
// release is closed.
type fakeWriter struct {
	mu     sync.Mutex
	builds []*store.BuildRun
	tests  []*store.TestResult

	fail    map[string]error
	block   map[string]bool
	release chan struct{}

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		fail:    map[string]error{},
		block:   map[string]bool{},
		release: make(chan struct{}),
	}
}

func (w *fakeWriter) enter() func() {
	w.calls.Add(1)

	n := w.inFlight.Add(1)
	for {
		cur := w.maxInFlight.Load()
		if n <= cur || w.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	return func() { w.inFlight.Add(-1) }
}

func (w *fakeWriter) WriteBuildRuns(_ context.Context, runs []*store.BuildRun) (int, error) {
	defer w.enter()()

	if err, ok := w.fail[BuildUnitID]; ok {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.builds = append(w.builds, runs...)

	return len(runs), nil
}

func (w *fakeWriter) WriteTestResults(_ context.Context, rows []*store.TestResult) (int, error) {
	defer w.enter()()

	if len(rows) > 0 {
		class := rows[0].Class

		if w.block[class] {
			<-w.release
		}

		if err, ok := w.fail[class]; ok {
			return 0, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.tests = append(w.tests, rows...)

	return len(rows), nil
}

func (w *fakeWriter) writtenTests() []*store.TestResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]*store.TestResult(nil), w.tests...)
}

// scenarioTree has one package with two classes of 3 and 2 cases. One case
// fails.
func scenarioTree() *results.Tree {
	return &results.Tree{Packages: []results.Package{{
		Name: "io.core",
		Classes: []results.Class{
			{Name: "Alpha", Cases: []results.Case{
				{Name: "one", Duration: 0.1},
				{Name: "two", Duration: 0.2, Failed: true},
				{Name: "three", Duration: 0.3},
			}},
			{Name: "Beta", Cases: []results.Case{
				{Name: "one", Duration: 1},
				{Name: "two", Duration: 2},
			}},
		},
	}}}
}

// wideTree has n classes of two cases each, spread over two packages.
func wideTree(n int) *results.Tree {
	tree := &results.Tree{Packages: []results.Package{{Name: "io.a"}, {Name: "io.b"}}}

	for i := 0; i < n; i++ {
		p := &tree.Packages[i%2]
		p.Classes = append(p.Classes, results.Class{
			Name:  fmt.Sprintf("Class%02d", i),
			Cases: []results.Case{{Name: "first"}, {Name: "second", Skipped: true}},
		})
	}

	return tree
}
