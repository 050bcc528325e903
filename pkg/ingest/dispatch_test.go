package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/testoor/pkg/results"
)

func TestDispatch(t *testing.T) {
	run, err := MapBuild(testBuild(), testNow)
	require.NoError(t, err)

	all := DispatchOptions{SendBuildResults: true, SendTestResults: true}

	tests := []struct {
		name    string
		kind    results.Kind
		tree    *results.Tree
		opts    DispatchOptions
		wantIDs []string
	}{
		{
			name:    "build unit first then one unit per class",
			tree:    scenarioTree(),
			opts:    all,
			wantIDs: []string{BuildUnitID, "io.core.Alpha", "io.core.Beta"},
		},
		{
			name:    "test results only",
			tree:    scenarioTree(),
			opts:    DispatchOptions{SendTestResults: true},
			wantIDs: []string{"io.core.Alpha", "io.core.Beta"},
		},
		{
			name:    "build results only",
			tree:    scenarioTree(),
			opts:    DispatchOptions{SendBuildResults: true},
			wantIDs: []string{BuildUnitID},
		},
		{
			name:    "nothing enabled",
			tree:    scenarioTree(),
			wantIDs: []string{},
		},
		{
			name:    "nil tree",
			tree:    nil,
			opts:    all,
			wantIDs: []string{},
		},
		{
			name:    "empty tree",
			tree:    &results.Tree{},
			opts:    all,
			wantIDs: []string{BuildUnitID},
		},
		{
			name:    "matrix parent sends no test results",
			kind:    results.KindMatrix,
			tree:    scenarioTree(),
			opts:    all,
			wantIDs: []string{BuildUnitID},
		},
		{
			name:    "matrix run sends test results",
			kind:    results.KindMatrixRun,
			tree:    scenarioTree(),
			opts:    DispatchOptions{SendTestResults: true},
			wantIDs: []string{"io.core.Alpha", "io.core.Beta"},
		},
		{
			name:    "explicit freestyle sends test results",
			kind:    results.KindFreestyle,
			tree:    scenarioTree(),
			opts:    DispatchOptions{SendTestResults: true},
			wantIDs: []string{"io.core.Alpha", "io.core.Beta"},
		},
		{
			name:    "unknown kind sends no test results",
			kind:    results.Kind("pipeline"),
			tree:    scenarioTree(),
			opts:    all,
			wantIDs: []string{BuildUnitID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := Dispatch(run, tt.kind, tt.tree, tt.opts, testNow)
			require.NotNil(t, units)

			ids := make([]string, 0, len(units))
			for _, u := range units {
				ids = append(ids, u.ID)
			}

			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestDispatch_RecordCountMatchesCaseCount(t *testing.T) {
	run, err := MapBuild(testBuild(), testNow)
	require.NoError(t, err)

	for _, tree := range []*results.Tree{scenarioTree(), wideTree(7), {}} {
		units := Dispatch(run, results.KindFreestyle, tree,
			DispatchOptions{SendTestResults: true}, testNow)

		total := 0
		seen := make(map[string]struct{})

		for _, u := range units {
			assert.Equal(t, TableTestResults, u.Table)
			require.NoError(t, u.Err())

			total += u.Rows()

			for _, row := range u.tests {
				key := row.Package + "|" + row.Class + "|" + row.Case
				_, dup := seen[key]
				assert.False(t, dup, "duplicate triple %s", key)
				seen[key] = struct{}{}
			}
		}

		assert.Equal(t, tree.CaseCount(), total)
	}
}

func TestDispatch_MappingFailureStaysInItsUnit(t *testing.T) {
	run, err := MapBuild(testBuild(), testNow)
	require.NoError(t, err)

	tree := scenarioTree()
	tree.Packages[0].Classes[0].Cases[1].Name = ""

	units := Dispatch(run, results.KindFreestyle, tree,
		DispatchOptions{SendTestResults: true}, testNow)
	require.Len(t, units, 2)

	var mappingErr *MappingError

	require.ErrorAs(t, units[0].Err(), &mappingErr)
	assert.Equal(t, "case.name", mappingErr.Field)
	assert.Zero(t, units[0].Rows())

	require.NoError(t, units[1].Err())
	assert.Equal(t, 2, units[1].Rows())
}

func TestBuildUnit(t *testing.T) {
	run, err := MapBuild(testBuild(), testNow)
	require.NoError(t, err)

	u := BuildUnit(run)
	assert.Equal(t, BuildUnitID, u.ID)
	assert.Equal(t, TableBuilds, u.Table)
	assert.Equal(t, 1, u.Rows())
	assert.NoError(t, u.Err())
}
