package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/testoor/pkg/results"
	"github.com/ethpandaops/testoor/pkg/store"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func testBuild() *results.Build {
	return &results.Build{
		Project:     "core",
		Number:      42,
		Node:        "agent-1",
		StartedAt:   testNow.Add(-90 * time.Second),
		CompletedAt: testNow.Add(-30 * time.Second),
		Result:      results.StatusUnstable,
		URL:         "https://ci.example.com/job/core/42/",
	}
}

func TestMapBuild(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(b *results.Build)
		validate func(t *testing.T, run *store.BuildRun)
	}{
		{
			name:   "root build has no sub-build label",
			mutate: func(*results.Build) {},
			validate: func(t *testing.T, run *store.BuildRun) {
				assert.Nil(t, run.SubBuildLabel)
				assert.Equal(t, "core", run.Project)
				assert.Equal(t, 42, run.BuildNumber)
				assert.Equal(t, "agent-1", run.Node)
				assert.Equal(t, 60, run.Duration)
				assert.Equal(t, results.StatusUnstable, run.Result)
				assert.Equal(t, testNow, run.InsertedAt)
			},
		},
		{
			name: "matrix run takes the parent name",
			mutate: func(b *results.Build) {
				b.Kind = results.KindMatrixRun
				b.ParentName = "jdk=17,os=linux"
			},
			validate: func(t *testing.T, run *store.BuildRun) {
				require.NotNil(t, run.SubBuildLabel)
				assert.Equal(t, "jdk=17,os=linux", *run.SubBuildLabel)
			},
		},
		{
			name: "matrix parent is a root build",
			mutate: func(b *results.Build) {
				b.Kind = results.KindMatrix
				b.ParentName = "ignored"
			},
			validate: func(t *testing.T, run *store.BuildRun) {
				assert.Nil(t, run.SubBuildLabel)
			},
		},
		{
			name: "defaults node and result",
			mutate: func(b *results.Build) {
				b.Node = ""
				b.Result = ""
			},
			validate: func(t *testing.T, run *store.BuildRun) {
				assert.Equal(t, DefaultNode, run.Node)
				assert.Equal(t, results.StatusNotBuilt, run.Result)
			},
		},
		{
			name:   "running build is measured up to now",
			mutate: func(b *results.Build) { b.CompletedAt = time.Time{} },
			validate: func(t *testing.T, run *store.BuildRun) {
				assert.Equal(t, 90, run.Duration)
			},
		},
		{
			name: "fractional seconds are truncated",
			mutate: func(b *results.Build) {
				b.CompletedAt = b.StartedAt.Add(2999 * time.Millisecond)
			},
			validate: func(t *testing.T, run *store.BuildRun) {
				assert.Equal(t, 2, run.Duration)
			},
		},
		{
			name:   "missing start time",
			mutate: func(b *results.Build) { b.StartedAt = time.Time{} },
			validate: func(t *testing.T, run *store.BuildRun) {
				assert.Zero(t, run.Duration)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBuild()
			tt.mutate(b)

			run, err := MapBuild(b, testNow)
			require.NoError(t, err)

			tt.validate(t, run)
		})
	}
}

func TestMapBuild_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		build *results.Build
		field string
	}{
		{name: "nil build", build: nil, field: "build"},
		{name: "no project", build: &results.Build{Number: 1}, field: "project"},
		{name: "no number", build: &results.Build{Project: "core"}, field: "number"},
		{
			name:  "unknown kind",
			build: &results.Build{Project: "core", Number: 1, Kind: "bogus"},
			field: "kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MapBuild(tt.build, testNow)

			var mappingErr *MappingError

			require.ErrorAs(t, err, &mappingErr)
			assert.Equal(t, tt.field, mappingErr.Field)
		})
	}
}

func TestMapBuild_KnownKinds(t *testing.T) {
	for _, kind := range []results.Kind{
		"", results.KindFreestyle, results.KindMatrix, results.KindMatrixRun,
	} {
		b := testBuild()
		b.Kind = kind

		_, err := MapBuild(b, testNow)
		assert.NoError(t, err, "kind %q", kind)
	}

	b := testBuild()
	b.Kind = "pipeline"

	_, err := MapBuild(b, testNow)
	require.Error(t, err)
	assert.Equal(t, `mapping: invalid kind "pipeline"`, err.Error())
}

func TestMapTestClass(t *testing.T) {
	run, err := MapBuild(testBuild(), testNow)
	require.NoError(t, err)

	cases := []results.Case{
		{Name: "passes", Duration: 0.5},
		{Name: "fails", Duration: 1.25, Failed: true},
		{Name: "skips", Skipped: true},
		{Name: "fails and skips", Failed: true, Skipped: true},
		{Name: "custom", FullName: "io.core.Custom.name", URL: "custom/"},
		{Name: "a/b:c"},
	}

	rows, err := MapTestClass(run, "io.core", "StoreTest", cases, testNow)
	require.NoError(t, err)
	require.Len(t, rows, len(cases))

	for i, row := range rows {
		assert.Equal(t, cases[i].Name, row.Case, "output keeps input order")
		assert.Equal(t, "core", row.Project)
		assert.Equal(t, 42, row.BuildNumber)
		assert.Nil(t, row.SubBuildLabel)
		assert.Equal(t, "io.core", row.Package)
		assert.Equal(t, "StoreTest", row.Class)
		assert.Equal(t, run.StartTime, row.StartTime)
		assert.Equal(t, testNow, row.InsertedAt)
	}

	assert.Equal(t, store.ResultPassed, rows[0].Result)
	assert.Equal(t, store.ResultFailed, rows[1].Result)
	assert.Equal(t, store.ResultSkipped, rows[2].Result)
	assert.Equal(t, store.ResultFailed, rows[3].Result, "failure wins over skip")

	assert.Equal(t, "io.core.StoreTest.passes", rows[0].FullName)
	assert.InDelta(t, 1.25, rows[1].Duration, 1e-9)
	assert.Equal(t,
		"https://ci.example.com/job/core/42/testReport/io.core/StoreTest/passes/",
		rows[0].URL)

	assert.Equal(t, "io.core.Custom.name", rows[4].FullName)
	assert.Equal(t, "https://ci.example.com/job/core/42/custom/", rows[4].URL)
	assert.Equal(t,
		"https://ci.example.com/job/core/42/testReport/io.core/StoreTest/a_b_c/",
		rows[5].URL)
}

func TestMapTestClass_MatrixRunLabel(t *testing.T) {
	b := testBuild()
	b.Kind = results.KindMatrixRun
	b.ParentName = "os=linux"

	run, err := MapBuild(b, testNow)
	require.NoError(t, err)

	rows, err := MapTestClass(run, "p", "C", []results.Case{{Name: "x"}}, testNow)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].SubBuildLabel)
	assert.Equal(t, "os=linux", *rows[0].SubBuildLabel)
}

func TestMapTestClass_MissingFields(t *testing.T) {
	run, err := MapBuild(testBuild(), testNow)
	require.NoError(t, err)

	tests := []struct {
		name      string
		build     *store.BuildRun
		pkg       string
		class     string
		cases     []results.Case
		wantField string
	}{
		{name: "nil build", pkg: "p", class: "C", wantField: "build"},
		{name: "no package", build: run, class: "C", wantField: "package"},
		{name: "no class", build: run, pkg: "p", wantField: "class"},
		{
			name:      "unnamed case",
			build:     run,
			pkg:       "p",
			class:     "C",
			cases:     []results.Case{{Name: "ok"}, {}},
			wantField: "case.name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := MapTestClass(tt.build, tt.pkg, tt.class, tt.cases, testNow)
			assert.Nil(t, rows)

			var mappingErr *MappingError

			require.ErrorAs(t, err, &mappingErr)
			assert.Equal(t, tt.wantField, mappingErr.Field)
		})
	}
}

func TestMapTestClass_EmptyClass(t *testing.T) {
	run, err := MapBuild(testBuild(), testNow)
	require.NoError(t, err)

	rows, err := MapTestClass(run, "p", "C", nil, testNow)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
