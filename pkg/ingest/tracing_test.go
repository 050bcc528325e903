package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ethpandaops/testoor/pkg/results"
)

func newRecordingProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return tp, sr
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}

	return attrs
}

func TestIngest_Spans(t *testing.T) {
	tp, sr := newRecordingProvider(t)

	w := newFakeWriter()
	w.fail["Alpha"] = errConnection

	report, err := newTestIngester(w, enabledConfig(), WithTracerProvider(tp)).
		Ingest(context.Background(), testBuild(), scenarioTree())
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 4, "one run span and one span per unit")

	var (
		run   sdktrace.ReadOnlySpan
		units = map[string]sdktrace.ReadOnlySpan{}
	)

	for _, s := range spans {
		switch s.Name() {
		case "testoor.ingest":
			run = s
		case "testoor.ingest.unit":
			units[spanAttrs(s)["testoor.unit"].AsString()] = s
		}
	}

	require.NotNil(t, run)

	attrs := spanAttrs(run)
	assert.Equal(t, report.RunID, attrs["testoor.run_id"].AsString())
	assert.Equal(t, "core", attrs["testoor.project"].AsString())
	assert.Equal(t, int64(42), attrs["testoor.build_number"].AsInt64())
	assert.Equal(t, int64(3), attrs["testoor.units"].AsInt64())
	assert.Equal(t, int64(3), attrs["testoor.rows_written"].AsInt64())
	assert.Equal(t, int64(1), attrs["testoor.failed_units"].AsInt64())
	assert.Equal(t, codes.Error, run.Status().Code)
	assert.Equal(t, "1 units failed", run.Status().Description)

	require.Len(t, units, 3)

	for id, s := range units {
		assert.Equal(t, run.SpanContext().SpanID(), s.Parent().SpanID(), "unit %s", id)
	}

	alpha := units["io.core.Alpha"]
	require.NotNil(t, alpha)
	assert.Equal(t, TableTestResults, spanAttrs(alpha)["testoor.table"].AsString())
	assert.Equal(t, int64(3), spanAttrs(alpha)["testoor.rows"].AsInt64())
	assert.Equal(t, codes.Error, alpha.Status().Code)
	assert.Contains(t, alpha.Status().Description, "connection refused")
	require.Len(t, alpha.Events(), 1)
	assert.Equal(t, "exception", alpha.Events()[0].Name)

	build := units[BuildUnitID]
	require.NotNil(t, build)
	assert.Equal(t, TableBuilds, spanAttrs(build)["testoor.table"].AsString())
	assert.Equal(t, codes.Unset, build.Status().Code)
	assert.Equal(t, codes.Unset, units["io.core.Beta"].Status().Code)
}

func TestIngest_SpanRecordsMappingError(t *testing.T) {
	tp, sr := newRecordingProvider(t)

	_, err := newTestIngester(newFakeWriter(), enabledConfig(), WithTracerProvider(tp)).
		Ingest(context.Background(), &results.Build{Project: "core"}, scenarioTree())
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "testoor.ingest", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Status().Description, "number")
}
