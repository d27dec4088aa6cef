package instrumentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(context.Background()) }()

	assert.NotNil(t, inst.Metrics())
	assert.NotNil(t, inst.Tracer("refresh"))
	assert.NotNil(t, inst.Resource())
}

func TestMetrics_RecordDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	m := Noop().Metrics()

	m.RecordRefresh(ctx, "refreshed", 12.5)
	m.RecordRefresh(ctx, "deferred", 30000)
	m.RecordJoined(ctx)
	m.RecordForcedLogout(ctx, "invalid_grant")
	m.RecordMigration(ctx, "migrated")
	m.RecordStorageError(ctx, "set")
}

func TestTracing_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	inst, err := New(Config{TracerProvider: tp})
	require.NoError(t, err)

	_, span := inst.Tracer("refresh").Start(context.Background(), "refresh.exchange")
	RecordError(span, errors.New("boom"))
	span.End()

	_, ok := inst.Tracer("refresh").Start(context.Background(), "refresh.exchange")
	SetSpanSuccess(ok)
	ok.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Ok, spans[1].Status().Code)

	require.NoError(t, inst.Shutdown(context.Background()))
	require.NoError(t, inst.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestRecordError_NilSafe(t *testing.T) {
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
}
