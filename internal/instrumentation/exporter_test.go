package instrumentation

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StderrExporterWritesSignals(t *testing.T) {
	var buf bytes.Buffer
	inst, err := New(Config{Exporter: ExporterStderr, ExportWriter: &buf})
	require.NoError(t, err)

	ctx := context.Background()
	_, span := inst.Tracer("refresh").Start(ctx, "refresh.exchange")
	SetSpanSuccess(span)
	span.End()
	inst.Metrics().RecordRefresh(ctx, "refreshed", 12)

	// shutdown flushes the batcher and the periodic reader
	require.NoError(t, inst.Shutdown(ctx))

	out := buf.String()
	assert.Contains(t, out, "refresh.exchange")
	assert.Contains(t, out, "auth.refresh.total")
}

func TestNew_ExporterOffKeepsNoop(t *testing.T) {
	var buf bytes.Buffer
	inst, err := New(Config{Exporter: ExporterOff, ExportWriter: &buf})
	require.NoError(t, err)

	_, span := inst.Tracer("refresh").Start(context.Background(), "refresh.exchange")
	span.End()
	require.NoError(t, inst.Shutdown(context.Background()))
	assert.Empty(t, buf.String())
}

func TestNew_UnknownExporter(t *testing.T) {
	_, err := New(Config{Exporter: "zipkin"})
	assert.ErrorContains(t, err, "unknown telemetry exporter")
}
