package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestReader installs a MeterProvider backed by a manual reader.
func newTestReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { SetMeterProvider(sdkmetric.NewMeterProvider()) })
	return reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "metric %s is not an int64 sum", name)
				return sum
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return metricdata.Sum[int64]{}
}

func TestStatusStr(t *testing.T) {
	assert.Equal(t, "ok", statusStr(nil))
	assert.Equal(t, "error", statusStr(errors.New("boom")))
}

func TestRecordTransition(t *testing.T) {
	reader := newTestReader(t)
	ctx := context.Background()

	RecordTransition(ctx, "overdue", TransitionOpened)
	RecordTransition(ctx, "overdue", TransitionOpened)
	RecordTransition(ctx, "overdue", TransitionClosed)

	sum := collectSum(t, reader, "conditions.transitions.total")
	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("transition"))
		counts[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"opened": 2, "closed": 1}, counts)
}

func TestRecordAction_Status(t *testing.T) {
	reader := newTestReader(t)
	ctx := context.Background()

	RecordAction(ctx, "overdue", "initial", "notify", nil)
	RecordAction(ctx, "overdue", "initial", "notify", errors.New("smtp down"))

	sum := collectSum(t, reader, "conditions.actions.total")
	statuses := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("status"))
		statuses[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 1, "error": 1}, statuses)
}

func TestRecordClassRun(t *testing.T) {
	reader := newTestReader(t)

	RecordClassRun(context.Background(), "overdue", 12*time.Millisecond, nil)

	sum := collectSum(t, reader, "conditions.class_runs.total")
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestInit_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
