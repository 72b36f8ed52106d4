package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultExportInterval is how often metrics are pushed to the collector.
const DefaultExportInterval = 15 * time.Second

// Init installs a global MeterProvider that pushes to an OTLP/HTTP collector
// at endpoint (e.g. "http://localhost:4318/v1/metrics"). An empty endpoint
// leaves the no-op provider in place.
//
// The returned shutdown flushes pending metrics; call it before exit. A
// one-shot run exports at least once through the shutdown flush.
func Init(ctx context.Context, endpoint string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp,
			sdkmetric.WithInterval(DefaultExportInterval),
		)),
	)
	SetMeterProvider(mp)

	return mp.Shutdown, nil
}

var providerMu sync.Mutex

// SetMeterProvider installs mp globally and re-registers the instruments
// against it.
func SetMeterProvider(mp *sdkmetric.MeterProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	otel.SetMeterProvider(mp)
	instOnce = sync.Once{}
}
