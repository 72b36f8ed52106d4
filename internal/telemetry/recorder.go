// Package telemetry records engine activity as OpenTelemetry metrics.
//
// Instruments register lazily against the global MeterProvider, so the
// Record helpers are safe to call whether or not Init ran; without Init
// they go to the no-op provider.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/roach88/conditions"

// Transition kinds reported by RecordTransition.
const (
	TransitionOpened = "opened"
	TransitionClosed = "closed"
)

type instruments struct {
	transitionTotal metric.Int64Counter
	actionTotal     metric.Int64Counter
	classRunTotal   metric.Int64Counter
	classRunHist    metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     instruments
)

// initInstruments registers every instrument against the current global
// MeterProvider. Called lazily on first use.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)

		inst.transitionTotal, _ = m.Int64Counter("conditions.transitions.total",
			metric.WithDescription("Condition instances opened or closed"),
		)
		inst.actionTotal, _ = m.Int64Counter("conditions.actions.total",
			metric.WithDescription("Action firings by trigger and outcome"),
		)
		inst.classRunTotal, _ = m.Int64Counter("conditions.class_runs.total",
			metric.WithDescription("Class processing passes by outcome"),
		)
		inst.classRunHist, _ = m.Float64Histogram("conditions.class_run.duration_ms",
			metric.WithDescription("Wall time of one class processing pass"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTransition counts an instance opening or closing.
func RecordTransition(ctx context.Context, class, transition string) {
	initInstruments()
	inst.transitionTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("class", class),
			attribute.String("transition", transition),
		),
	)
}

// RecordAction counts one action firing.
func RecordAction(ctx context.Context, class, trigger, action string, err error) {
	initInstruments()
	inst.actionTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("class", class),
			attribute.String("trigger", trigger),
			attribute.String("action", action),
			attribute.String("status", statusStr(err)),
		),
	)
}

// RecordClassRun counts one class pass and records its duration.
func RecordClassRun(ctx context.Context, class string, d time.Duration, err error) {
	initInstruments()
	attrs := metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("status", statusStr(err)),
	)
	inst.classRunTotal.Add(ctx, 1, attrs)
	inst.classRunHist.Record(ctx, float64(d.Microseconds())/1000, attrs)
}
