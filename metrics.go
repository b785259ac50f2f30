package offlinecache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/invincit/offline-cache"

// Request outcomes recorded by the strategies.
const (
	outcomeHit         = "hit"
	outcomeNetwork     = "network"
	outcomeFallback    = "fallback"
	outcomeEntryPage   = "entry-page"
	outcomeUnavailable = "unavailable"
	outcomeBypass      = "bypass"
)

// workerMetrics records strategy outcomes and population results.
// A nil *workerMetrics records nothing.
type workerMetrics struct {
	requests metric.Int64Counter
	populate metric.Int64Counter
	pruned   metric.Int64Counter
}

func newWorkerMetrics(meter metric.Meter) (*workerMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	requests, err := meter.Int64Counter(
		"offlinecache.requests",
		metric.WithDescription("Intercepted requests by class and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	populate, err := meter.Int64Counter(
		"offlinecache.populate",
		metric.WithDescription("Manifest entries fetched at install time"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}
	pruned, err := meter.Int64Counter(
		"offlinecache.pruned",
		metric.WithDescription("Namespaces deleted at activation or on request"),
		metric.WithUnit("{namespace}"),
	)
	if err != nil {
		return nil, err
	}
	return &workerMetrics{
		requests: requests,
		populate: populate,
		pruned:   pruned,
	}, nil
}

func noopWorkerMetrics() *workerMetrics {
	m, _ := newWorkerMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func (m *workerMetrics) recordRequest(ctx context.Context, class Class, outcome string) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", string(class)),
		attribute.String("outcome", outcome),
	))
}

func (m *workerMetrics) recordPopulate(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.populate.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}

func (m *workerMetrics) recordPruned(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.pruned.Add(ctx, int64(count))
}
