package kmetrics

import (
	"context"
	"sync"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"go.opencensus.io/metric"
	"go.opencensus.io/metric/metricdata"
	"go.opencensus.io/metric/metricproducer"
)

var (
	gaugeRegistry     *metric.Registry
	gaugeRegistryOnce sync.Once
	gaugesMu          sync.Mutex
	gauges            = map[string]*metric.Int64DerivedGauge{}
)

// GetGaugeRegistry returns the opencensus registry that holds derived gauges. It is added to
// the global producer manager on first use.
func GetGaugeRegistry() *metric.Registry {
	gaugeRegistryOnce.Do(func() {
		gaugeRegistry = metric.NewRegistry()
		metricproducer.GlobalManager().AddProducer(gaugeRegistry)
	})
	return gaugeRegistry
}

// UpsertInt64DerivedGauge registers (once per name) a gauge with the given label keys, and
// points the entry for labelValues at fn. A later upsert with the same values replaces fn.
func UpsertInt64DerivedGauge(ctx context.Context, gaugeName string, description string, labelKeys []string, fn func() int64, labelValues ...string) {
	gaugesMu.Lock()
	gauge, ok := gauges[gaugeName]
	if !ok {
		var err error
		gauge, err = GetGaugeRegistry().AddInt64DerivedGauge(gaugeName,
			metric.WithDescription(description),
			metric.WithUnit(metricdata.UnitDimensionless),
			metric.WithLabelKeys(labelKeys...),
		)
		if err != nil {
			gaugesMu.Unlock()
			panic(kerror.Wrap(err, "MetricProducerFail", "error creating gauge", false).With("gaugeName", gaugeName))
		}
		gauges[gaugeName] = gauge
	}
	gaugesMu.Unlock()

	err := gauge.UpsertEntry(fn, toLabelValues(labelValues)...)
	if err != nil {
		panic(kerror.Wrap(err, "UpsertEntryFail", "error gauge UpsertEntry", false).With("gaugeName", gaugeName))
	}
}
