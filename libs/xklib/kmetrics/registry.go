package kmetrics

import (
	"sort"
	"sync"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"go.opencensus.io/metric/metricdata"
)

// KmetricsRegistry implements metricproducer.Producer. Register it once with
// metricproducer.GlobalManager().AddProducer(kmetrics.GetKmetricsRegistry()).
type KmetricsRegistry struct {
	mu         sync.Mutex
	metrics    map[string]*Kmetric
	histograms map[string]*Khistogram
}

func NewKmetricsRegistry() *KmetricsRegistry {
	return &KmetricsRegistry{
		metrics:    map[string]*Kmetric{},
		histograms: map[string]*Khistogram{},
	}
}

var kmetricsRegistry = NewKmetricsRegistry()

func GetKmetricsRegistry() *KmetricsRegistry {
	return kmetricsRegistry
}

func (registry *KmetricsRegistry) checkName(name string) {
	_, m := registry.metrics[name]
	_, h := registry.histograms[name]
	if m || h {
		panic(kerror.Create("MetricNameConflict", "metric registered twice").With("name", name))
	}
}

func (registry *KmetricsRegistry) RegisterKmetric(km *Kmetric) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.checkName(km.metricName)
	registry.metrics[km.metricName] = km
}

func (registry *KmetricsRegistry) RegisterHistogram(kh *Khistogram) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.checkName(kh.metricName)
	registry.histograms[kh.metricName] = kh
}

// Read implements metricproducer.Producer.
func (registry *KmetricsRegistry) Read() []*metricdata.Metric {
	registry.mu.Lock()
	names := make([]string, 0, len(registry.metrics))
	for name := range registry.metrics {
		names = append(names, name)
	}
	histoNames := make([]string, 0, len(registry.histograms))
	for name := range registry.histograms {
		histoNames = append(histoNames, name)
	}
	registry.mu.Unlock()
	sort.Strings(names)
	sort.Strings(histoNames)

	list := []*metricdata.Metric{}
	for _, name := range names {
		km := registry.lookup(name)
		list = append(list, km.ReadCount())
		if !km.countOnly {
			list = append(list, km.ReadSum())
		}
	}
	for _, name := range histoNames {
		registry.mu.Lock()
		kh := registry.histograms[name]
		registry.mu.Unlock()
		list = append(list, kh.Read())
	}
	return list
}

func (registry *KmetricsRegistry) lookup(name string) *Kmetric {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.metrics[name]
}
