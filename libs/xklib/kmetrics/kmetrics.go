package kmetrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"go.opencensus.io/metric/metricdata"
)

// Kmetric is one named metric with a fixed tag list. It exports "<name>_count" and,
// unless CountOnly, "<name>_sum". Each distinct tag value combination is one TimeSequence.
type Kmetric struct {
	mu          sync.Mutex // held only while adding a TimeSequence
	metricName  string
	description string
	tagNames    []string
	sequences   atomic.Pointer[map[string]*TimeSequence] // copy on write
	startTime   time.Time
	countOnly   bool
}

func CreateKmetric(ctx context.Context, name string, description string, tags []string) *Kmetric {
	km := &Kmetric{
		metricName:  name,
		description: description,
		tagNames:    tags,
		startTime:   time.Now(),
	}
	empty := map[string]*TimeSequence{}
	km.sequences.Store(&empty)
	GetKmetricsRegistry().RegisterKmetric(km)
	return km
}

func (km *Kmetric) CountOnly() *Kmetric {
	km.countOnly = true
	return km
}

func makeSequenceKey(tags ...string) string {
	return strings.Join(tags, "-")
}

// GetTimeSequence: tag values in the same order as the tag names given at creation.
func (km *Kmetric) GetTimeSequence(ctx context.Context, tags ...string) *TimeSequence {
	key := makeSequenceKey(tags...)
	if seq, ok := (*km.sequences.Load())[key]; ok {
		return seq
	}
	km.mu.Lock()
	defer km.mu.Unlock()
	current := *km.sequences.Load()
	if seq, ok := current[key]; ok {
		return seq
	}
	if len(tags) != len(km.tagNames) {
		panic(kerror.Create("InvalidTagValues", "tag value count does not match tag names").
			With("metric", km.metricName).
			With("expectedLen", len(km.tagNames)).
			With("gotLen", len(tags)))
	}
	seq := &TimeSequence{
		parent:      km,
		labelValues: toLabelValues(tags),
	}
	next := make(map[string]*TimeSequence, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[key] = seq
	km.sequences.Store(&next)
	return seq
}

func (km *Kmetric) labelKeys() []metricdata.LabelKey {
	keys := make([]metricdata.LabelKey, len(km.tagNames))
	for i, tagName := range km.tagNames {
		keys[i] = metricdata.LabelKey{Key: tagName}
	}
	return keys
}

func (km *Kmetric) read(suffix string, pick func(*TimeSequence) int64) *metricdata.Metric {
	seqs := *km.sequences.Load()
	keys := make([]string, 0, len(seqs))
	for k := range seqs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	now := time.Now()
	series := make([]*metricdata.TimeSeries, 0, len(keys))
	for _, k := range keys {
		seq := seqs[k]
		series = append(series, &metricdata.TimeSeries{
			LabelValues: append([]metricdata.LabelValue(nil), seq.labelValues...),
			Points:      []metricdata.Point{metricdata.NewInt64Point(now, pick(seq))},
			StartTime:   km.startTime,
		})
	}
	return &metricdata.Metric{
		Descriptor: metricdata.Descriptor{
			Name:        km.metricName + suffix,
			Description: km.description,
			Unit:        metricdata.UnitDimensionless,
			Type:        metricdata.TypeCumulativeInt64,
			LabelKeys:   km.labelKeys(),
		},
		TimeSeries: series,
	}
}

func (km *Kmetric) ReadCount() *metricdata.Metric {
	return km.read("_count", func(ts *TimeSequence) int64 { return ts.count.Load() })
}

func (km *Kmetric) ReadSum() *metricdata.Metric {
	return km.read("_sum", func(ts *TimeSequence) int64 { return ts.sum.Load() })
}

// TimeSequence is one tag value combination of a Kmetric.
type TimeSequence struct {
	parent      *Kmetric
	labelValues []metricdata.LabelValue
	count       atomic.Int64
	sum         atomic.Int64
}

func (ts *TimeSequence) Add(val int64) {
	ts.count.Add(1)
	ts.sum.Add(val)
}

// Touch makes the sequence exist (exported as 0) before the first Add.
func (ts *TimeSequence) Touch() {}

func (ts *TimeSequence) Get() (count int64, sum int64) {
	return ts.count.Load(), ts.sum.Load()
}

func toLabelValues(tags []string) []metricdata.LabelValue {
	values := make([]metricdata.LabelValue, len(tags))
	for i, item := range tags {
		values[i] = metricdata.NewLabelValue(item)
	}
	return values
}
