package kmetrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"go.opencensus.io/metric/metricdata"
)

// Khistogram exports a cumulative distribution. Buckets are upper bounds (exclusive), in ms
// or whatever unit the caller adds.
type Khistogram struct {
	mu          sync.Mutex
	metricName  string
	description string
	tagNames    []string
	buckets     []int64
	sequences   atomic.Pointer[map[string]*HistoSequence]
	startTime   time.Time
}

func CreateKhistogram(ctx context.Context, name string, description string, tags []string, buckets []int64) *Khistogram {
	his := &Khistogram{
		metricName:  name,
		description: description,
		tagNames:    tags,
		buckets:     buckets,
		startTime:   time.Now(),
	}
	empty := map[string]*HistoSequence{}
	his.sequences.Store(&empty)
	GetKmetricsRegistry().RegisterHistogram(his)
	return his
}

func (kh *Khistogram) GetHistoSequence(ctx context.Context, tags ...string) *HistoSequence {
	key := makeSequenceKey(tags...)
	if seq, ok := (*kh.sequences.Load())[key]; ok {
		return seq
	}
	kh.mu.Lock()
	defer kh.mu.Unlock()
	current := *kh.sequences.Load()
	if seq, ok := current[key]; ok {
		return seq
	}
	if len(tags) != len(kh.tagNames) {
		panic(kerror.Create("InvalidTagValues", "tag value count does not match tag names").
			With("metric", kh.metricName).
			With("expectedLen", len(kh.tagNames)).
			With("gotLen", len(tags)))
	}
	seq := &HistoSequence{
		parent:      kh,
		labelValues: toLabelValues(tags),
		counts:      make([]atomic.Int64, len(kh.buckets)),
	}
	next := make(map[string]*HistoSequence, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[key] = seq
	kh.sequences.Store(&next)
	return seq
}

// Read returns a single opencensus distribution metric.
func (kh *Khistogram) Read() *metricdata.Metric {
	seqs := *kh.sequences.Load()
	keys := make([]string, 0, len(seqs))
	for k := range seqs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	bounds := make([]float64, len(kh.buckets))
	for i, b := range kh.buckets {
		bounds[i] = float64(b)
	}
	labelKeys := make([]metricdata.LabelKey, len(kh.tagNames))
	for i, tagName := range kh.tagNames {
		labelKeys[i] = metricdata.LabelKey{Key: tagName}
	}
	now := time.Now()
	series := make([]*metricdata.TimeSeries, 0, len(keys))
	for _, k := range keys {
		series = append(series, &metricdata.TimeSeries{
			LabelValues: append([]metricdata.LabelValue(nil), seqs[k].labelValues...),
			Points:      []metricdata.Point{metricdata.NewDistributionPoint(now, seqs[k].snapshot(bounds))},
			StartTime:   kh.startTime,
		})
	}
	return &metricdata.Metric{
		Descriptor: metricdata.Descriptor{
			Name:        kh.metricName,
			Description: kh.description,
			Unit:        metricdata.UnitMilliseconds,
			Type:        metricdata.TypeCumulativeDistribution,
			LabelKeys:   labelKeys,
		},
		TimeSeries: series,
	}
}

type HistoSequence struct {
	parent      *Khistogram
	labelValues []metricdata.LabelValue
	counts      []atomic.Int64 // one per bucket, values above the last bound only land in count
	count       atomic.Int64
	sum         atomic.Int64
}

func (hs *HistoSequence) Add(val int64) {
	// opencensus buckets are disjoint: bucket i holds bounds[i-1] <= v < bounds[i]
	idx := sort.Search(len(hs.parent.buckets), func(i int) bool { return val < hs.parent.buckets[i] })
	if idx < len(hs.counts) {
		hs.counts[idx].Add(1)
	}
	hs.count.Add(1)
	hs.sum.Add(val)
}

func (hs *HistoSequence) Get() (count int64, sum int64) {
	return hs.count.Load(), hs.sum.Load()
}

func (hs *HistoSequence) snapshot(bounds []float64) *metricdata.Distribution {
	count := hs.count.Load()
	buckets := make([]metricdata.Bucket, len(bounds)+1)
	var inBounds int64
	for i := range hs.counts {
		c := hs.counts[i].Load()
		buckets[i] = metricdata.Bucket{Count: c}
		inBounds += c
	}
	buckets[len(bounds)] = metricdata.Bucket{Count: count - inBounds}
	return &metricdata.Distribution{
		Count:         count,
		Sum:           float64(hs.sum.Load()),
		BucketOptions: &metricdata.BucketOptions{Bounds: bounds},
		Buckets:       buckets,
	}
}
