package costfunc

import "github.com/gridsynapse/placement/internal/data"

// WindowAverage returns the time weighted average price and carbon over [startMs, endMs].
// Points must be sorted by timestamp. A point holds until the next one; the first point also
// covers any time before it, the last covers everything after it.
// ok is false when there are no points.
func WindowAverage(points []data.ForecastPoint, startMs, endMs int64) (price float64, carbon float64, ok bool) {
	if len(points) == 0 {
		return 0, 0, false
	}
	if endMs <= startMs {
		p := pointAt(points, startMs)
		return p.PricePerGpuHour, p.CarbonGPerKwh, true
	}
	var sumPrice, sumCarbon float64
	for i := range points {
		lo := startMs
		if i > 0 && points[i].TimestampMs > lo {
			lo = points[i].TimestampMs
		}
		hi := endMs
		if i+1 < len(points) && points[i+1].TimestampMs < hi {
			hi = points[i+1].TimestampMs
		}
		if hi <= lo {
			continue
		}
		span := float64(hi - lo)
		sumPrice += points[i].PricePerGpuHour * span
		sumCarbon += points[i].CarbonGPerKwh * span
	}
	total := float64(endMs - startMs)
	return sumPrice / total, sumCarbon / total, true
}

// pointAt: the last point at or before t (or the first point if t precedes them all).
func pointAt(points []data.ForecastPoint, t int64) data.ForecastPoint {
	found := points[0]
	for _, p := range points {
		if p.TimestampMs > t {
			break
		}
		found = p
	}
	return found
}
