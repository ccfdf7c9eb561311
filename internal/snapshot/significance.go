package snapshot

import (
	"math"
	"sort"

	"github.com/gridsynapse/placement/internal/data"
)

// ForecastMovedSignificantly compares the point in force at nowMs between two forecast series.
// true when price or carbon moved by at least threshold (relative). A series appearing or
// disappearing always counts.
func ForecastMovedSignificantly(old, latest []data.ForecastPoint, nowMs int64, threshold float64) bool {
	if len(old) == 0 || len(latest) == 0 {
		return len(old) != len(latest)
	}
	before := pointInForce(old, nowMs)
	after := pointInForce(latest, nowMs)
	return relativeMove(before.PricePerGpuHour, after.PricePerGpuHour) >= threshold ||
		relativeMove(before.CarbonGPerKwh, after.CarbonGPerKwh) >= threshold
}

func pointInForce(points []data.ForecastPoint, t int64) data.ForecastPoint {
	found := points[0]
	for _, p := range points {
		if p.TimestampMs > t {
			break
		}
		found = p
	}
	return found
}

func relativeMove(before, after float64) float64 {
	if before == after {
		return 0
	}
	base := math.Abs(before)
	if base < 1e-9 {
		return math.Inf(1)
	}
	return math.Abs(after-before) / base
}

func sortedPoints(points []data.ForecastPoint) []data.ForecastPoint {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TimestampMs < points[j].TimestampMs
	})
	return points
}
