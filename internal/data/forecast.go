package data

// ForecastPoint is read-only input. A point holds from its timestamp until the next one.
type ForecastPoint struct {
	DatacenterId    DatacenterId
	TimestampMs     int64
	PricePerGpuHour float64
	CarbonGPerKwh   float64
}
