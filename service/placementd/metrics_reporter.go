package main

import (
	"context"

	"github.com/gridsynapse/placement/libs/xklib/kmetrics"
)

var (
	logSizeBytesMetric = kmetrics.CreateKmetric(context.Background(), "klogging_volume_byte", "log size in byte (skipped entries not included)", []string{"level", "event"})
	logCountMetric     = kmetrics.CreateKmetric(context.Background(), "log_count", "log entry count (skipped entries included)", []string{"level", "event", "logged"}).CountOnly()
)

// logMetricsReporter implements klogging.LoggerMetricsReporter on kmetrics.
type logMetricsReporter struct{}

func (lmr *logMetricsReporter) ReportLogSizeBytes(ctx context.Context, size int, logLevel, eventType string) {
	logSizeBytesMetric.GetTimeSequence(ctx, logLevel, eventType).Add(int64(size))
}

func (lmr *logMetricsReporter) ReportLogCount(ctx context.Context, count int, logLevel, eventType string, isLogged bool) {
	logged := "false"
	if isLogged {
		logged = "true"
	}
	logCountMetric.GetTimeSequence(ctx, logLevel, eventType, logged).Add(int64(count))
}
