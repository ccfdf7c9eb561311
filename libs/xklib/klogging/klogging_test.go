package klogging

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, WarnLevel, ParseLogLevel("WARNING"))
	assert.Equal(t, VerboseLevel, ParseLogLevel("trace"))
	assert.Panics(t, func() { ParseLogLevel("loud") })
	assert.True(t, NeedLog(ErrorLevel, InfoLevel))
	assert.False(t, NeedLog(DebugLevel, InfoLevel))
}

func TestCtxInfoAttachedToEntry(t *testing.T) {
	logger := &BasicLogger{LogLevel: InfoLevel}
	SetDefaultLogger(logger)
	defer SetDefaultLogger(&BasicLogger{LogLevel: DebugLevel})

	ctx, info := CreateCtxInfo(context.Background())
	info.With("scope", "us-west")
	ctx = EmbedTraceId(ctx, "t-1")

	Info(ctx).With("jobs", 3).Log("SolveStarted", "start")
	assert.Equal(t, "level=info, event=SolveStarted, msg=start, scope=us-west, traceId=t-1, jobs=3", logger.LastLine())

	Debug(ctx).Log("Skipped", "below threshold")
	assert.Equal(t, "level=info, event=SolveStarted, msg=start, scope=us-west, traceId=t-1, jobs=3", logger.LastLine())

	assert.Equal(t, "us-west", GetCurrentCtxInfo(ctx).FindByKey("scope", ""))
	assert.Equal(t, "none", GetCurrentCtxInfo(ctx).FindByKey("missing", "none"))
}

func TestFatalCallsExit(t *testing.T) {
	SetDefaultLogger(NewNullLogger())
	defer SetDefaultLogger(&BasicLogger{LogLevel: DebugLevel})
	exitCode := 0
	restore := SetExitFuncForTest(func(code int) { exitCode = code })
	defer restore()

	Fatal(context.Background()).Log("Boom", "")
	assert.Equal(t, 1, exitCode)
}

type countingReporter struct {
	logged, dropped int
}

func (r *countingReporter) ReportLogSizeBytes(ctx context.Context, size int, logLevel, eventType string) {}

func (r *countingReporter) ReportLogCount(ctx context.Context, count int, logLevel, eventType string, isLogged bool) {
	if isLogged {
		r.logged += count
	} else {
		r.dropped += count
	}
}

func TestLogrusLoggerSimpleFormat(t *testing.T) {
	ctx := context.Background()
	reporter := &countingReporter{}
	logger := NewLogrusLogger(ctx).SetConfig(ctx, "info", "simple").WithMetricsReporter(reporter)
	var buf bytes.Buffer
	logger.RusLogger.SetOutput(&buf)
	SetDefaultLogger(logger)
	defer SetDefaultLogger(&BasicLogger{LogLevel: DebugLevel})

	Info(ctx).With("dc", "us-east-1a").With("free", 12).Log("LedgerReserve", "reserved gpus")
	Debug(ctx).Log("Hidden", "")

	line := buf.String()
	assert.Contains(t, line, "INFO event=LedgerReserve msg='reserved gpus' dc=us-east-1a free=12")
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.Equal(t, 1, reporter.logged)
	assert.Equal(t, 1, reporter.dropped)
}

func TestSimpleFormatterSortsKeys(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "x",
		Data:    logrus.Fields{"b": 2, "a": "one two", "event": "E"},
	}
	out, err := NewSimpleFormatter().Format(entry)
	assert.Nil(t, err)
	assert.Equal(t, "2026-01-02 03:04:05.000 WARNING event=E msg=x a='one two' b=2\n", string(out))
}
