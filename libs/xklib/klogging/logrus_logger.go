package klogging

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
	"github.com/sirupsen/logrus"
)

// TimestampFormat keeps ms resolution and the zone, and sorts lexically.
const TimestampFormat = "2006-01-02T15:04:05.999Z07:00"

// LoggerMetricsReporter receives per-entry stats. See placementd for the kmetrics-backed one.
type LoggerMetricsReporter interface {
	ReportLogSizeBytes(ctx context.Context, size int, logLevel, eventType string)
	ReportLogCount(ctx context.Context, count int, logLevel, eventType string, isLogged bool)
}

type LogFormat uint32

const (
	TextFormat LogFormat = iota + 1
	JsonFormat
	SimpleFormat
)

var logFormatNames = map[LogFormat]string{
	TextFormat:   "text",
	JsonFormat:   "json",
	SimpleFormat: "simple",
}

func (e LogFormat) String() string {
	if name, ok := logFormatNames[e]; ok {
		return name
	}
	return fmt.Sprintf("%d", int(e))
}

func parseLogFormat(str string) LogFormat {
	str = strings.ToLower(strings.TrimSpace(str))
	for format, name := range logFormatNames {
		if name == str {
			return format
		}
	}
	panic(kerror.Create("UnknownLogFormat", "parse log format failed").With("str", str))
}

func newFormatter(format LogFormat) logrus.Formatter {
	switch format {
	case JsonFormat:
		return &logrus.JSONFormatter{TimestampFormat: TimestampFormat}
	case SimpleFormat:
		return NewSimpleFormatter()
	default:
		return &logrus.TextFormatter{DisableColors: true, TimestampFormat: TimestampFormat, FullTimestamp: true}
	}
}

// LogrusLogger implements Logger on top of logrus. The level threshold is evaluated here;
// the underlying logrus logger accepts everything.
type LogrusLogger struct {
	ctx             context.Context
	RusLogger       *logrus.Logger
	logLevel        Level
	logFormat       LogFormat
	metricsReporter LoggerMetricsReporter
}

func NewLogrusLogger(ctx context.Context) *LogrusLogger {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logrus.New()
	log.SetFormatter(newFormatter(TextFormat))
	log.SetLevel(logrus.TraceLevel)
	return &LogrusLogger{
		ctx:       ctx,
		RusLogger: log,
		logLevel:  InfoLevel,
		logFormat: TextFormat,
	}
}

func (logger *LogrusLogger) WithMetricsReporter(reporter LoggerMetricsReporter) *LogrusLogger {
	logger.metricsReporter = reporter
	return logger
}

// SetConfig accepts level fatal|error|warn|info|debug|verbose and format text|json|simple.
// Bad values are logged and ignored.
func (logger *LogrusLogger) SetConfig(ctx context.Context, newLevelStr string, newFormatStr string) *LogrusLogger {
	defer func() {
		if r := recover(); r != nil {
			Warning(ctx).WithPanic(r).Log("UpdateLogConfigFailed", "log config update failed")
		}
	}()
	newLevel := ParseLogLevel(newLevelStr)
	if logger.logLevel != newLevel {
		Info(ctx).With("oldLogLevel", logger.logLevel).With("newLogLevel", newLevel).Log("UpdateLogLevel", "")
		logger.logLevel = newLevel
	}
	newFormat := parseLogFormat(newFormatStr)
	if logger.logFormat != newFormat {
		logger.RusLogger.SetFormatter(newFormatter(newFormat))
		Info(ctx).With("oldLogFormat", logger.logFormat).With("newLogFormat", newFormat).Log("UpdateLogFormat", "")
		logger.logFormat = newFormat
	}
	return logger
}

// Log implements Logger. Metrics are reported even when shouldLog is false.
func (logger *LogrusLogger) Log(entry *LogEntry, shouldLog bool) {
	if logger.metricsReporter != nil {
		if shouldLog {
			size := len(entry.Msg) + len(entry.LogType)
			for _, item := range entry.Details {
				size += len(item.K) + len(fmt.Sprint(item.V))
			}
			logger.metricsReporter.ReportLogSizeBytes(logger.ctx, size, entry.Level.String(), entry.LogType)
		}
		if NeedLog(entry.Level, DebugLevel) {
			logger.metricsReporter.ReportLogCount(logger.ctx, 1, entry.Level.String(), entry.LogType, shouldLog)
		}
	}
	if !shouldLog {
		return
	}
	fields := make(logrus.Fields, len(entry.Details)+1)
	for _, item := range entry.Details {
		fields[item.K] = item.V
	}
	fields["event"] = entry.LogType
	ent := logger.RusLogger.WithFields(fields)
	ent.Time = entry.Timestamp
	ent.Log(toLogrusLevel(entry.Level), entry.Msg)
}

func (logger *LogrusLogger) Level() Level {
	return logger.logLevel
}

// toLogrusLevel: Entry.Log never exits, even at fatal level. The exit is OsExit's.
func toLogrusLevel(level Level) logrus.Level {
	switch level {
	case FatalLevel:
		return logrus.FatalLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case WarnLevel:
		return logrus.WarnLevel
	case InfoLevel:
		return logrus.InfoLevel
	case DebugLevel:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}
