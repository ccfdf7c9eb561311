package klogging

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gridsynapse/placement/libs/xklib/kerror"
)

type Level uint32

const (
	FatalLevel Level = iota + 1
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	VerboseLevel
)

var levelNames = map[Level]string{
	FatalLevel:   "fatal",
	ErrorLevel:   "error",
	WarnLevel:    "warn",
	InfoLevel:    "info",
	DebugLevel:   "debug",
	VerboseLevel: "verbose",
}

// levelAliases: every spelling ParseLogLevel accepts
var levelAliases = map[string]Level{
	"fatal": FatalLevel, "error": ErrorLevel, "err": ErrorLevel,
	"warning": WarnLevel, "warn": WarnLevel,
	"information": InfoLevel, "info": InfoLevel,
	"debug": DebugLevel, "verbose": VerboseLevel, "trace": VerboseLevel,
}

func (e Level) String() string {
	if name, ok := levelNames[e]; ok {
		return name
	}
	return fmt.Sprintf("%d", int(e))
}

// ParseLogLevel panics with UnknownLogLevel on unrecognized input.
func ParseLogLevel(str string) Level {
	if level, ok := levelAliases[strings.ToLower(strings.TrimSpace(str))]; ok {
		return level
	}
	panic(kerror.Create("UnknownLogLevel", "parse log level failed").With("str", str))
}

func NeedLog(importance Level, threshold Level) bool {
	return int(importance) <= int(threshold)
}

type Logger interface {
	Log(entry *LogEntry, shouldLog bool)
	Level() Level
}

type loggerHolder struct {
	logger Logger
}

var currentLogger atomic.Value

func GetLogger() Logger {
	if holder, ok := currentLogger.Load().(*loggerHolder); ok {
		return holder.logger
	}
	basic := &BasicLogger{LogLevel: DebugLevel}
	currentLogger.Store(&loggerHolder{basic})
	return basic
}

func SetDefaultLogger(logger Logger) {
	currentLogger.Store(&loggerHolder{logger})
}

type Keypair struct {
	K string
	V interface{}
}

type LogEntry struct {
	Logger    Logger
	Level     Level
	ShouldLog bool
	LogType   string
	Msg       string
	Details   []Keypair
	Ctx       context.Context
	Timestamp time.Time
}

func NewEntry(ctx context.Context, level Level) *LogEntry {
	logger := GetLogger()
	threshold := logger.Level()
	entry := &LogEntry{
		Logger:    logger,
		Level:     level,
		ShouldLog: NeedLog(level, threshold),
		Ctx:       ctx,
		Timestamp: time.Now(),
	}
	if entry.ShouldLog {
		GetCurrentCtxInfo(ctx).visit(func(k, v string) {
			entry.Details = append(entry.Details, Keypair{k, v})
		})
	}
	return entry
}

func (entry *LogEntry) With(k string, v interface{}) *LogEntry {
	if entry.ShouldLog {
		entry.Details = append(entry.Details, Keypair{k, v})
	}
	return entry
}

func (entry *LogEntry) WithError(err error) *LogEntry {
	if !entry.ShouldLog || err == nil {
		return entry
	}
	if ke, ok := err.(*kerror.Kerror); ok {
		for _, item := range ke.Details {
			entry.Details = append(entry.Details, Keypair{item.K, item.V})
		}
		entry.Details = append(entry.Details, Keypair{"errorType", ke.Type}, Keypair{"errorMsg", ke.Msg})
		if cause := ke.CausedByString(); cause != "" {
			entry.Details = append(entry.Details, Keypair{"causedBy", cause})
		}
		return entry
	}
	entry.Details = append(entry.Details, Keypair{"error", err.Error()})
	return entry
}

func (entry *LogEntry) WithPanic(r interface{}) *LogEntry {
	switch val := r.(type) {
	case *kerror.Kerror:
		entry.WithError(val).With("stack", val.Stack)
	case error:
		entry.WithError(val).With("stack", kerror.GetCallStack(1))
	default:
		entry.With("panic", r).With("stack", kerror.GetCallStack(1))
	}
	return entry
}

// Log emits the entry. A fatal entry exits the process after logging.
func (entry *LogEntry) Log(logType, msg string) {
	entry.LogType = logType
	entry.Msg = msg
	entry.Logger.Log(entry, entry.ShouldLog)
	if entry.Level == FatalLevel {
		OsExit(1)
	}
}

func (entry *LogEntry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "level=%v, event=%s, msg=%s", entry.Level.String(), entry.LogType, entry.Msg)
	for _, item := range entry.Details {
		fmt.Fprintf(&b, ", %s=%v", item.K, item.V)
	}
	return b.String()
}

func Fatal(ctx context.Context) *LogEntry   { return NewEntry(ctx, FatalLevel) }
func Error(ctx context.Context) *LogEntry   { return NewEntry(ctx, ErrorLevel) }
func Warning(ctx context.Context) *LogEntry { return NewEntry(ctx, WarnLevel) }
func Info(ctx context.Context) *LogEntry    { return NewEntry(ctx, InfoLevel) }
func Debug(ctx context.Context) *LogEntry   { return NewEntry(ctx, DebugLevel) }
func Verbose(ctx context.Context) *LogEntry { return NewEntry(ctx, VerboseLevel) }

/********************************* BasicLogger ************************************/

// BasicLogger prints to stdout, and remembers the last line for tests.
type BasicLogger struct {
	LogLevel Level
	last     atomic.Value
}

func (bl *BasicLogger) Log(entry *LogEntry, shouldLog bool) {
	if !shouldLog {
		return
	}
	line := entry.String()
	fmt.Println(line)
	bl.last.Store(line)
}

func (bl *BasicLogger) Level() Level {
	return bl.LogLevel
}

func (bl *BasicLogger) LastLine() string {
	if s, ok := bl.last.Load().(string); ok {
		return s
	}
	return ""
}

// NullLogger discards everything.
type NullLogger struct{}

func (nl *NullLogger) Log(entry *LogEntry, shouldLog bool) {}

func (nl *NullLogger) Level() Level {
	return VerboseLevel
}

func NewNullLogger() Logger {
	return &NullLogger{}
}
