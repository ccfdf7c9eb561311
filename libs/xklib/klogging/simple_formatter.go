package klogging

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// SimpleFormatter renders one human friendly line per entry: time LEVEL event=.. msg=.. k=v...
type SimpleFormatter struct{}

func NewSimpleFormatter() logrus.Formatter {
	return &SimpleFormatter{}
}

func (f *SimpleFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(entry.Time.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" ")
	sb.WriteString(strings.ToUpper(entry.Level.String()))
	if event, ok := entry.Data["event"]; ok {
		fmt.Fprintf(&sb, " event=%v", event)
	}
	sb.WriteString(" msg=")
	sb.WriteString(quoteIfNeeded(entry.Message))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "event" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := entry.Data[k]
		if s, ok := v.(string); ok {
			fmt.Fprintf(&sb, " %s=%s", k, quoteIfNeeded(s))
			continue
		}
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}
	sb.WriteString("\n")
	return []byte(sb.String()), nil
}

func quoteIfNeeded(v string) string {
	v = strings.ReplaceAll(v, "\n", "")
	if v == "" || strings.Contains(v, " ") {
		return "'" + strings.ReplaceAll(v, "'", "\\'") + "'"
	}
	return v
}
