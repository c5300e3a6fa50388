package logger

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// LogLevel はログレベルを表す.
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// ParseLevel は文字列からログレベルを解釈する.
func ParseLevel(s string) (LogLevel, error) {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case DEBUG:
		return DEBUG, nil
	case INFO, "":
		return INFO, nil
	case WARN, "WARNING":
		return WARN, nil
	case ERROR:
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// slogLevel は slog のレベルに変換.
func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// toAttrs はフィールドとエラーを slog の属性に変換.
// キーの順序を固定して出力を安定させる.
func toAttrs(err error, fields map[string]interface{}) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	return attrs
}
