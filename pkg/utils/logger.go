package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Logger процессный логгер поверх zerolog.
// Создается один раз в main и передается в компоненты.
type Logger struct {
	level LogLevel
	zl    zerolog.Logger
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

func init() {
	defaultLogger = NewLogger("info")
}

func parseLevel(levelStr string) LogLevel {
	switch levelStr {
	case "debug":
		return DEBUG
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger создает консольный логгер с заданным уровнем
func NewLogger(levelStr string) *Logger {
	return NewLoggerWithFormat(levelStr, "console", os.Stdout)
}

// NewLoggerWithFormat создает логгер; format "json" пишет структурированные строки
func NewLoggerWithFormat(levelStr, format string, out io.Writer) *Logger {
	level := parseLevel(levelStr)

	var w io.Writer = out
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{level: level, zl: zl}
}

// With возвращает дочерний логгер с дополнительным полем
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		level: l.level,
		zl:    l.zl.With().Interface(key, value).Logger(),
	}
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.zl.Warn().Msg(fmt.Sprintf(format, v...))
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.zl.Error().Msg(fmt.Sprintf(format, v...))
}

// SetDefault заменяет глобальный логгер. Вызывается только при старте.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default возвращает глобальный логгер
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Global logging functions
func LogDebug(msg string) {
	Default().Debug("%s", msg)
}

func LogInfo(msg string) {
	Default().Info("%s", msg)
}

func LogWarn(msg string) {
	Default().Warn("%s", msg)
}

func LogError(msg string) {
	Default().Error("%s", msg)
}
