// Package logger wraps zerolog behind the same small, printf-style call
// surface the rest of the codebase expects, so adapters and services never
// touch zerolog's event-builder API directly.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the exported, initialized logger instance.
var Log zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	level := parseLogLevelFromEnv()
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		Log = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
		return
	}
	Log = zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func parseLogLevelFromEnv() zerolog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithField returns a child logger with a single structured field attached,
// for call sites that want to tag every subsequent log line (e.g. a module
// ID or guardian tick number).
func WithField(key string, value any) zerolog.Logger {
	return Log.With().Interface(key, value).Logger()
}

func Debug(msg string, v ...interface{}) { Log.Debug().Msgf(msg, v...) }
func Info(msg string, v ...interface{})  { Log.Info().Msgf(msg, v...) }
func Warn(msg string, v ...interface{})  { Log.Warn().Msgf(msg, v...) }
func Error(msg string, v ...interface{}) { Log.Error().Msgf(msg, v...) }

// Fatal logs and then exits the program with status 1, matching the
// config/startup failure policy.
func Fatal(msg string, v ...interface{}) { Log.Fatal().Msgf(msg, v...) }
