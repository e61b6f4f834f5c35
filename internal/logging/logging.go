// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging wraps charmbracelet/log with the component-tagged,
// chainable logger used throughout the device policy enforcement core.
package logging

import (
	"io"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Config controls the default logger's behavior.
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	Output     io.Writer
	ReportTime bool
	JSON       bool
}

// DefaultConfig returns sane defaults: info level, stderr, timestamps on.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Output:     os.Stderr,
		ReportTime: true,
	}
}

// Logger is a component-scoped wrapper around a charmbracelet/log logger.
// Its methods accept the same (msg string, kv ...any) shape as the
// underlying library so call sites read as ordinary structured logs.
type Logger struct {
	inner *charmlog.Logger
}

var (
	defaultMu  sync.RWMutex
	defaultLog = New(DefaultConfig())
)

// New builds a Logger from Config. Each call produces an independent
// logger instance; use SetDefault to install one as the package default.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := charmlog.Options{
		ReportTimestamp: cfg.ReportTime,
		Formatter:       charmlog.TextFormatter,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}
	l := charmlog.NewWithOptions(out, opts)
	l.SetLevel(parseLevel(cfg.Level))
	return &Logger{inner: l}
}

func parseLevel(s string) charmlog.Level {
	switch s {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// SetDefault installs l as the logger WithComponent builds from.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLog = l
}

// WithComponent returns a logger tagged with a "component" field, scoped
// to one package or subsystem (e.g. "dnscache", "queueworker:7").
func WithComponent(name string) *Logger {
	defaultMu.RLock()
	base := defaultLog
	defaultMu.RUnlock()
	return &Logger{inner: base.inner.With("component", name)}
}

// WithError returns a derived logger carrying an "error" field, the
// conventional way call sites attach a failure to a subsequent log line.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{inner: l.inner.With("error", err.Error())}
}

// With returns a derived logger carrying the given key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

// Fatal logs at error level and terminates the process, matching the
// convention used at binary entry points (cmd/*) for initialization
// failures that must surface a non-zero exit code.
func (l *Logger) Fatal(msg string, kv ...any) { l.inner.Fatal(msg, kv...) }
