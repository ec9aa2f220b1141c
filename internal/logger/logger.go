// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package logger wraps zerolog behind the leveled, field-chaining interface
// the rest of this module calls through.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Field is a structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger is the interface every package logs through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	With(fields ...Field) Logger
}

type zlogger struct {
	z zerolog.Logger
}

// New builds a Logger writing JSON to output at the given level name
// ("debug", "info", "warn", "error"; unrecognized defaults to "info").
func New(output io.Writer, levelName string) Logger {
	level := parseLevel(levelName)
	z := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &zlogger{z: z}
}

func parseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zlogger) Debug(msg string, fields ...Field) { l.event(l.z.Debug(), fields).Msg(msg) }
func (l *zlogger) Info(msg string, fields ...Field)  { l.event(l.z.Info(), fields).Msg(msg) }
func (l *zlogger) Warn(msg string, fields ...Field)  { l.event(l.z.Warn(), fields).Msg(msg) }
func (l *zlogger) Error(msg string, fields ...Field) { l.event(l.z.Error(), fields).Msg(msg) }

func (l *zlogger) With(fields ...Field) Logger {
	ctx := l.z.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zlogger{z: ctx.Logger()}
}

func (l *zlogger) event(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		e = e.Interface(f.Key, f.Value)
	}
	return e
}

var defaultLogger Logger = New(os.Stdout, envLevelOrDefault())

func envLevelOrDefault() string {
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

// SetDefault replaces the package-level default logger.
func SetDefault(l Logger) { defaultLogger = l }

// Default returns the package-level default logger.
func Default() Logger { return defaultLogger }

func Debug(msg string, fields ...Field) { defaultLogger.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { defaultLogger.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { defaultLogger.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { defaultLogger.Error(msg, fields...) }

type ctxKey struct{}

// WithContext attaches a logger to ctx.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or the package default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return defaultLogger
}
