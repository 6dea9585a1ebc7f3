// Copyright 2023 The go-cbdc Authors
// This file is part of the go-cbdc library.
//
// The go-cbdc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-cbdc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-cbdc library. If not, see <http://www.gnu.org/licenses/>.

// Package log provides contextual key-value loggers, one per module, backed
// by zap. Components obtain a logger with NewModuleLogger at package init
// and attach request-scoped context with NewWith.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the key-value logging interface used throughout the codebase.
// Crit logs the message and terminates the process.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})

	// NewWith returns a child logger carrying the given context with every
	// record.
	NewWith(ctx ...interface{}) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

var (
	baseMu   sync.Mutex
	baseCore zapcore.Core
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func root() zapcore.Core {
	baseMu.Lock()
	defer baseMu.Unlock()
	if baseCore == nil {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc := zapcore.NewConsoleEncoder(encCfg)
		baseCore = zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)
	}
	return baseCore
}

// ChangeGlobalLogLevel adjusts the level shared by every module logger.
func ChangeGlobalLogLevel(lvl zapcore.Level) {
	level.SetLevel(lvl)
}

// NewModuleLogger returns the logger for the given module.
func NewModuleLogger(mi ModuleID) Logger {
	l := zap.New(root()).Named(mi.String()).Sugar()
	return &zapLogger{sugar: l}
}

// New returns an unnamed logger carrying the given context.
func New(ctx ...interface{}) Logger {
	l := zap.New(root()).Sugar()
	return &zapLogger{sugar: l.With(ctx...)}
}

func (l *zapLogger) Trace(msg string, ctx ...interface{}) {
	// zap has no trace level; map to debug to keep call sites readable.
	l.sugar.Debugw(msg, ctx...)
}

func (l *zapLogger) Debug(msg string, ctx ...interface{}) {
	l.sugar.Debugw(msg, ctx...)
}

func (l *zapLogger) Info(msg string, ctx ...interface{}) {
	l.sugar.Infow(msg, ctx...)
}

func (l *zapLogger) Warn(msg string, ctx ...interface{}) {
	l.sugar.Warnw(msg, ctx...)
}

func (l *zapLogger) Error(msg string, ctx ...interface{}) {
	l.sugar.Errorw(msg, ctx...)
}

func (l *zapLogger) Crit(msg string, ctx ...interface{}) {
	l.sugar.Fatalw(msg, ctx...)
}

func (l *zapLogger) NewWith(ctx ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(ctx...)}
}
