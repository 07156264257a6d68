/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logging is the module's leveled logger. It keeps the small
// errorf/warnf/infof surface the plugin code is written against and hands
// the actual encoding to zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level orders log severities. LevelNoPrint silences everything.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

var (
	level atomic.Int32

	zerologLevels = []zerolog.Level{
		zerolog.TraceLevel,
		zerolog.DebugLevel,
		zerolog.InfoLevel,
		zerolog.WarnLevel,
		zerolog.ErrorLevel,
		zerolog.Disabled,
	}

	internalLogger *Logger
)

func init() {
	level.Store(int32(LevelWarn))
	if v := os.Getenv("HEALTHSTATS_LOG_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= int(LevelNoPrint) {
			level.Store(int32(n))
		} else if l, ok := ParseLevel(v); ok {
			level.Store(int32(l))
		}
	}
	if os.Getenv("HEALTHSTATS_LOG_PRETTY") != "" {
		internalLogger = NewConsole("", os.Stdout)
	} else {
		internalLogger = New("", os.Stdout)
	}
}

// SetLogLevel changes the process-wide level. The default is LevelWarn;
// the env `HEALTHSTATS_LOG_LEVEL` (number or name) overrides it at start.
func SetLogLevel(l Level) {
	if l >= LevelTrace && l <= LevelNoPrint {
		level.Store(int32(l))
	}
}

// CurrentLevel returns the process-wide level.
func CurrentLevel() Level {
	return Level(level.Load())
}

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "off", "none", "disabled":
		return LevelNoPrint, true
	}
	return LevelWarn, false
}

// Logger is a named leveled logger.
type Logger struct {
	name string
	z    zerolog.Logger
}

// Default returns the module-wide logger.
func Default() *Logger {
	return internalLogger
}

// SetDefault replaces the module-wide logger. Loggers already derived
// with Named keep the previous output. A nil l is ignored.
func SetDefault(l *Logger) {
	if l != nil {
		internalLogger = l
	}
}

// New builds a JSON logger writing to out (stdout when nil).
func New(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return build(name, out)
}

// NewConsole builds a human readable logger writing to out.
func NewConsole(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return build(name, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339Nano})
}

func build(name string, out io.Writer) *Logger {
	ctx := zerolog.New(out).Level(zerolog.TraceLevel).With().Timestamp().CallerWithSkipFrameCount(3)
	if name != "" {
		ctx = ctx.Str("logger", name)
	}
	return &Logger{name: name, z: ctx.Logger()}
}

// Named returns a child logger tagged with name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{name: name, z: l.z.With().Str("logger", name).Logger()}
}

// Zerolog exposes the underlying logger for structured call sites.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.z
}

// Event starts a structured event at lvl. It returns nil when lvl is
// filtered out; zerolog events are nil-safe.
func (l *Logger) Event(lvl Level) *zerolog.Event {
	if !Enabled(lvl) {
		return nil
	}
	return l.z.WithLevel(zerologLevels[lvl])
}

// Enabled reports whether lvl passes the process-wide level.
func Enabled(lvl Level) bool {
	return lvl < LevelNoPrint && int32(lvl) >= level.Load()
}

func (l *Logger) logf(lvl Level, format string, a ...interface{}) {
	if !Enabled(lvl) {
		return
	}
	l.z.WithLevel(zerologLevels[lvl]).Msg(fmt.Sprintf(format, a...))
}

func (l *Logger) Errorf(format string, a ...interface{}) { l.logf(LevelError, format, a...) }

func (l *Logger) Error(v interface{}) { l.logf(LevelError, "%v", v) }

func (l *Logger) Warnf(format string, a ...interface{}) { l.logf(LevelWarn, format, a...) }

func (l *Logger) Infof(format string, a ...interface{}) { l.logf(LevelInfo, format, a...) }

func (l *Logger) Info(v interface{}) { l.logf(LevelInfo, "%v", v) }

func (l *Logger) Debugf(format string, a ...interface{}) { l.logf(LevelDebug, format, a...) }

func (l *Logger) Tracef(format string, a ...interface{}) { l.logf(LevelTrace, format, a...) }
