/*
 * Copyright 2025 SREDiag Authors
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

package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AntsLogger routes ants pool diagnostics into l.
type AntsLogger struct {
	L *Logger
}

func (a AntsLogger) Printf(format string, args ...any) {
	a.L.Warnf(format, args...)
}

// CronLogger routes robfig/cron diagnostics into l. Scheduler chatter goes
// to debug, errors stay errors.
type CronLogger struct {
	L *Logger
}

func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	withPairs(c.L.Event(LevelDebug), keysAndValues).Msg(msg)
}

func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	withPairs(c.L.Event(LevelError), keysAndValues).Err(err).Msg(msg)
}

func withPairs(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	return e
}
