/*
 * Copyright 2022 ByteDance Inc.
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

package diag

import (
    `fmt`
    `sync`

    `go.uber.org/zap`
)

// Location identifies where a diagnostic applies. Addr is only meaningful
// when HasAddr is set.
type Location struct {
    Proc    string
    Addr    uint64
    HasAddr bool
}

// ProcedureLocation refers to a procedure as a whole.
func ProcedureLocation(proc string) Location {
    return Location { Proc: proc }
}

// StatementLocation refers to an address inside a procedure.
func StatementLocation(proc string, addr uint64) Location {
    return Location {
        Proc    : proc,
        Addr    : addr,
        HasAddr : true,
    }
}

func (self Location) String() string {
    if self.HasAddr {
        return fmt.Sprintf("%s@%#x", self.Proc, self.Addr)
    } else {
        return self.Proc
    }
}

// EventListener receives progress and diagnostics. Implementations must be
// safe for concurrent use.
type EventListener interface {
    ShowProgress(caption string, done int, total int)
    ShowStatus(caption string)
    Warn(loc Location, message string)
    Error(loc Location, err error, message string)
}

type _NullListener struct{}

// NullListener discards every event.
var NullListener EventListener = _NullListener{}

func (_NullListener) ShowProgress(string, int, int)     {}
func (_NullListener) ShowStatus(string)                 {}
func (_NullListener) Warn(Location, string)             {}
func (_NullListener) Error(Location, error, string)     {}

// LogListener forwards events to a zap logger.
type LogListener struct {
    log *zap.Logger
}

func NewLogListener(log *zap.Logger) *LogListener {
    return &LogListener { log: log }
}

func (self *LogListener) ShowProgress(caption string, done int, total int) {
    self.log.Debug(caption, zap.Int("done", done), zap.Int("total", total))
}

func (self *LogListener) ShowStatus(caption string) {
    self.log.Info(caption)
}

func (self *LogListener) Warn(loc Location, message string) {
    self.log.Warn(message, zap.Stringer("loc", loc))
}

func (self *LogListener) Error(loc Location, err error, message string) {
    self.log.Error(message, zap.Stringer("loc", loc), zap.Error(err))
}

// Diagnostic is an event captured by a Recorder.
type Diagnostic struct {
    Loc     Location
    Err     error
    Message string
}

// Recorder keeps every warning and error it receives.
type Recorder struct {
    mu       sync.Mutex
    Errors   []Diagnostic
    Warnings []Diagnostic
    Progress int
}

func (self *Recorder) ShowProgress(string, int, int) {
    self.mu.Lock()
    self.Progress++
    self.mu.Unlock()
}

func (self *Recorder) ShowStatus(string) {}

func (self *Recorder) Warn(loc Location, message string) {
    self.mu.Lock()
    self.Warnings = append(self.Warnings, Diagnostic { Loc: loc, Message: message })
    self.mu.Unlock()
}

func (self *Recorder) Error(loc Location, err error, message string) {
    self.mu.Lock()
    self.Errors = append(self.Errors, Diagnostic { Loc: loc, Err: err, Message: message })
    self.mu.Unlock()
}
