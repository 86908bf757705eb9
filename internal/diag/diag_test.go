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
    `errors`
    `testing`

    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/stretchr/testify/require`
    `go.uber.org/zap`
    `go.uber.org/zap/zapcore`
    `go.uber.org/zap/zaptest/observer`
)

type _Nop struct{}

func (_Nop) String() string { return "nop" }

func TestErrors_Statement(t *testing.T) {
    b := ir.NewBuilder("f", 0x1000)
    s := b.At(0x1004).Emit(_Nop{})
    b.Return()
    b.Build()

    /* the statement error carries its context and unwraps */
    cause := errors.New("boom")
    err := EStatement(s, cause)
    require.Equal(t, "f", err.Proc)
    require.Equal(t, uint64(0x1004), err.Addr)
    require.ErrorIs(t, err, cause)
    require.Contains(t, err.Error(), "f at 0x1004")
}

func TestErrors_StatementFailure(t *testing.T) {
    b := ir.NewBuilder("f", 0x1000)
    s := b.At(0x1008).Emit(_Nop{})
    b.Return()
    b.Build()

    /* plain panics are attached to the statement */
    var se StatementError
    err := Recover(recoverValue(func() { Statement(s, func() { panic("index out of range") }) }))
    require.ErrorAs(t, err, &se)
    require.Equal(t, uint64(0x1008), se.Addr)
    require.Equal(t, "nop", se.Stmt)
    require.EqualError(t, se.Err, "index out of range")

    /* located failures are passed through */
    cause := ConvergenceError { Pass: "value propagation", Unit: "f", Iterations: 2 }
    require.Equal(t, error(cause), Recover(recoverValue(func() { Statement(s, func() { Fail(cause) }) })))

    /* and nothing happens when nothing fails */
    require.Nil(t, recoverValue(func() { Statement(s, func() {}) }))
}

func recoverValue(fn func()) (v interface{}) {
    defer func() { v = recover() }()
    fn()
    return
}

func TestErrors_Messages(t *testing.T) {
    require.Equal(t, "StructuralError(g): block b3 is unreachable", EStructural(ir.NewProcedure("g", 0), "block %s is unreachable", "b3").Error())
    require.Equal(t, "ConvergenceError(a,b): register usage did not converge after 3 iterations", ConvergenceError { Pass: "register usage", Unit: "a,b", Iterations: 3 }.Error())
}

func TestRecover(t *testing.T) {
    cause := StructuralError { Proc: "f", Reason: "bad" }
    require.Nil(t, Recover(nil))
    require.Equal(t, error(cause), Recover(Failure { Err: cause }))
    require.Equal(t, error(cause), Recover(cause))
    require.EqualError(t, Recover("index out of range"), "index out of range")

    /* Fail panics with a failure */
    require.PanicsWithValue(t, Failure { Err: cause }, func() { Fail(cause) })
}

func TestLocation(t *testing.T) {
    require.Equal(t, "f", ProcedureLocation("f").String())
    require.Equal(t, "f@0x10", StatementLocation("f", 0x10).String())
}

func TestLogListener(t *testing.T) {
    core, logs := observer.New(zapcore.DebugLevel)
    l := NewLogListener(zap.New(core))
    l.ShowProgress("procedure analyzed", 1, 2)
    l.Warn(StatementLocation("f", 0x10), "unresolved call")
    l.Error(ProcedureLocation("g"), errors.New("boom"), "analysis failed")

    /* one entry per event */
    require.Equal(t, 3, logs.Len())
    w := logs.FilterMessage("unresolved call").All()
    require.Len(t, w, 1)
    require.Equal(t, "f@0x10", w[0].ContextMap()["loc"])
    require.Equal(t, zapcore.ErrorLevel, logs.FilterMessage("analysis failed").All()[0].Level)
}

func TestRecorder(t *testing.T) {
    rec := new(Recorder)
    var l EventListener = rec
    l.ShowProgress("x", 1, 1)
    l.Warn(ProcedureLocation("f"), "w")
    l.Error(ProcedureLocation("f"), errors.New("e"), "m")
    require.Equal(t, 1, rec.Progress)
    require.Len(t, rec.Warnings, 1)
    require.Len(t, rec.Errors, 1)
}
