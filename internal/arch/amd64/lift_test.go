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


package amd64

import (
    `testing`

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/cloudwego/decompflow/internal/analysis`
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/opts`
    `github.com/stretchr/testify/require`
)

const (
    _Base = 0x400000
)

func assemble(fn func(p *x86_64.Program)) []byte {
    p := x86_64.DefaultArch.CreateProgram()
    defer p.Free()
    fn(p)
    return append([]byte(nil), p.Assemble(0)...)
}

func lift(t *testing.T, code []byte) *ir.Procedure {
    lf := &Lifter { Code: code, Base: _Base }
    proc, err := lf.Lift("fn", _Base)
    require.NoError(t, err)
    return proc
}

func analyze(t *testing.T, procs ...*ir.Procedure) *flow.ProgramDataFlow {
    prog := ir.NewProgram()
    for _, p := range procs {
        prog.AddProcedure(p)
    }

    /* sequential, so that failures are easy to read */
    options := opts.GetDefaultOptions()
    options.Workers = 1
    dfa := analysis.NewDataFlowAnalysis(prog, arch.NewPlatform(Arch, nil), options)
    pdf := dfa.AnalyzeProgram()
    require.Empty(t, dfa.Failed())
    return pdf
}

func statements(proc *ir.Procedure) []*ir.Statement {
    var ret []*ir.Statement
    for _, bb := range proc.Blocks {
        ret = append(ret, bb.Statements...)
    }
    return ret
}

func TestLift_Leaf(t *testing.T) {
    proc := lift(t, assemble(func(p *x86_64.Program) {
        p.MOVQ(x86_64.RDI, x86_64.RAX)
        p.ADDQ(x86_64.RSI, x86_64.RAX)
        p.RET()
    }))

    /* rax = rdi + rsi */
    pf := analyze(t, proc).Procedure(proc)
    require.NotNil(t, pf)
    require.True(t, pf.Trashed.Has(Register64(x86_64.RAX)), pf.Trashed.String())
    require.True(t, pf.MayUse.Has(Register64(x86_64.RDI)))
    require.True(t, pf.MayUse.Has(Register64(x86_64.RSI)))
    require.False(t, pf.MayUse.Has(RBX))
    require.Equal(t, 8, pf.StackDelta)
    require.NotZero(t, pf.TrashedFlags)
}

func TestLift_SavedRegister(t *testing.T) {
    proc := lift(t, assemble(func(p *x86_64.Program) {
        p.PUSHQ(x86_64.RBX)
        p.MOVQ(5, x86_64.RBX)
        p.MOVQ(x86_64.RBX, x86_64.RAX)
        p.POPQ(x86_64.RBX)
        p.RET()
    }))

    /* rbx goes through the frame and comes back */
    pf := analyze(t, proc).Procedure(proc)
    require.False(t, pf.Trashed.Has(RBX), pf.Trashed.String())
    require.True(t, pf.Preserved.Has(RBX), pf.Preserved.String())
    require.True(t, pf.Trashed.Has(RAX))
    require.Equal(t, uint64(5), pf.Constants[RAX].Value)
}

func TestLift_Branch(t *testing.T) {
    zero := x86_64.CreateLabel("zero")
    proc := lift(t, assemble(func(p *x86_64.Program) {
        p.TESTQ(x86_64.RDI, x86_64.RDI)
        p.JE(zero)
        p.MOVQ(1, x86_64.RAX)
        p.RET()
        p.Link(zero)
        p.MOVQ(2, x86_64.RAX)
        p.RET()
    }))

    /* the conditional branch tests the zero flag */
    var br *ir.Branch
    for _, s := range statements(proc) {
        if v, ok := s.Instr.(*ir.Branch); ok {
            br = v
        }
    }

    /* check the condition */
    require.NotNil(t, br, proc.Dump())
    tc, ok := br.Cond.(*ir.TestCondition)
    require.True(t, ok)
    require.Equal(t, ir.CcEQ, tc.Cond)
    require.GreaterOrEqual(t, len(proc.Blocks), 3)

    /* only rdi is read */
    pf := analyze(t, proc).Procedure(proc)
    require.Equal(t, "rdi", pf.MayUse.Minus(flow.NewRegisterSet(RSP)).String())
    require.True(t, pf.Trashed.Has(RAX))
}

func TestLift_DirectCall(t *testing.T) {
    callee := x86_64.CreateLabel("callee")
    code := assemble(func(p *x86_64.Program) {
        p.CALL(callee)
        p.RET()
        p.Link(callee)
        p.MOVQ(7, x86_64.RCX)
        p.RET()
    })

    /* the call is 5 bytes and the return 1 byte */
    lf := &Lifter { Code: code, Base: _Base }
    main, err := lf.Lift("main", _Base)
    require.NoError(t, err)
    sub, err := lf.Lift("sub", _Base + 6)
    require.NoError(t, err)

    /* the callee is a constant address */
    var call *ir.CallInstruction
    for _, s := range statements(main) {
        if v, ok := s.Instr.(*ir.CallInstruction); ok {
            call = v
        }
    }
    require.NotNil(t, call, main.Dump())
    require.Equal(t, uint64(_Base + 6), call.Callee.(*ir.Constant).Value)

    /* the caller inherits the effects of the callee */
    pdf := analyze(t, main, sub)
    require.True(t, pdf.Procedure(main).Trashed.Has(RCX))
    require.Equal(t, uint64(7), pdf.Procedure(main).Constants[RCX].Value)
}

func TestLift_Errors(t *testing.T) {
    lf := &Lifter { Code: []byte { 0x0f, 0x0b }, Base: _Base }

    /* ud2 is not supported */
    _, err := lf.Lift("ud2", _Base)
    require.Error(t, err)
    require.IsType(t, DecodeError{}, err)
    require.Equal(t, uint64(_Base), err.(DecodeError).Addr)
    require.EqualError(t, err, "cannot lift instruction at 0x400000: unsupported instruction UD2")

    /* outside of the image */
    _, err = lf.Lift("far", _Base + 0x100)
    require.EqualError(t, err, "cannot lift instruction at 0x400100: address out of range")
}
