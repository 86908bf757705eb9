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


package analysis

import (
    `fmt`
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/arch/generic`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/opts`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

type _Poison struct{}

func (_Poison) String() string           { return "poison" }
func (_Poison) Usages() []*ir.Expression { panic("poisoned instruction") }

func newAnalysis(options opts.Options, procs ...*ir.Procedure) (*DataFlowAnalysis, *diag.Recorder) {
    rec := new(diag.Recorder)
    prog := ir.NewProgram()

    /* add the procedures */
    for _, p := range procs {
        prog.AddProcedure(p)
    }

    /* record the events */
    dfa := NewDataFlowAnalysis(prog, arch.NewPlatform(generic.Arch, nil), options)
    dfa.Listener = rec
    return dfa, rec
}

func sequential() opts.Options {
    ret := opts.GetDefaultOptions()
    ret.Workers = 1
    return ret
}

// leaf saves r4 in its frame, computes r0 from r1 and r2, and always
// returns 5 in r3.
func leaf() *ir.Procedure {
    b := ir.NewBuilder("leaf", 0x2000)
    sp := b.Reg(generic.SP)
    r4 := b.Reg(generic.R4)
    b.Assign(sp, ir.Sub(sp, ir.Word(8, 32)))
    b.Store(ir.AddConst(sp, 4), r4)
    b.Assign(r4, ir.Word(7, 32))
    b.Store(sp, r4)
    b.Assign(b.Reg(generic.R0), ir.Add(b.Reg(generic.R1), b.Reg(generic.R2)))
    b.Assign(b.Reg(generic.R3), ir.Word(5, 32))
    b.Assign(r4, ir.Mem(ir.AddConst(sp, 4), 32))
    b.Assign(sp, ir.Add(sp, ir.Word(8, 32)))
    b.Return()
    return b.Build()
}

func requireNoSSA(t *testing.T, proc *ir.Procedure) {
    proc.Statements(func(s *ir.Statement) {
        switch s.Instr.(type) {
            case *ir.PhiAssignment  : t.Fatalf("phi left in %s: %s", proc.Name, s)
            case *ir.DefInstruction : t.Fatalf("entry definition left in %s: %s", proc.Name, s)
        }
    })
}

func TestAnalyzeProgram_CallerAndCallee(t *testing.T) {
    b := ir.NewBuilder("main", 0x1000)
    s := b.Call(ir.Word(0x2000, 32), 0)
    b.Store(ir.Word(0x100, 32), b.Reg(generic.R0))
    b.Return()
    main, callee := b.Build(), leaf()
    dfa, rec := newAnalysis(sequential(), main, callee)
    pdf := dfa.AnalyzeProgram()

    /* nothing failed */
    require.Empty(t, rec.Errors)
    require.Empty(t, dfa.Failed())
    require.Equal(t, 2, rec.Progress)

    /* the callee */
    lf := pdf.Procedure(callee)
    require.NotNil(t, lf)
    require.Equal(t, "r0 r3", lf.Trashed.String())
    require.Equal(t, "r1 r2", lf.MayUse.String())
    require.Equal(t, "r0", lf.LiveOut.String())
    require.Equal(t, 0, lf.StackDelta)
    require.Len(t, lf.Signature.Params, 2)
    require.Len(t, lf.Signature.Returns, 1)
    require.Same(t, lf.Signature, callee.Signature)

    /* the caller inherits the effects of the call */
    mf := pdf.Procedure(main)
    require.Equal(t, "r0 r3", mf.Trashed.String())
    require.Equal(t, "r1 r2", mf.MayUse.String())
    require.Equal(t, uint64(5), mf.Constants[generic.R3].Value)

    /* the call is typed and narrowed */
    call := s.Instr.(*ir.CallInstruction)
    require.Same(t, lf.Signature, call.Signature)
    require.Len(t, call.Defs, 1, main.Dump())
    require.Equal(t, ir.Storage(generic.R0), call.Defs[0].Storage)

    /* both procedures left SSA form */
    requireNoSSA(t, main)
    requireNoSSA(t, callee)
    require.NotNil(t, pdf.Block(s.Block))
}

func TestAnalyzeProgram_MutualRecursion(t *testing.T) {
    b := ir.NewBuilder("f", 0x1000)
    b.Assign(b.Reg(generic.R7), ir.Word(1, 32))
    b.Branch(ir.Compare(ir.OpEq, b.Reg(generic.R0), ir.Word(0, 32)), "done")
    b.Call(ir.Word(0x2000, 32), 0)
    b.Label("done")
    b.Return()
    f := b.Build()
    b = ir.NewBuilder("g", 0x2000)
    b.Assign(b.Reg(generic.R7), ir.Word(2, 32))
    b.Call(ir.Word(0x1000, 32), 0)
    b.Return()
    g := b.Build()
    dfa, rec := newAnalysis(sequential(), f, g)
    pdf := dfa.AnalyzeProgram()

    /* both converge to trashing r7 only */
    require.Empty(t, rec.Errors)
    require.Equal(t, "r7", pdf.Procedure(f).Trashed.String())
    require.Equal(t, "r7", pdf.Procedure(g).Trashed.String())
    require.Equal(t, flow.Returns, pdf.Procedure(f).Termination)
    require.Equal(t, flow.Returns, pdf.Procedure(g).Termination)
    requireNoSSA(t, f)
    requireNoSSA(t, g)
}

func TestAnalyzeProgram_HellCall(t *testing.T) {
    b := ir.NewBuilder("dispatch", 0x1000)
    s := b.Call(b.Reg(generic.R5), 0)
    b.Return()
    proc := b.Build()
    dfa, rec := newAnalysis(sequential(), proc)
    pf := dfa.AnalyzeProgram().Procedure(proc)

    /* every register but the stack pointer may be trashed */
    require.Len(t, rec.Warnings, 1)
    require.Len(t, pf.Trashed, 15)
    require.False(t, pf.Trashed.Has(generic.SP))
    require.Nil(t, s.Instr.(*ir.CallInstruction).Signature)
}

func TestAnalyzeProgram_FailureIsolation(t *testing.T) {
    b := ir.NewBuilder("bad", 0x3000)
    b.Assign(b.Reg(generic.R0), ir.Word(1, 32))
    poison := b.Emit(_Poison{})
    b.Return()
    bad := b.Build()
    b = ir.NewBuilder("main", 0x1000)
    b.Call(ir.Word(0x2000, 32), 0)
    b.Call(ir.Word(0x3000, 32), 0)
    b.Return()
    main := b.Build()
    callee := leaf()
    dfa, rec := newAnalysis(sequential(), main, callee, bad)
    pdf := dfa.AnalyzeProgram()

    /* only the broken procedure failed */
    require.Equal(t, []*ir.Procedure { bad }, dfa.Failed())
    require.Len(t, rec.Errors, 1)
    require.Equal(t, "bad", rec.Errors[0].Loc.Proc)
    require.True(t, rec.Errors[0].Loc.HasAddr)
    require.Equal(t, poison.Addr, rec.Errors[0].Loc.Addr)
    require.Contains(t, rec.Errors[0].Err.Error(), "poisoned instruction")

    /* the failure points at the statement */
    var se diag.StatementError
    require.ErrorAs(t, rec.Errors[0].Err, &se)
    require.Equal(t, "bad", se.Proc)
    require.Equal(t, poison.Addr, se.Addr)
    require.Equal(t, "poison", se.Stmt)

    /* it is assumed to trash everything */
    require.Len(t, pdf.Procedure(bad).Trashed, 15)
    require.Same(t, bad, pdf.Procedure(bad).Proc)

    /* and the other procedures are still analyzed */
    require.Equal(t, "r0 r3", pdf.Procedure(callee).Trashed.String())
    require.Len(t, pdf.Procedure(main).Trashed, 15)
    requireNoSSA(t, main)
}

func TestAnalyzeProgram_Convergence(t *testing.T) {
    options := sequential()
    options.MaxSccIterations = 1
    callee := leaf()
    dfa, rec := newAnalysis(options, callee)
    pf := dfa.AnalyzeProgram().Procedure(callee)

    /* the fixed point was cut off */
    require.Len(t, rec.Errors, 1)
    require.ErrorAs(t, rec.Errors[0].Err, new(diag.ConvergenceError))
    require.Len(t, pf.Trashed, 15)
}

func TestAnalyzeIndependent_ProgramOrder(t *testing.T) {
    b := ir.NewBuilder("main", 0x1000)
    s := b.Call(ir.Word(0x2000, 32), 0)
    b.Return()
    main, callee := b.Build(), leaf()
    options := sequential()
    options.Pipeline = opts.PipelineIndependent
    dfa, rec := newAnalysis(options, main, callee)
    pdf := dfa.Analyze()

    /* the callee is not known yet when the caller is analyzed */
    require.Empty(t, rec.Errors)
    require.Len(t, pdf.Procedure(main).Trashed, 15)
    require.Nil(t, s.Instr.(*ir.CallInstruction).Signature)
    require.Equal(t, "r0 r3", pdf.Procedure(callee).Trashed.String())
}

func TestAnalyzeProgram_StrengthReduction(t *testing.T) {
    b := ir.NewBuilder("sum", 0x1000)
    i := b.Reg(generic.R0)
    base := b.Reg(generic.R1)
    acc := b.Reg(generic.R2)
    n := b.Reg(generic.R3)
    b.Assign(i, ir.Word(0, 32))
    b.Assign(acc, ir.Word(0, 32))
    b.Label("loop")
    b.Assign(acc, ir.Add(acc, ir.Mem(ir.Add(base, ir.Mul(i, ir.Word(4, 32))), 32)))
    b.Assign(i, ir.Add(i, ir.Word(1, 32)))
    b.Branch(ir.Compare(ir.OpLt, i, n), "loop")
    b.Return()
    proc := b.Build()
    dfa, rec := newAnalysis(sequential(), proc)
    dfa.AnalyzeProgram()

    /* the multiply is gone */
    require.Empty(t, rec.Errors)
    requireNoSSA(t, proc)
    proc.Statements(func(s *ir.Statement) {
        require.NotContains(t, s.String(), "*", proc.Dump())
    })

    /* the induction variables are recorded with their variables */
    require.NotEmpty(t, dfa.Program.InductionVariables)
    for id, iv := range dfa.Program.InductionVariables {
        require.Same(t, id, iv.Phi)
    }
}

func TestAnalyzeProgram_ConditionCodes(t *testing.T) {
    b := ir.NewBuilder("cce", 0x1000)
    r0 := b.Reg(generic.R0)
    z := b.Reg(generic.Group(generic.FlagZ))
    b.Assign(r0, ir.Sub(r0, b.Reg(generic.R1)))
    b.Assign(z, ir.Cond(r0))
    br := b.Branch(ir.Test(ir.CcEQ, z), "done")
    b.Assign(r0, ir.Word(1, 32))
    b.Label("done")
    b.Return()
    proc := b.Build()
    dfa, _ := newAnalysis(sequential(), proc)
    pf := dfa.AnalyzeProgram().Procedure(proc)

    /* the branch is an explicit comparison */
    cmp, ok := br.Instr.(*ir.Branch).Cond.(*ir.BinaryExpression)
    require.True(t, ok, proc.Dump())
    require.Equal(t, ir.OpEq, cmp.Op)
    require.EqualValues(t, generic.FlagZ, pf.TrashedFlags)
}

// randomProgram builds a program of straight-line procedures calling each
// other at random, recursion included.
func randomProgram(seed int64, n int) []*ir.Procedure {
    f := gofakeit.New(seed)
    ret := make([]*ir.Procedure, n)

    /* one procedure per slot */
    for i := range ret {
        b := ir.NewBuilder(fmt.Sprintf("fn_%d", i), uint64(0x1000 + i * 0x100))
        b.Assign(b.Reg(generic.Arch.Registers()[i % 6]), ir.Word(int64(i), 32))

        /* random calls */
        for k := f.Number(0, 2); k > 0; k-- {
            b.Call(ir.Word(int64(0x1000 + f.Number(0, n - 1) * 0x100), 32), 0)
        }

        /* read some arguments */
        b.Assign(b.Reg(generic.R0), ir.Add(b.Reg(generic.R0), b.Reg(generic.R1)))
        b.Return()
        ret[i] = b.Build()
    }

    /* all done */
    return ret
}

func summaries(pdf *flow.ProgramDataFlow) []string {
    var ret []string
    for _, pf := range pdf.Procedures() {
        ret = append(ret, fmt.Sprintf("%s: trashed=%s used=%s live=%s delta=%d %s",
            pf.Proc.Name,
            pf.Trashed,
            pf.MayUse,
            pf.LiveOut,
            pf.StackDelta,
            pf.Termination,
        ))
    }
    return ret
}

func TestAnalyzeProgram_ParallelMatchesSequential(t *testing.T) {
    for seed := int64(1); seed <= 4; seed++ {
        seq, rs := newAnalysis(sequential(), randomProgram(seed, 32)...)
        options := opts.GetDefaultOptions()
        options.Workers = 8
        par, rp := newAnalysis(options, randomProgram(seed, 32)...)

        /* the schedule does not change the results */
        a := summaries(seq.AnalyzeProgram())
        b := summaries(par.AnalyzeProgram())
        require.Empty(t, rs.Errors)
        require.Empty(t, rp.Errors)
        assert.Equal(t, a, b)
        require.Len(t, b, 32)
    }
}
