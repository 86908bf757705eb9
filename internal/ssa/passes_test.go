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

package ssa

import (
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/decompflow/internal/arch/generic`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/opts`
    `github.com/stretchr/testify/require`
)

var (
    vp  = ValuePropagation { MaxIterations: opts.MaxIterations }
    dce = DeadCodeElimination { MaxIterations: opts.MaxIterations }
)

func TestSimplify_Rules(t *testing.T) {
    x := &ir.Identifier { Name: "x", Bits: 32, Storage: generic.R0 }
    y := &ir.Identifier { Name: "y", Bits: 32, Storage: generic.R1 }
    tests := []struct {
        name string
        expr ir.Expression
        want string
    }{
        { "fold"         , ir.Add(ir.Word(3, 32), ir.Word(4, 32))                    , "0x7"       },
        { "wrap"         , ir.Add(ir.Word(-1, 32), ir.Word(1, 32))                   , "0x0"       },
        { "commute"      , ir.Add(ir.Word(3, 32), x)                                 , "x + 0x3"   },
        { "sub-self"     , ir.Sub(x, x)                                              , "0x0"       },
        { "xor-self"     , ir.Xor(x, x)                                              , "0x0"       },
        { "and-self"     , ir.And(x, x)                                              , "x"         },
        { "add-zero"     , ir.Add(x, ir.Word(0, 32))                                 , "x"         },
        { "mul-one"      , ir.Mul(x, ir.Word(1, 32))                                 , "x"         },
        { "mul-zero"     , ir.Mul(x, ir.Word(0, 32))                                 , "0x0"       },
        { "and-ones"     , ir.And(x, ir.Word(-1, 32))                                , "x"         },
        { "nested"       , ir.Add(ir.Sub(x, ir.Word(8, 32)), ir.Word(4, 32))         , "x - 0x4"   },
        { "cancel"       , ir.Add(ir.Sub(x, ir.Word(8, 32)), ir.Word(8, 32))         , "x"         },
        { "negative"     , ir.Add(x, ir.Word(-4, 32))                                , "x - 0x4"   },
        { "eq-sub"       , ir.Compare(ir.OpEq, ir.Sub(x, y), ir.Word(0, 32))         , "x == y"    },
        { "relational"   , ir.Compare(ir.OpUlt, ir.Word(1, 32), ir.Word(2, 32))      , "0x1"       },
        { "signed"       , ir.Compare(ir.OpLt, ir.Word(-1, 32), ir.Word(0, 32))      , "0x1"       },
        { "slice"        , &ir.Slice { Expr: ir.Word(0x1234, 32), Offset: 8, Bits: 8 }, "0x12"     },
        { "cast"         , &ir.Cast { Expr: ir.Word(-1, 8), Bits: 32, Signed: true }  , "-0x1"     },
        { "zext"         , &ir.Cast { Expr: ir.Word(-1, 8), Bits: 32 }                , "0xff"     },
        { "sequence"     , &ir.MkSequence { Head: ir.Word(1, 32), Tail: ir.Word(2, 32) }, "0x100000002" },
        { "deposit"      , &ir.DepositBits { Source: ir.Word(0x1234, 32), Insert: ir.Word(0xff, 8), Offset: 8 }, "0xff34" },
        { "double-neg"   , &ir.UnaryExpression { Op: ir.OpNeg, Bits: 32, Expr: &ir.UnaryExpression { Op: ir.OpNeg, Bits: 32, Expr: x } }, "x" },
    }
    for _, tc := range tests {
        t.Run(tc.name, func(t *testing.T) {
            v, ok := Simplify(tc.expr)
            require.True(t, ok)
            require.Equal(t, tc.want, v.String())
            _, ok = Simplify(v)
            require.False(t, ok, "not a fixed point: %s", v)
        })
    }
}

func TestConditionCodes_SubtractEqual(t *testing.T) {
    b := ir.NewBuilder("cce", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    z := b.Reg(generic.Group(generic.FlagZ))
    b.Assign(r0, ir.Sub(r0, r1))
    b.Assign(z, ir.Cond(r0))
    br := b.Branch(ir.Test(ir.CcEQ, z), "done")
    b.Assign(r0, ir.Word(1, 32))
    b.Label("done")
    b.Return()
    st := Build(b.Build(), BuildConfig { Arch: generic.Arch })
    ConditionCodeElimination{}.Apply(st)
    require.NoError(t, st.Validate())

    /* the branch compares the operands of the subtraction */
    cmp, ok := br.Instr.(*ir.Branch).Cond.(*ir.BinaryExpression)
    require.True(t, ok)
    require.Equal(t, ir.OpEq, cmp.Op)
    require.True(t, st.Get(cmp.Left.(*ir.Identifier)).IsEntryDef())
    require.True(t, st.Get(cmp.Right.(*ir.Identifier)).IsEntryDef())
    require.Equal(t, generic.R0, cmp.Left.(*ir.Identifier).Storage)
    require.Equal(t, generic.R1, cmp.Right.(*ir.Identifier).Storage)

    /* the flags are now dead */
    dce.Apply(st)
    require.NoError(t, st.Validate())
    st.Proc.Statements(func(s *ir.Statement) {
        if as, ok := s.Instr.(*ir.Assignment); ok {
            require.NotEqual(t, ir.Storage(generic.Group(generic.FlagZ)), as.Dst.Storage)
        }
    })
}

func TestConditionCodes_Carry(t *testing.T) {
    b := ir.NewBuilder("carry", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    c := b.Reg(generic.Group(generic.FlagC))
    b.Assign(r0, ir.Sub(r0, r1))
    b.Assign(c, ir.Cond(r0))
    br := b.Branch(ir.Test(ir.CcCS, c), "done")
    b.Assign(r0, ir.Word(1, 32))
    b.Label("done")
    b.Return()
    st := buildSSA(t, b.Build())
    ConditionCodeElimination{}.Apply(st)

    /* carry set means no borrow on this architecture */
    cmp := br.Instr.(*ir.Branch).Cond.(*ir.BinaryExpression)
    require.Equal(t, ir.OpUge, cmp.Op)
}

func TestValuePropagation_Constants(t *testing.T) {
    b := ir.NewBuilder("consts", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    r2 := b.Reg(generic.R2)
    b.Assign(r0, ir.Word(4, 32))
    b.Assign(r1, ir.Add(r0, ir.Word(3, 32)))
    s := b.Assign(r2, ir.Mul(r1, r0))
    b.Return()
    st := buildSSA(t, b.Build())
    vp.Apply(st)
    require.NoError(t, st.Validate())
    require.Equal(t, "0x1c", s.Instr.(*ir.Assignment).Src.String())

    /* the constants are visible at the exit */
    dce.Apply(st)
    require.NoError(t, st.Validate())
    for _, s := range st.Proc.Exit.Statements {
        _, ok := s.Instr.(*ir.UseInstruction).Expr.(*ir.Constant)
        require.True(t, ok, "use %s", s)
    }
}

func TestValuePropagation_SelfLoop(t *testing.T) {
    b := ir.NewBuilder("spin", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    b.Label("loop")
    b.Assign(r1, r1)
    b.Assign(r0, ir.Add(r0, ir.Word(1, 32)))
    b.Branch(ir.Compare(ir.OpNe, r0, ir.Word(10, 32)), "loop")
    b.Return()
    st := buildSSA(t, b.Build())
    vp.Apply(st)
    dce.Apply(st)
    require.NoError(t, st.Validate(), st.Proc.Dump())
    requireDominance(t, st)

    /* r1 is never changed by the loop */
    r1e := st.EntryDef(generic.R1)
    require.NotNil(t, r1e)
    uses := exitUsesOf(st)
    require.Equal(t, ir.Expression(r1e.Id), uses[1])

    /* r0 still needs its Phi node */
    loop := st.Proc.Blocks[2]
    require.Len(t, loop.Phis(), 1)
}

// exitUsesOf lists the expressions read by the exit block, in register order.
func exitUsesOf(st *State) []ir.Expression {
    var ret []ir.Expression
    for _, s := range st.Proc.Exit.Statements {
        if u, ok := s.Instr.(*ir.UseInstruction); ok {
            ret = append(ret, u.Expr)
        }
    }
    return ret
}

func TestValuePropagation_Convergence(t *testing.T) {
    b := ir.NewBuilder("slow", 0x1000)
    r0 := b.Reg(generic.R0)
    b.Assign(r0, ir.Word(1, 32))
    b.Assign(r0, ir.Add(r0, ir.Word(1, 32)))
    b.Return()
    st := buildSSA(t, b.Build())

    /* a budget of zero iterations never converges */
    defer func() {
        err := diag.Recover(recover())
        require.Error(t, err)
        require.IsType(t, diag.ConvergenceError{}, err)
    }()
    ValuePropagation { MaxIterations: 0 }.Apply(st)
    t.Fatal("should not reach here")
}

func TestDeadCode_KeepsImpure(t *testing.T) {
    b := ir.NewBuilder("stores", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    b.Assign(r1, ir.Mem(r0, 32))
    b.Store(r0, ir.Word(1, 32))
    b.Assign(r1, ir.Word(2, 32))
    call := b.Call(b.Reg(generic.R5), 0)
    b.Return()
    st := buildSSA(t, b.Build())
    ci := call.Instr.(*ir.CallInstruction)
    ndefs := len(ci.Defs)
    dce.Apply(st)
    require.NoError(t, st.Validate(), st.Proc.Dump())

    /* the load is dead, the store and the call are not */
    body := st.Proc.Blocks[2].Statements
    require.IsType(t, &ir.Store{}, body[0].Instr)
    require.Equal(t, call, body[len(body) - 2])

    /* the call definitions reaching the exit survive */
    require.Len(t, ci.Defs, ndefs)

    /* running again changes nothing */
    text := st.Proc.Dump()
    dce.Apply(st)
    require.Equal(t, text, st.Proc.Dump())
}

func TestDeadCode_Idempotent(t *testing.T) {
    f := gofakeit.New(7)
    for n := 0; n < 64; n++ {
        st := buildSSA(t, randomProcedure(f, f.Number(1, 20), true))
        vp.Apply(st)
        dce.Apply(st)
        text := st.Proc.Dump()

        /* a second run finds nothing to remove */
        dce.Apply(st)
        require.Equal(t, text, st.Proc.Dump())
        require.NoError(t, st.Validate(), text)
    }
}

func TestDeadCode_PrunesCallDefs(t *testing.T) {
    b := ir.NewBuilder("prune", 0x1000)
    call := b.Call(b.Reg(generic.R5), 0)
    b.Return()
    proc := b.Build()
    st := Build(proc, BuildConfig { Arch: generic.Arch })
    require.NoError(t, st.Validate())

    /* without exit uses nothing reads the call results */
    dce.Apply(st)
    require.NoError(t, st.Validate())
    require.Empty(t, call.Instr.(*ir.CallInstruction).Defs)
}

func TestCoalescer_SingleUse(t *testing.T) {
    b := ir.NewBuilder("coalesce", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    r2 := b.Reg(generic.R2)
    b.Assign(r1, ir.Mem(r0, 32))
    b.Assign(r2, ir.Add(r1, r0))
    b.Store(r0, r2)
    b.Return()
    st := Build(b.Build(), BuildConfig { Arch: generic.Arch })
    Coalescer { MaxIterations: opts.MaxIterations }.Apply(st)
    require.NoError(t, st.Validate(), st.Proc.Dump())

    /* everything folds into the store */
    body := st.Proc.Blocks[2].Statements
    require.Len(t, body, 2)
    require.Equal(t, "Mem32[r0_0] = Mem32[r0_0] + r0_0", body[0].String())
}

func TestCoalescer_MemoryBarrier(t *testing.T) {
    b := ir.NewBuilder("barrier", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    b.Assign(r1, ir.Mem(r0, 32))
    b.Store(r0, ir.Word(0, 32))
    b.Store(ir.AddConst(r0, 4), r1)
    b.Return()
    st := Build(b.Build(), BuildConfig { Arch: generic.Arch })
    Coalescer { MaxIterations: opts.MaxIterations }.Apply(st)
    require.NoError(t, st.Validate())

    /* the load must stay before the store */
    require.Len(t, st.Proc.Blocks[2].Statements, 4)
}
