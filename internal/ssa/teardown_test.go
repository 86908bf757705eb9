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
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/stretchr/testify/require`
)

func requireNoSSA(t *testing.T, proc *ir.Procedure) {
    for _, bb := range proc.Blocks {
        for _, s := range bb.Statements {
            switch s.Instr.(type) {
                case *ir.PhiAssignment  : t.Fatalf("phi left in %s: %s", bb, s)
                case *ir.DefInstruction : t.Fatalf("entry definition left in %s: %s", bb, s)
            }
        }

        /* the edges are symmetric */
        for _, p := range bb.Pred {
            require.Contains(t, p.Succ, bb)
        }
        for _, s := range bb.Succ {
            require.Contains(t, s.Pred, bb)
        }
    }
}

func TestTeardown_Diamond(t *testing.T) {
    b := ir.NewBuilder("diamond", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    b.Branch(ir.Compare(ir.OpEq, r1, ir.Word(0, 32)), "else")
    a1 := b.Assign(r0, ir.Word(1, 32))
    b.Jump("done")
    b.Label("else")
    a2 := b.Assign(r0, ir.Word(2, 32))
    b.Label("done")
    b.Return()
    proc := b.Build()
    st := buildSSA(t, proc)
    nb := len(proc.Blocks)

    /* the arms and the Phi node form a single web */
    webs := WebBuilder{}.Apply(st)
    x := a1.Instr.(*ir.Assignment).Dst
    y := a2.Instr.(*ir.Assignment).Dst
    require.Same(t, webs[x], webs[y])
    require.Len(t, webs[x].Members, 3)

    /* so no copies are needed */
    Teardown{}.Apply(st, webs)
    requireNoSSA(t, proc)
    require.Len(t, proc.Blocks, nb)
    v := a1.Instr.(*ir.Assignment).Dst
    require.Same(t, v, a2.Instr.(*ir.Assignment).Dst)
    require.Equal(t, ir.Expression(v), exitUses(st)[generic.R0].Expr)
}

func TestTeardown_LoopCopies(t *testing.T) {
    b := ir.NewBuilder("rotate", 0x1000)
    i := b.Reg(generic.R0)
    j := b.Reg(generic.R1)
    acc := b.Reg(generic.R2)
    n := b.Reg(generic.R3)
    b.Assign(i, ir.Word(0, 32))
    b.Label("loop")
    b.Assign(j, ir.Add(i, ir.Word(1, 32)))
    b.Assign(acc, ir.Add(acc, i))
    b.Assign(i, j)
    b.Branch(ir.Compare(ir.OpLt, j, n), "loop")
    b.Return()
    proc := b.Build()
    st := buildSSA(t, proc)
    vp.Apply(st)
    dce.Apply(st)
    require.NoError(t, st.Validate(), proc.Dump())
    nb := len(proc.Blocks)
    webs := WebBuilder{}.Apply(st)

    /* r0 receives r1 on the loop edge, which needs a block of its own */
    Teardown{}.Apply(st, webs)
    requireNoSSA(t, proc)
    require.Len(t, proc.Blocks, nb + 1)

    /* the new block sits on the back edge */
    split := proc.Blocks[nb]
    require.Len(t, split.Pred, 1)
    require.Len(t, split.Succ, 1)
    require.Equal(t, split.Pred[0], split.Succ[0])
    require.NotEmpty(t, split.Statements)
    for _, s := range split.Statements {
        require.IsType(t, &ir.Assignment{}, s.Instr)
    }
}

func TestTeardown_RandomProcedures(t *testing.T) {
    f := gofakeit.New(99)
    for n := 0; n < 64; n++ {
        proc := randomProcedure(f, f.Number(1, 20), true)
        st := buildSSA(t, proc)
        vp.Apply(st)
        dce.Apply(st)
        Teardown{}.Apply(st, WebBuilder{}.Apply(st))
        requireNoSSA(t, proc)
    }
}

// storagesOf collects the storages read and written by a list of statements.
func storagesOf(ss []*ir.Statement) (map[ir.Storage]bool, map[ir.Storage]bool) {
    rd := make(map[ir.Storage]bool)
    wr := make(map[ir.Storage]bool)
    for _, s := range ss {
        for _, id := range ir.UsedIdentifiers(s.Instr) {
            rd[ir.StorageKey(id.Storage)] = true
        }
        for _, id := range ir.DefinedIdentifiers(s.Instr) {
            wr[ir.StorageKey(id.Storage)] = true
        }
    }
    return rd, wr
}

func TestTeardown_RoundTrip(t *testing.T) {
    f := gofakeit.New(1017)
    for n := 0; n < 128; n++ {
        proc := randomProcedure(f, f.Number(1, 20), true)
        orig := make(map[*ir.Block][]*ir.Statement, len(proc.Blocks))
        reads := make(map[*ir.Block]map[ir.Storage]bool, len(proc.Blocks))
        writes := make(map[*ir.Block]map[ir.Storage]bool, len(proc.Blocks))
        seen := make(map[*ir.Statement]bool)

        /* remember what every block does */
        for _, bb := range proc.Blocks {
            orig[bb] = append([]*ir.Statement(nil), bb.Statements...)
            reads[bb], writes[bb] = storagesOf(bb.Statements)
            for _, s := range bb.Statements {
                seen[s] = true
            }
        }

        /* straight in and out of SSA form */
        st := buildSSA(t, proc)
        Teardown{}.Apply(st, WebBuilder{}.Apply(st))
        requireNoSSA(t, proc)

        /* the surviving blocks keep their statements and storages */
        for _, bb := range proc.Blocks {
            var ss []*ir.Statement
            for _, s := range bb.Statements {
                if seen[s] {
                    ss = append(ss, s)
                }
            }

            /* blocks split off edges only hold copies */
            want, ok := orig[bb]
            if !ok {
                require.Empty(t, ss, proc.Dump())
                continue
            }

            /* same statements, same storages */
            require.Equal(t, want, ss, proc.Dump())
            rd, wr := storagesOf(ss)
            require.Equal(t, reads[bb], rd, "reads of %s\n%s", bb, proc.Dump())
            require.Equal(t, writes[bb], wr, "writes of %s\n%s", bb, proc.Dump())
        }
    }
}

func TestSequentialize_Swap(t *testing.T) {
    st := buildSSA(t, sumLoop())
    a := st.NewTemporary(32).Id
    b := st.NewTemporary(32).Id
    cc := sequentialize(st, []_Copy {
        { dst: a, src: b },
        { dst: b, src: a },
    })

    /* a cycle needs a temporary */
    require.Len(t, cc, 3)
    tmp := cc[0].dst
    require.Equal(t, ir.Expression(b), cc[0].src)
    require.Equal(t, b, cc[1].dst)
    require.Equal(t, ir.Expression(tmp), cc[2].src)
    require.Equal(t, a, cc[2].dst)
}
