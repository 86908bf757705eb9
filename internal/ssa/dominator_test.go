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
    `fmt`
    `testing`

    `github.com/brianvoe/gofakeit/v6`
    `github.com/cloudwego/decompflow/internal/arch/generic`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/stretchr/testify/require`
    `gonum.org/v1/gonum/graph/flow`
    `gonum.org/v1/gonum/graph/simple`
)

var testRegs = []*ir.RegisterStorage {
    generic.R0,
    generic.R1,
    generic.R2,
    generic.R3,
}

// randomProcedure builds a procedure with n blocks and random edges. With
// body set, every block gets a few register assignments, and blocks with two
// successors end with a branch.
func randomProcedure(f *gofakeit.Faker, n int, body bool) *ir.Procedure {
    addr := uint64(0x1000)
    proc := ir.NewProcedure(fmt.Sprintf("rand_%d", f.Number(0, 1 << 20)), addr)
    bbs := make([]*ir.Block, n)

    /* create the blocks */
    for i := range bbs {
        bbs[i] = proc.NewBlock("")
    }

    /* random register reads */
    reg := func() *ir.Identifier {
        return proc.Frame.EnsureRegister(testRegs[f.Number(0, len(testRegs) - 1)])
    }

    /* link the blocks */
    ir.Link(proc.Entry, bbs[0])
    for i, bb := range bbs {
        if body {
            for k := f.Number(0, 3); k > 0; k-- {
                addr += 4
                if f.Number(0, 3) == 0 {
                    bb.Append(addr, &ir.Assignment { Dst: reg(), Src: ir.Word(int64(f.Number(0, 16)), 32) })
                } else {
                    bb.Append(addr, &ir.Assignment { Dst: reg(), Src: ir.Add(reg(), reg()) })
                }
            }
        }

        /* the last block always returns */
        if i == n - 1 || f.Number(0, 5) == 0 {
            ir.Link(bb, proc.Exit)
            continue
        }

        /* one or two successors */
        ir.Link(bb, bbs[f.Number(0, n - 1)])
        if f.Bool() {
            ir.Link(bb, bbs[f.Number(0, n - 1)])
            if body {
                addr += 4
                bb.Append(addr, &ir.Branch { Cond: ir.Compare(ir.OpEq, reg(), ir.Word(0, 32)) })
            }
        }
    }

    /* all done */
    return proc
}

func TestDominators_MatchesGonum(t *testing.T) {
    f := gofakeit.New(20221017)
    for n := 0; n < 128; n++ {
        proc := randomProcedure(f, f.Number(1, 32), false)
        dg := BuildDominatorGraph(proc)
        g := simple.NewDirectedGraph()

        /* mirror the graph */
        for _, bb := range proc.Blocks {
            g.AddNode(simple.Node(bb.Id))
        }
        for _, bb := range proc.Blocks {
            for _, s := range bb.Succ {
                if s != bb {
                    g.SetEdge(g.NewEdge(simple.Node(bb.Id), simple.Node(s.Id)))
                }
            }
        }

        /* compare the immediate dominators */
        dt := flow.Dominators(simple.Node(proc.Entry.Id), g)
        for _, bb := range dg.Blocks() {
            exp := dt.DominatorOf(int64(bb.Id))
            idom := dg.ImmediateDominator(bb)
            if exp == nil {
                require.Nil(t, idom, "block %s", bb)
            } else {
                require.NotNil(t, idom, "block %s", bb)
                require.Equal(t, exp.ID(), int64(idom.Id), "block %s", bb)
            }
        }
    }
}

func TestDominators_Frontiers(t *testing.T) {
    f := gofakeit.New(1)
    for n := 0; n < 64; n++ {
        proc := randomProcedure(f, f.Number(2, 24), false)
        dg := BuildDominatorGraph(proc)

        /* x dominates a predecessor of y, but does not strictly dominate y */
        for _, x := range dg.Blocks() {
            for _, y := range dg.DominanceFrontier[x.Id] {
                found := false
                for _, p := range y.Pred {
                    if dg.Contains(p) && dg.Dominates(x, p) {
                        found = true
                    }
                }
                require.True(t, found, "%s in DF(%s)", y, x)
                require.False(t, x != y && dg.Dominates(x, y), "%s strictly dominates %s", x, y)
            }
        }
    }
}

func TestDominators_ReversePostOrder(t *testing.T) {
    b := ir.NewBuilder("diamond", 0x1000)
    r0 := b.Reg(generic.R0)
    b.Branch(ir.Compare(ir.OpEq, r0, ir.Word(0, 32)), "else")
    b.Assign(r0, ir.Word(1, 32))
    b.Jump("done")
    b.Label("else")
    b.Assign(r0, ir.Word(2, 32))
    b.Label("done")
    b.Return()
    proc := b.Build()
    dg := BuildDominatorGraph(proc)
    rpo := dg.ReversePostOrder()
    require.Equal(t, proc.Entry, rpo[0])
    require.Equal(t, proc.Exit, rpo[len(rpo) - 1])
    require.Len(t, rpo, len(proc.Blocks))
    done := proc.Exit.Pred[0]
    require.Equal(t, proc.Blocks[2], dg.ImmediateDominator(done))
    require.Len(t, done.Pred, 2)
    for _, p := range done.Pred {
        require.Equal(t, []*ir.Block { done }, dg.DominanceFrontier[p.Id])
    }
}

func TestDominators_UnknownBlock(t *testing.T) {
    proc := randomProcedure(gofakeit.New(7), 4, false)
    dg := BuildDominatorGraph(proc)
    orphan := proc.NewBlock("orphan")
    require.False(t, dg.Contains(orphan))
    require.Panics(t, func() { dg.ImmediateDominator(orphan) })
}
