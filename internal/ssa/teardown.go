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
    `github.com/cloudwego/decompflow/internal/ir`
)

type _CrEdge struct {
    to   *ir.Block
    from *ir.Block
    pred int
}

type _Copy struct {
    dst *ir.Identifier
    src ir.Expression
}

// Teardown takes a procedure out of SSA form. Every web becomes one
// variable, Phi nodes become copies at the end of the predecessors
// (splitting critical edges when needed), and the entry pseudo-definitions
// are removed. The exit pseudo-uses are kept as return markers.
type Teardown struct{}

func (Teardown) Apply(st *State, webs map[*ir.Identifier]*Web) {
    rename := func(id *ir.Identifier) *ir.Identifier {
        if w := webs[id]; w != nil {
            return w.Var
        } else {
            return id
        }
    }

    /* split the edges that need copies */
    splitCritical(st, rename)

    /* turn the Phi nodes into copies */
    for _, bb := range st.Proc.Blocks {
        if len(bb.Phis()) != 0 {
            phiToCopies(st, bb, rename)
        }
    }

    /* rename everything and drop the pseudo-definitions */
    for _, bb := range st.Proc.Blocks {
        for _, s := range append([]*ir.Statement(nil), bb.Statements...) {
            if _, ok := s.Instr.(*ir.DefInstruction); ok {
                bb.Remove(s)
                continue
            }

            /* rename the uses */
            for _, p := range ir.IdentifierSlots(s.Instr) {
                *p = rename((*p).(*ir.Identifier))
            }

            /* rename the definitions */
            if d, ok := s.Instr.(ir.Definitions); ok {
                for _, p := range d.Definitions() {
                    *p = rename(*p)
                }
            }

            /* drop the self copies */
            if as, ok := s.Instr.(*ir.Assignment); ok && as.Src == ir.Expression(as.Dst) {
                bb.Remove(s)
            }
        }
    }

    /* the procedure is no longer in SSA form */
    st.Doms = BuildDominatorGraph(st.Proc)
}

func needsCopy(phi *ir.PhiAssignment, i int, rename func(*ir.Identifier) *ir.Identifier) bool {
    if id, ok := phi.Args[i].Value.(*ir.Identifier); ok {
        return rename(id) != rename(phi.Dst)
    } else {
        return true
    }
}

func splitCritical(st *State, rename func(*ir.Identifier) *ir.Identifier) {
    var edges []_CrEdge

    /* find all critical edges that carry copies */
    for _, bb := range st.Proc.Blocks {
        if len(bb.Pred) < 2 {
            continue
        }

        /* check every incoming edge */
        for i, p := range bb.Pred {
            if len(p.Succ) < 2 {
                continue
            }

            /* only the edges with copies on them */
            for _, s := range bb.Phis() {
                if needsCopy(s.Instr.(*ir.PhiAssignment), i, rename) {
                    edges = append(edges, _CrEdge { to: bb, from: p, pred: i })
                    break
                }
            }
        }
    }

    /* insert empty block between the edges */
    for _, e := range edges {
        bb := st.Proc.NewBlock("")
        bb.Pred = []*ir.Block { e.from }
        bb.Succ = []*ir.Block { e.to }

        /* update the successor, matching the occurrence of the edge */
        k := 0
        for _, p := range e.to.Pred[:e.pred] {
            if p == e.from {
                k++
            }
        }

        /* replace the k-th edge */
        for i, s := range e.from.Succ {
            if s == e.to {
                if k == 0 {
                    e.from.Succ[i] = bb
                    break
                }
                k--
            }
        }

        /* update the predecessor */
        e.to.Pred[e.pred] = bb

        /* update the Phi nodes */
        for _, s := range e.to.Phis() {
            s.Instr.(*ir.PhiAssignment).Args[e.pred].Block = bb
        }
    }
}

func phiToCopies(st *State, bb *ir.Block, rename func(*ir.Identifier) *ir.Identifier) {
    phis := append([]*ir.Statement(nil), bb.Phis()...)

    /* one parallel copy per incoming edge */
    for i, p := range bb.Pred {
        var cc []_Copy
        for _, s := range phis {
            phi := s.Instr.(*ir.PhiAssignment)
            if needsCopy(phi, i, rename) {
                cc = append(cc, _Copy { dst: rename(phi.Dst), src: renameExpr(phi.Args[i].Value, rename) })
            }
        }

        /* emit the copies at the end of the predecessor */
        for _, c := range sequentialize(st, cc) {
            p.InsertBeforeTerminator(blockAddr(bb), &ir.Assignment { Dst: c.dst, Src: c.src })
        }
    }

    /* remove the Phi nodes */
    for _, s := range phis {
        bb.Remove(s)
    }
}

func renameExpr(e ir.Expression, rename func(*ir.Identifier) *ir.Identifier) ir.Expression {
    if id, ok := e.(*ir.Identifier); ok {
        return rename(id)
    }

    /* rename all the leaves */
    e = ir.Clone(e)
    ir.WalkSlots(&e, func(p *ir.Expression) {
        if id, ok := (*p).(*ir.Identifier); ok {
            *p = rename(id)
        }
    })
    return e
}

// sequentialize orders a parallel copy so that no copy overwrites a value
// another copy still has to read, breaking cycles with temporaries.
func sequentialize(st *State, cc []_Copy) []_Copy {
    var ret []_Copy
    for len(cc) != 0 {
        found := false
        for i, c := range cc {
            if !readByOthers(cc, i) {
                ret = append(ret, c)
                cc = append(cc[:i], cc[i + 1:]...)
                found = true
                break
            }
        }

        /* every remaining copy is part of a cycle */
        if !found {
            tmp := st.Proc.Frame.CreateTemporary(cc[0].dst.Bits)
            ret = append(ret, _Copy { dst: tmp, src: cc[0].src })
            cc[0].src = tmp
        }
    }
    return ret
}

func readByOthers(cc []_Copy, i int) bool {
    for j, c := range cc {
        if j != i && ir.Uses(c.src, cc[i].dst) {
            return true
        }
    }
    return false
}
