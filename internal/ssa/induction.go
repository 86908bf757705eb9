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

    `github.com/cloudwego/decompflow/internal/ir`
)

// UseKind classifies how an induction variable is used inside its loop.
type UseKind uint8

const (
    UseCounter UseKind = iota
    UseIndex
    UsePointer
)

func (self UseKind) String() string {
    switch self {
        case UseCounter : return "counter"
        case UseIndex   : return "index"
        case UsePointer : return "pointer"
        default         : return fmt.Sprintf("UseKind(%d)", self)
    }
}

// IvUse is one classified use of an induction variable. Memory uses carry
// the access, the loop-invariant base address and the scale of the
// variable.
type IvUse struct {
    Kind  UseKind
    Stmt  *ir.Statement
    Mem   *ir.MemoryAccess
    Base  ir.Expression
    Scale int64
}

// InductionVariable is a linear induction variable together with the loop
// it belongs to.
type InductionVariable struct {
    Linear *ir.LinearInductionVariable
    Loop   *Loop
    Phi    *ir.Statement
    Next   *ir.Identifier
    Uses   []IvUse
}

func (self *InductionVariable) String() string {
    return fmt.Sprintf("%s: %s", self.Linear.Phi, self.Linear)
}

// FindInductionVariables finds the linear induction variables of every loop
// of the procedure: header Phi nodes `i = φ(init, i')` where `i' = i ± c`.
func FindInductionVariables(st *State) []*InductionVariable {
    var ret []*InductionVariable
    for _, lp := range FindLoops(st) {
        for _, s := range lp.Header.Phis() {
            if iv := linearVariable(st, lp, s); iv != nil {
                iv.Linear.Bound = loopBound(st, lp, iv)
                iv.Uses = classifyUses(st, lp, iv)
                ret = append(ret, iv)
            }
        }
    }
    return ret
}

func linearVariable(st *State, lp *Loop, s *ir.Statement) *InductionVariable {
    var init ir.Expression
    var next *ir.Identifier
    phi := s.Instr.(*ir.PhiAssignment)

    /* split the arguments into initial and loop-carried values */
    for _, a := range phi.Args {
        if !lp.Contains(a.Block) {
            if init != nil && !ir.Equal(init, a.Value) {
                return nil
            }
            init = a.Value
        } else if id, ok := a.Value.(*ir.Identifier); !ok || (next != nil && next != id) {
            return nil
        } else {
            next = id
        }
    }

    /* must have both */
    if init == nil || next == nil {
        return nil
    }

    /* the loop-carried value must be the Phi plus a constant */
    step, ok := stepOf(st, phi.Dst, next)
    if !ok || step == 0 {
        return nil
    }

    /* show the initial value as a constant when it is one */
    if id, ok := init.(*ir.Identifier); ok {
        if v, ok := Value(st, id).(*ir.Constant); ok {
            init = v
        }
    }

    /* build the induction variable */
    return &InductionVariable {
        Loop : lp,
        Phi  : s,
        Next : next,
        Linear: &ir.LinearInductionVariable {
            Phi  : phi.Dst,
            Init : init,
            Step : step,
        },
    }
}

func stepOf(st *State, phi *ir.Identifier, next *ir.Identifier) (int64, bool) {
    sid := st.Lookup(next)
    if sid == nil || sid.DefStatement == nil {
        return 0, false
    }

    /* must be an assignment of phi ± constant */
    as, ok := sid.DefStatement.Instr.(*ir.Assignment)
    if !ok {
        return 0, false
    }

    /* match the increment */
    return offsetFrom(as.Src, phi)
}

// offsetFrom matches id, id + c and id - c.
func offsetFrom(e ir.Expression, id *ir.Identifier) (int64, bool) {
    if e == ir.Expression(id) {
        return 0, true
    }

    /* must be a binary expression of the identifier and a constant */
    bin, ok := e.(*ir.BinaryExpression)
    if !ok || bin.Left != ir.Expression(id) {
        return 0, false
    }

    /* must be a constant */
    c, ok := bin.Right.(*ir.Constant)
    if !ok {
        return 0, false
    }

    /* check for operators */
    switch bin.Op {
        case ir.OpAdd : return c.Signed(), true
        case ir.OpSub : return -c.Signed(), true
        default       : return 0, false
    }
}

func (self *InductionVariable) mentions(e ir.Expression) bool {
    if e == ir.Expression(self.Next) {
        return true
    } else {
        _, ok := offsetFrom(e, self.Linear.Phi)
        return ok
    }
}

func loopBound(st *State, lp *Loop, iv *InductionVariable) ir.Expression {
    for _, bb := range st.Proc.Blocks {
        tr := bb.Terminator()
        if tr == nil || !lp.Contains(bb) {
            continue
        }

        /* must be a conditional branch leaving the loop */
        br, ok := tr.Instr.(*ir.Branch)
        if !ok || !leavesLoop(lp, bb) {
            continue
        }

        /* must be a comparison */
        cmp, ok := br.Cond.(*ir.BinaryExpression)
        if !ok || !cmp.Op.IsRelational() {
            continue
        }

        /* the induction variable against an invariant */
        if iv.mentions(cmp.Left) && lp.Invariant(st, cmp.Right) {
            return cmp.Right
        } else if iv.mentions(cmp.Right) && lp.Invariant(st, cmp.Left) {
            return cmp.Left
        }
    }
    return nil
}

func leavesLoop(lp *Loop, bb *ir.Block) bool {
    for _, s := range bb.Succ {
        if !lp.Contains(s) {
            return true
        }
    }
    return false
}

func classifyUses(st *State, lp *Loop, iv *InductionVariable) []IvUse {
    var ret []IvUse
    sid := st.Get(iv.Linear.Phi)
    seen := make(map[*ir.Statement]bool)

    /* scan every user inside the loop */
    for _, u := range sid.Uses {
        if seen[u] || !lp.Contains(u.Block) {
            continue
        }

        /* check for memory accesses */
        seen[u] = true
        n := len(ret)

        /* classify the memory accesses */
        forEachAccess(u, func(m *ir.MemoryAccess) {
            if base, scale, ok := addressOf(m.Ea, iv.Linear.Phi); ok {
                kind := UseIndex
                if scale == 1 {
                    kind = UsePointer
                }
                if base == nil || lp.Invariant(st, base) {
                    ret = append(ret, IvUse { Kind: kind, Stmt: u, Mem: m, Base: base, Scale: scale })
                }
            }
        })

        /* everything else is a counter */
        if len(ret) == n {
            ret = append(ret, IvUse { Kind: UseCounter, Stmt: u })
        }
    }

    /* all done */
    return ret
}

func forEachAccess(s *ir.Statement, fn func(m *ir.MemoryAccess)) {
    if st, ok := s.Instr.(*ir.Store); ok {
        fn(st.Dst)
    }

    /* loads */
    if use, ok := s.Instr.(ir.Usages); ok {
        for _, u := range use.Usages() {
            ir.WalkSlots(u, func(p *ir.Expression) {
                if m, ok := (*p).(*ir.MemoryAccess); ok {
                    fn(m)
                }
            })
        }
    }
}

// addressOf matches iv, base + iv, base + iv * k and base + (iv << s), with
// either operand order for the additions.
func addressOf(ea ir.Expression, iv *ir.Identifier) (ir.Expression, int64, bool) {
    if ea == ir.Expression(iv) {
        return nil, 1, true
    }

    /* must be an addition */
    bin, ok := ea.(*ir.BinaryExpression)
    if !ok || bin.Op != ir.OpAdd {
        return nil, 0, false
    }

    /* try both operands */
    if k, ok := scaleOf(bin.Right, iv); ok && !ir.Uses(bin.Left, iv) {
        return bin.Left, k, true
    } else if k, ok = scaleOf(bin.Left, iv); ok && !ir.Uses(bin.Right, iv) {
        return bin.Right, k, true
    } else {
        return nil, 0, false
    }
}

func scaleOf(e ir.Expression, iv *ir.Identifier) (int64, bool) {
    if e == ir.Expression(iv) {
        return 1, true
    }

    /* must be a multiplication or a left shift */
    bin, ok := e.(*ir.BinaryExpression)
    if !ok || bin.Left != ir.Expression(iv) {
        return 0, false
    }

    /* by a constant */
    c, ok := bin.Right.(*ir.Constant)
    if !ok {
        return 0, false
    }

    /* check for operators */
    switch bin.Op {
        case ir.OpMul : return c.Signed(), true
        case ir.OpShl : return int64(1) << c.Value, c.Value < 63
        default       : return 0, false
    }
}
