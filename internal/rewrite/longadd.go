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


// Package rewrite holds the rewriters that run on flat procedures, before
// they are converted into SSA form.
package rewrite

import (
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/ir`
)

type _LongOp struct {
    op  ir.Operator
    lo  *ir.Statement
    cy  *ir.Statement
    hi  *ir.Statement
    la  ir.Expression
    lb  ir.Expression
    ha  ir.Expression
    hb  ir.Expression
}

// LongAdd fuses additions and subtractions that are split into a low part
// and a high part chained by the carry flag into a single operation on the
// double-width value.
type LongAdd struct {
    Arch arch.Architecture
}

// Apply rewrites every long addition of the procedure and tells whether
// anything was changed.
//
//     lo = la + lb ; C = cond(lo) ; hi = ha + hb + C  -->  t = SEQ(ha, la) + SEQ(hb, lb) ;
//                                                         lo = SLICE(t, 0) ; C = cond(lo) ;
//                                                         hi = SLICE(t, w)
func (self LongAdd) Apply(proc *ir.Procedure) bool {
    ret := false
    for _, bb := range proc.Blocks {
        for i := 0; i < len(bb.Statements); i++ {
            diag.Statement(bb.Statements[i], func() {
                if m, ok := self.match(bb, i); ok {
                    self.rewrite(proc, bb, m)
                    ret = true
                }
            })
        }
    }
    return ret
}

func (self LongAdd) carries(s ir.Storage) bool {
    fg, ok := s.(*ir.FlagGroupStorage)
    return ok && fg.Mask & self.Arch.CarryFlag() != 0
}

func (self LongAdd) match(bb *ir.Block, i int) (m _LongOp, ok bool) {
    var as *ir.Assignment
    var lo *ir.BinaryExpression

    /* lo = la op lb */
    if as, ok = bb.Statements[i].Instr.(*ir.Assignment); !ok {
        return
    } else if lo, ok = as.Src.(*ir.BinaryExpression); !ok || (lo.Op != ir.OpAdd && lo.Op != ir.OpSub) {
        return m, false
    }

    /* the operands of the low part */
    m.op = lo.Op
    m.la = lo.Left
    m.lb = lo.Right
    m.lo = bb.Statements[i]

    /* find the carry and the high part */
    for j := i + 1; j < len(bb.Statements); j++ {
        s := bb.Statements[j]
        if m.cy == nil && self.carryOf(s, as.Dst) {
            m.cy = s
            continue
        }

        /* hi = ha op hb op C */
        if m.cy != nil {
            if ha, hb, found := self.high(s, m.op, m.cy.Instr.(*ir.Assignment).Dst); found {
                m.ha, m.hb, m.hi = ha, hb, s
                return m, self.independent(bb, i, j, m)
            }
        }

        /* nothing in between may touch the carry */
        if self.clobbers(s) {
            return m, false
        }
    }

    /* not a long operation */
    return m, false
}

func (self LongAdd) carryOf(s *ir.Statement, lo *ir.Identifier) bool {
    if as, ok := s.Instr.(*ir.Assignment); !ok || !self.carries(as.Dst.Storage) {
        return false
    } else if c, ok := as.Src.(*ir.ConditionOf); !ok {
        return false
    } else {
        return c.Expr == ir.Expression(lo)
    }
}

func (self LongAdd) high(s *ir.Statement, op ir.Operator, cy *ir.Identifier) (ir.Expression, ir.Expression, bool) {
    as, ok := s.Instr.(*ir.Assignment)
    if !ok {
        return nil, nil, false
    }

    /* (ha op hb) op C */
    outer, ok := as.Src.(*ir.BinaryExpression)
    if !ok || outer.Op != op {
        return nil, nil, false
    }

    /* the carry may be widened to the operand size */
    c := outer.Right
    if v, ok := c.(*ir.Cast); ok {
        c = v.Expr
    }

    /* must read the carry flag that was just produced */
    if id, ok := c.(*ir.Identifier); !ok || !self.carries(id.Storage) || ir.StorageKey(id.Storage) != ir.StorageKey(cy.Storage) {
        return nil, nil, false
    }

    /* the inner operation */
    if inner, ok := outer.Left.(*ir.BinaryExpression); !ok || inner.Op != op {
        return nil, nil, false
    } else {
        return inner.Left, inner.Right, true
    }
}

func (self LongAdd) clobbers(s *ir.Statement) bool {
    if _, ok := s.Instr.(*ir.CallInstruction); ok {
        return true
    }

    /* anything writing the flag register */
    for _, id := range ir.DefinedIdentifiers(s.Instr) {
        if ir.StorageKey(id.Storage) == self.Arch.FlagRegister() {
            return true
        }
    }

    /* all other instructions are fine */
    return false
}

// independent checks that the operands of the high part hold the same values
// at the low part, so that both halves can be computed there.
func (self LongAdd) independent(bb *ir.Block, i int, j int, m _LongOp) bool {
    lo := m.lo.Instr.(*ir.Assignment).Dst
    mem := ir.ReadsMemory(m.ha) || ir.ReadsMemory(m.hb)

    /* the high part cannot depend on the low result */
    if readsStorage(m.ha, lo.Storage) || readsStorage(m.hb, lo.Storage) {
        return false
    }

    /* nothing in between may change the operands */
    for _, s := range bb.Statements[i + 1:j] {
        if _, ok := s.Instr.(*ir.Store); ok && mem {
            return false
        }

        /* check every definition */
        for _, d := range ir.DefinedIdentifiers(s.Instr) {
            if readsStorage(m.ha, d.Storage) || readsStorage(m.hb, d.Storage) {
                return false
            }
        }
    }

    /* no conflicts */
    return m.ha.BitSize() == m.la.BitSize() && m.hb.BitSize() == m.lb.BitSize()
}

func readsStorage(e ir.Expression, s ir.Storage) bool {
    found := false
    ir.WalkSlots(&e, func(p *ir.Expression) {
        if id, ok := (*p).(*ir.Identifier); ok && aliases(id.Storage, s) {
            found = true
        }
    })
    return found
}

func aliases(a ir.Storage, b ir.Storage) bool {
    x, ok1 := a.(*ir.RegisterStorage)
    y, ok2 := b.(*ir.RegisterStorage)

    /* registers overlap when they share the same number */
    if ok1 && ok2 {
        return x.Number == y.Number
    } else {
        return ir.StorageKey(a) == ir.StorageKey(b)
    }
}

func (self LongAdd) rewrite(proc *ir.Procedure, bb *ir.Block, m _LongOp) {
    lo := m.lo.Instr.(*ir.Assignment)
    hi := m.hi.Instr.(*ir.Assignment)
    bits := lo.Dst.Bits

    /* compute the double-width value */
    tmp := proc.Frame.CreateTemporary(bits * 2)
    val := &ir.BinaryExpression {
        Op    : m.op,
        Bits  : bits * 2,
        Left  : &ir.MkSequence { Head: m.ha, Tail: m.la },
        Right : &ir.MkSequence { Head: m.hb, Tail: m.lb },
    }

    /* split it into the two halves */
    bb.Insert(bb.IndexOf(m.lo), m.lo.Addr, &ir.Assignment { Dst: tmp, Src: val })
    lo.Src = &ir.Slice { Expr: tmp, Offset: 0, Bits: bits }
    hi.Src = &ir.Slice { Expr: tmp, Offset: bits, Bits: hi.Dst.Bits }
}
