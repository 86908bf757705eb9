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
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/ir`
)

// ConditionCodeElimination replaces flag tests with the relational
// expressions they stand for, when the instruction that produced the flags
// is known.
type ConditionCodeElimination struct{}

func (ConditionCodeElimination) Apply(st *State) {
    for _, bb := range st.Proc.Blocks {
        for _, s := range bb.Statements {
            if use, ok := s.Instr.(ir.Usages); ok {
                diag.Statement(s, func() { eliminateInStatement(st, s, use) })
            }
        }
    }
}

func eliminateInStatement(st *State, s *ir.Statement, use ir.Usages) {
    var ok bool
    var tc *ir.TestCondition

    /* rewrite every flag test */
    for _, u := range use.Usages() {
        ir.WalkSlots(u, func(p *ir.Expression) {
            if tc, ok = (*p).(*ir.TestCondition); ok {
                if v := decompose(st, tc); v != nil {
                    st.RemoveUses(s)
                    *p = v
                    st.AddUses(s)
                }
            }
        })
    }
}

func decompose(st *State, tc *ir.TestCondition) ir.Expression {
    if p := producer(st, tc.Flags); p == nil {
        return nil
    } else {
        return st.Arch.Semantics().DecomposeFlags(tc.Cond, ir.Clone(p))
    }
}

// producer finds the expression whose evaluation set the flags.
func producer(st *State, flags ir.Expression) ir.Expression {
    id, ok := flags.(*ir.Identifier)
    if !ok {
        return nil
    }

    /* must be defined by a condition */
    sid := st.Lookup(id)
    if sid == nil || sid.DefStatement == nil {
        return nil
    }

    /* the flags must be the condition of something */
    as, ok := sid.DefStatement.Instr.(*ir.Assignment)
    if !ok {
        return nil
    }

    /* find the condition */
    cond, ok := as.Src.(*ir.ConditionOf)
    if !ok {
        return nil
    }

    /* the flags were computed from a register holding the result */
    if x, ok := cond.Expr.(*ir.Identifier); ok {
        if xs := st.Lookup(x); xs != nil && xs.DefStatement != nil {
            if def, ok := xs.DefStatement.Instr.(*ir.Assignment); ok && def.Dst == x {
                if bin, ok := def.Src.(*ir.BinaryExpression); ok && !ir.ReadsMemory(bin) {
                    return bin
                }
            }
        }
    }

    /* use the condition expression itself */
    return cond.Expr
}
