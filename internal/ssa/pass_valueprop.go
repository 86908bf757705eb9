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

// ValuePropagation replaces uses of identifiers with their values when the
// value is cheap to duplicate (constants, copies, procedure constants and
// identifiers offset by a constant), and simplifies the resulting
// expressions. Phi nodes merging identical values become copies.
type ValuePropagation struct {
    MaxIterations int
}

func (self ValuePropagation) Apply(st *State) {
    for i := 0; ; i++ {
        if i >= self.MaxIterations {
            diag.Fail(diag.ConvergenceError { Pass: "value propagation", Unit: st.Proc.Name, Iterations: i })
        }

        /* run until nothing changes */
        if !self.iterate(st) {
            break
        }
    }
}

func (self ValuePropagation) iterate(st *State) bool {
    changed := false
    for _, bb := range st.Proc.Blocks {
        for _, s := range append([]*ir.Statement(nil), bb.Statements...) {
            diag.Statement(s, func() {
                if phi, ok := s.Instr.(*ir.PhiAssignment); ok {
                    changed = self.phi(st, s, phi) || changed
                } else {
                    changed = self.statement(st, s) || changed
                }
            })
        }
    }
    return changed
}

// Value returns the expression an identifier can be replaced with, or nil.
func Value(st *State, id *ir.Identifier) ir.Expression {
    sid := st.Lookup(id)
    if sid == nil || sid.DefStatement == nil {
        return nil
    }

    /* only plain assignments have a value */
    as, ok := sid.DefStatement.Instr.(*ir.Assignment)
    if !ok || as.Dst != id {
        return nil
    }

    /* check for propagatable values */
    switch v := as.Src.(type) {
        case *ir.Constant          : return v
        case *ir.Identifier        : return v
        case *ir.ProcedureConstant : return v
        case *ir.BinaryExpression  : if isOffset(v) { return v }
    }

    /* not propagatable */
    return nil
}

func isOffset(e *ir.BinaryExpression) bool {
    if e.Op != ir.OpAdd && e.Op != ir.OpSub {
        return false
    }

    /* identifier ± constant */
    _, x := e.Left.(*ir.Identifier)
    _, y := e.Right.(*ir.Constant)
    return x && y
}

func (self ValuePropagation) statement(st *State, s *ir.Statement) bool {
    use, ok := s.Instr.(ir.Usages)
    if !ok {
        return false
    }

    /* substitute all the identifiers */
    changed := false
    st.RemoveUses(s)

    /* replace identifiers with their values */
    for _, u := range use.Usages() {
        ir.WalkSlots(u, func(p *ir.Expression) {
            if id, ok := (*p).(*ir.Identifier); ok {
                if v := Value(st, id); v != nil && v != ir.Expression(id) {
                    *p = ir.Clone(v)
                    changed = true
                }
            }
        })

        /* simplify the operand */
        if v, ok := Simplify(*u); ok {
            *u = v
            changed = true
        }
    }

    /* update the uses */
    st.AddUses(s)
    return changed
}

func (self ValuePropagation) phi(st *State, s *ir.Statement, phi *ir.PhiAssignment) bool {
    var val ir.Expression
    var changed bool

    /* copies and constants flow into the arguments */
    st.RemoveUses(s)
    for i, a := range phi.Args {
        if id, ok := a.Value.(*ir.Identifier); ok {
            switch v := Value(st, id).(type) {
                case *ir.Constant   : phi.Args[i].Value, changed = v, true
                case *ir.Identifier : if v != id { phi.Args[i].Value, changed = v, true }
            }
        }
    }

    /* find the unique value other than the Phi node itself */
    st.AddUses(s)
    for _, a := range phi.Args {
        if a.Value == ir.Expression(phi.Dst) {
            continue
        } else if val == nil {
            val = a.Value
        } else if !ir.Equal(val, a.Value) {
            return changed
        }
    }

    /* a Phi node that only merges itself is never reached */
    if val == nil {
        return changed
    }

    /* replace with a copy placed after the remaining Phi nodes */
    bb := s.Block
    st.Delete(s)
    st.Insert(bb, len(bb.Phis()), s.Addr, &ir.Assignment { Dst: phi.Dst, Src: ir.Clone(val) })
    return true
}
