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


package interproc

import (
    `fmt`

    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/ssa`
)

// RewriteCall narrows the bindings of a call to what its callee actually
// does. Registers the callee does not trash take their values from before
// the call, registers the callee always sets to a constant take that
// constant, and arguments the callee never reads are unbound. Callees with a
// signature turn the call into a typed call.
func RewriteCall(st *ssa.State, s *ir.Statement, pf *flow.ProcedureFlow) bool {
    a := st.Arch
    sp := a.StackPointer()
    call := s.Instr.(*ir.CallInstruction)
    defs := make([]*ir.DefBinding, 0, len(call.Defs))

    /* remove the definitions of the preserved registers */
    for _, d := range call.Defs {
        if v := survivingValue(st, call, d, pf); v == nil {
            defs = append(defs, d)
        } else if sid := st.Lookup(d.Id); sid == nil {
            defs = append(defs, d)
        } else {
            st.ReplaceUses(sid, v)
            sid.DefStatement = nil
        }
    }

    /* remove the arguments the callee does not read */
    st.RemoveUses(s)
    uses := make([]*ir.UseBinding, 0, len(call.Uses))

    /* keep the stack pointer and the stack arguments */
    for _, u := range call.Uses {
        switch k := ir.StorageKey(u.Storage).(type) {
            case *ir.RegisterStorage: {
                if k == a.FlagRegister() {
                    if pf.MayUseFlags != 0 { uses = append(uses, u) }
                } else if w := a.WholeRegister(k); w == sp || pf.MayUse.Has(w) {
                    uses = append(uses, u)
                }
            }
            default: {
                uses = append(uses, u)
            }
        }
    }

    /* update the call */
    changed := len(defs) != len(call.Defs) || len(uses) != len(call.Uses) || (pf.Signature != nil && call.Signature == nil)
    call.Defs = defs
    call.Uses = uses

    /* typed calls */
    if pf.Signature != nil {
        call.Signature = pf.Signature
    }

    /* update the uses */
    st.AddUses(s)
    return changed
}

func survivingValue(st *ssa.State, call *ir.CallInstruction, d *ir.DefBinding, pf *flow.ProcedureFlow) ir.Expression {
    a := st.Arch
    k := ir.StorageKey(d.Storage)

    /* flags survive when none of them is trashed */
    if mask := flagMask(a, d.Storage); mask != 0 {
        if pf.TrashedFlags & mask != 0 {
            return nil
        } else if u := call.UseOf(k); u != nil {
            return u.Expr
        } else {
            return nil
        }
    }

    /* only registers survive */
    r, ok := k.(*ir.RegisterStorage)
    if !ok {
        return nil
    }

    /* constant return values */
    w := a.WholeRegister(r)
    if c := pf.Constants[w]; c != nil && w == r {
        return c
    }

    /* preserved registers */
    if pf.Trashed.Has(w) || !pf.Preserved.Has(w) {
        return nil
    } else if u := call.UseOf(k); u == nil {
        return nil
    } else {
        return u.Expr
    }
}

// CallRewriter rewrites every call of a procedure whose callee has a known
// flow. Calls to unknown targets stay generic.
type CallRewriter struct {
    Context *Context
}

func (self CallRewriter) Apply(st *ssa.State) int {
    n := 0
    for _, bb := range st.Proc.Blocks {
        for _, s := range append([]*ir.Statement(nil), bb.Statements...) {
            if call, ok := s.Instr.(*ir.CallInstruction); ok {
                diag.Statement(s, func() {
                    if pf := self.Context.FlowOf(self.Context.Callee(call)); pf != nil && RewriteCall(st, s, pf) {
                        n++
                    }
                })
            }
        }
    }
    return n
}

// IndirectCallRewriter turns calls through constant addresses into direct
// calls, once value propagation has folded the target. Targets that cannot
// be resolved are reported and stay hell calls.
type IndirectCallRewriter struct {
    Context  *Context
    Listener diag.EventListener
}

func (self IndirectCallRewriter) Apply(st *ssa.State) int {
    n := 0
    st.Proc.Statements(func(s *ir.Statement) {
        call, ok := s.Instr.(*ir.CallInstruction)
        if !ok {
            return
        }

        /* check the callee */
        switch v := call.Callee.(type) {
            case *ir.ProcedureConstant: {
                return
            }
            case *ir.Constant: {
                if p := ResolveAddress(self.Context.Program, self.Context.Platform, v.Value); p != nil {
                    call.Callee = &ir.ProcedureConstant { Proc: p }
                    n++
                } else {
                    self.warn(st, s, fmt.Sprintf("call to unknown address %#x", v.Value))
                }
            }
            default: {
                self.warn(st, s, fmt.Sprintf("unresolved indirect call through %s", v))
            }
        }
    })
    return n
}

func (self IndirectCallRewriter) warn(st *ssa.State, s *ir.Statement, msg string) {
    if self.Listener != nil {
        self.Listener.Warn(diag.StatementLocation(st.Proc.Name, s.Addr), msg)
    }
}
