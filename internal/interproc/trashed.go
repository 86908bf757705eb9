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
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/ssa`
)

// TrashedRegisterFinder computes the registers whose value on exit may
// differ from their value on entry, the stack delta of the procedure, and
// the registers it always returns a constant in. Paths through the blocks in
// Ends never return, so nothing written along them reaches the caller.
type TrashedRegisterFinder struct {
    Context       *Context
    Ends          map[*ir.Block]bool
    MaxIterations int
}

func (self TrashedRegisterFinder) Apply(st *ssa.State, pf *flow.ProcedureFlow) {
    a := self.Context.Arch
    sp := a.StackPointer()
    ev := evaluate(self.Context, st, self.MaxIterations, self.Ends)

    /* check the value of every register on exit */
    for _, s := range st.Proc.Exit.Statements {
        u, ok := s.Instr.(*ir.UseInstruction)
        if !ok {
            continue
        }

        /* only registers, the flags are handled below */
        r, ok := u.Storage.(*ir.RegisterStorage)
        if !ok || r == a.FlagRegister() {
            continue
        }

        /* the stack pointer moves by a known amount */
        v := ev.expr(u.Expr)
        w := a.WholeRegister(r)

        /* the stack pointer is never trashed */
        if w == sp {
            if v.kind == _Entry && v.reg == r {
                pf.StackDelta = int(v.off)
            } else {
                pf.StackDelta = a.ReturnAddressBytes()
            }
            continue
        }

        /* registers restored on exit, or only written on paths that never return */
        if v.kind == _Bottom || v.isOriginal(r) {
            continue
        }

        /* constant registers */
        pf.Trashed.Add(w)
        if v.kind == _Const && w == r {
            pf.Constants[w] = v.val
        }
    }

    /* everything else survives the procedure */
    for _, r := range a.Registers() {
        if !pf.Trashed.Has(r) {
            pf.Preserved.Add(r)
        }
    }

    /* flags written by the procedure and its callees */
    pf.TrashedFlags = self.trashedFlags(st, ev.ret)
    pf.PreservedFlags = a.AllFlags() &^ pf.TrashedFlags
}

func (self TrashedRegisterFinder) trashedFlags(st *ssa.State, returning map[*ir.Block]bool) uint32 {
    var ret uint32
    a := self.Context.Arch

    /* the exit is unreachable, nothing is trashed */
    if !returning[st.Proc.Exit] {
        return 0
    }

    /* scan every definition that can reach the caller */
    st.Proc.Statements(func(s *ir.Statement) {
        if !returning[s.Block] {
            return
        }

        /* flags defined by this statement */
        switch ins := s.Instr.(type) {
            case *ir.Assignment: {
                ret |= flagMask(a, ins.Dst.Storage)
            }
            case *ir.CallInstruction: {
                for _, d := range ins.Defs {
                    ret |= flagMask(a, d.Storage) & self.Context.CallFlow(ins).TrashedFlags
                }
            }
        }
    })

    /* all done */
    return ret
}
