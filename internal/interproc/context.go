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
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/ssa`
)

// Context gives the analyses of one unit of work access to the procedure
// flows. Flows of the procedures in Current are the working assumptions of
// the component being analyzed, everything else comes from the finalized
// table. A Context is owned by a single worker.
type Context struct {
    Arch     arch.Architecture
    Platform arch.Platform
    Program  *ir.Program
    Flows    *flow.ProgramDataFlow
    Current  map[*ir.Procedure]*flow.ProcedureFlow
    hell     *flow.ProcedureFlow
    ext      map[*ir.ExternalProcedure]*flow.ProcedureFlow
}

func NewContext(plat arch.Platform, prog *ir.Program, flows *flow.ProgramDataFlow) *Context {
    return &Context {
        Arch     : plat.Architecture(),
        Platform : plat,
        Program  : prog,
        Flows    : flows,
        Current  : make(map[*ir.Procedure]*flow.ProcedureFlow),
        hell     : flow.HellFlow(plat.Architecture()),
        ext      : make(map[*ir.ExternalProcedure]*flow.ProcedureFlow),
    }
}

// Hell returns the flow assumed for unknown callees.
func (self *Context) Hell() *flow.ProcedureFlow {
    return self.hell
}

// Callee resolves the target of a call.
func (self *Context) Callee(call *ir.CallInstruction) ir.ProcedureBase {
    return Callee(self.Program, self.Platform, call)
}

// FlowOf returns the flow of a callee, or nil when nothing is known yet.
func (self *Context) FlowOf(callee ir.ProcedureBase) *flow.ProcedureFlow {
    switch v := callee.(type) {
        case *ir.Procedure: {
            if pf, ok := self.Current[v]; ok {
                return pf
            } else {
                return self.Flows.Procedure(v)
            }
        }
        case *ir.ExternalProcedure: {
            if pf, ok := self.ext[v]; ok {
                return pf
            } else {
                pf = flow.ExternalFlow(self.Arch, v)
                self.ext[v] = pf
                return pf
            }
        }
        default: {
            return nil
        }
    }
}

// CallFlow returns the flow of the target of a call, falling back to the
// hell flow.
func (self *Context) CallFlow(call *ir.CallInstruction) *flow.ProcedureFlow {
    if pf := self.FlowOf(self.Callee(call)); pf != nil {
        return pf
    } else {
        return self.hell
    }
}

// InComponent tells whether a call targets a member of the component being
// analyzed, whose flow is still changing.
func (self *Context) InComponent(call *ir.CallInstruction) bool {
    if p, ok := self.Callee(call).(*ir.Procedure); !ok {
        return false
    } else {
        _, cur := self.Current[p]
        return cur
    }
}

// ResolveCall binds calls to finalized callees with their summaries. Calls
// into the current component are bound as hell calls, since their flows
// are still changing, and narrowed later by the call rewriter.
func (self *Context) ResolveCall(call *ir.CallInstruction) ssa.CallEffects {
    if self.InComponent(call) {
        return ssa.HellEffects(self.Arch, call)
    }

    /* unknown callees */
    pf := self.FlowOf(self.Callee(call))
    if pf == nil {
        return ssa.HellEffects(self.Arch, call)
    }

    /* the callee reads what it may use, and writes what it trashes */
    sp := self.Arch.StackPointer()
    ret := ssa.CallEffects { StackDelta: pf.StackDelta }

    /* the stack pointer locates the stack arguments */
    for _, r := range pf.MayUse.Sorted() {
        ret.Uses = append(ret.Uses, r)
    }
    if !pf.MayUse.Has(sp) {
        ret.Uses = append(ret.Uses, sp)
    }

    /* trashed registers */
    for _, r := range pf.Trashed.Sorted() {
        ret.Defs = append(ret.Defs, r)
    }

    /* flags */
    if pf.MayUseFlags != 0 {
        ret.Uses = append(ret.Uses, self.Arch.FlagGroup(pf.MayUseFlags))
    }
    if pf.TrashedFlags != 0 {
        ret.Defs = append(ret.Defs, self.Arch.FlagGroup(pf.TrashedFlags))
    }

    /* all done */
    return ret
}

func flagMask(a arch.Architecture, s ir.Storage) uint32 {
    switch v := s.(type) {
        case *ir.FlagGroupStorage : return v.Mask
        case *ir.RegisterStorage  : if v == a.FlagRegister() { return a.AllFlags() }
    }
    return 0
}
