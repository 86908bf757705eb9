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

// UsedRegisterFinder computes the registers, and the bits of them, that a
// procedure or its callees read before writing them. Registers that only
// flow back to themselves on exit are bypassed, not used.
type UsedRegisterFinder struct {
    Context *Context
}

type _UseWalker struct {
    ctx    *Context
    st     *ssa.State
    key    ir.Storage
    base   flow.BitRange
    seen   map[*ir.Identifier]bool
    bits   flow.BitRange
    bypass bool
}

func (self UsedRegisterFinder) Apply(st *ssa.State, pf *flow.ProcedureFlow) {
    a := self.Context.Arch
    for _, sid := range st.EntryDefs() {
        r, ok := ir.StorageKey(sid.Id.Storage).(*ir.RegisterStorage)
        if !ok {
            continue
        }

        /* follow every use of the entry value */
        w := a.WholeRegister(r)
        uw := &_UseWalker {
            ctx  : self.Context,
            st   : st,
            key  : r,
            base : flow.BitRange { Lo: r.BitOffset - w.BitOffset, Hi: r.BitOffset - w.BitOffset + r.Bits },
            seen : make(map[*ir.Identifier]bool),
        }

        /* flags are tracked by mask */
        if uw.walk(sid.Id); r == a.FlagRegister() {
            if !uw.bits.IsEmpty() {
                pf.MayUseFlags |= flagMask(a, sid.Id.Storage)
            }
            continue
        }

        /* registers passed through to the caller */
        if uw.bypass {
            pf.ByPass.Add(w)
        }

        /* registers read by the procedure */
        if !uw.bits.IsEmpty() {
            pf.MayUse.Add(w)
            pf.BitsUsed[w] = pf.BitsUsed[w].Union(uw.bits)
        }
    }
}

func (self *_UseWalker) walk(id *ir.Identifier) {
    if self.seen[id] {
        return
    }

    /* find the SSA value */
    sid := self.st.Lookup(id)
    self.seen[id] = true

    /* not renamed */
    if sid == nil {
        return
    }

    /* check every use */
    for _, s := range sid.Uses {
        switch ins := s.Instr.(type) {
            case *ir.Assignment: {
                if ins.Src == ir.Expression(id) {
                    self.walk(ins.Dst)
                } else {
                    self.read(ins.Src, id)
                }
            }
            case *ir.PhiAssignment: {
                self.walk(ins.Dst)
            }
            case *ir.UseInstruction: {
                if ins.Storage == self.key && ins.Expr == ir.Expression(id) {
                    self.bypass = true
                } else {
                    self.read(ins.Expr, id)
                }
            }
            case *ir.CallInstruction: {
                self.call(ins, id)
            }
            case ir.Usages: {
                for _, u := range ins.Usages() {
                    self.read(*u, id)
                }
            }
        }
    }
}

// read records the bits of id read by an expression.
func (self *_UseWalker) read(e ir.Expression, id *ir.Identifier) {
    self.bits = self.bits.Union(self.bitsOf(e, id))
}

func (self *_UseWalker) bitsOf(e ir.Expression, id *ir.Identifier) flow.BitRange {
    switch v := e.(type) {
        case *ir.Identifier: {
            if v == id {
                return self.base
            } else {
                return flow.BitRange{}
            }
        }
        case *ir.Slice: {
            if v.Expr == ir.Expression(id) {
                return self.narrow(v.Offset, v.Bits)
            }
        }
        case *ir.Cast: {
            if v.Expr == ir.Expression(id) && v.Bits < id.Bits {
                return self.narrow(0, v.Bits)
            }
        }
    }

    /* check the operands */
    ret := flow.BitRange{}
    for _, p := range ir.Operands(e) {
        ret = ret.Union(self.bitsOf(*p, id))
    }

    /* all done */
    return ret
}

func (self *_UseWalker) narrow(off int, bits int) flow.BitRange {
    lo := self.base.Lo + off
    hi := lo + bits

    /* clamp to the register */
    if hi > self.base.Hi {
        hi = self.base.Hi
    }

    /* all done */
    return flow.BitRange { Lo: lo, Hi: hi }
}

// call records the bits the callee reads from the arguments, and follows
// the registers the callee preserves.
func (self *_UseWalker) call(call *ir.CallInstruction, id *ir.Identifier) {
    a := self.ctx.Arch
    pf := self.ctx.CallFlow(call)

    /* calling through the value reads all of it */
    self.read(call.Callee, id)

    /* check every argument */
    for _, u := range call.Uses {
        if !ir.Uses(u.Expr, id) {
            continue
        }

        /* arguments computed from the value */
        k := ir.StorageKey(u.Storage)
        if u.Expr != ir.Expression(id) || k != self.key {
            if self.passedTo(pf, k) || self.returnedBy(call, pf, u) {
                self.read(u.Expr, id)
            } else if d := self.preservedDef(call, pf, k); d != nil && u.Expr == ir.Expression(id) {
                self.walk(d.Id)
            }
            continue
        }

        /* the flags are read if the callee reads any of them */
        r, ok := k.(*ir.RegisterStorage)
        if !ok || r == a.FlagRegister() {
            if self.passedTo(pf, k) {
                self.bits = self.bits.Union(self.base)
            }
            continue
        }

        /* the bits the callee reads, members of the component may still
         * turn the value into their result */
        w := a.WholeRegister(r)
        if !pf.MayUse.Has(w) && self.mayDerive(call, pf, w) {
            self.bits = self.bits.Union(self.base)
        } else if pf.MayUse.Has(w) {
            if br, ok := pf.BitsUsed[w]; ok && !br.IsEmpty() {
                self.bits = self.bits.Union(br)
            } else {
                self.bits = self.bits.Union(self.base)
            }
        }

        /* preserved registers flow through the call */
        if !pf.Trashed.Has(w) && pf.Preserved.Has(w) {
            if d := call.DefOf(k); d != nil {
                self.walk(d.Id)
            }
        }
    }
}

// returnedBy tells whether the value computed for a register argument may
// come back out of the call, so that computing it counts as reading its
// operands. Plain copies are followed through the call instead.
func (self *_UseWalker) returnedBy(call *ir.CallInstruction, pf *flow.ProcedureFlow, u *ir.UseBinding) bool {
    k := ir.StorageKey(u.Storage)
    r, ok := k.(*ir.RegisterStorage)
    if !ok || r == self.ctx.Arch.FlagRegister() {
        return false
    }

    /* preserved registers hand the value back unchanged */
    if _, copied := u.Expr.(*ir.Identifier); !copied && self.preservedDef(call, pf, k) != nil {
        return true
    }

    /* trashed ones may be derived from it */
    return self.mayDerive(call, pf, self.ctx.Arch.WholeRegister(r))
}

// preservedDef is the definition of a register the callee hands back
// unchanged, if it is used after the call.
func (self *_UseWalker) preservedDef(call *ir.CallInstruction, pf *flow.ProcedureFlow, k ir.Storage) *ir.DefBinding {
    r, ok := k.(*ir.RegisterStorage)
    if !ok || r == self.ctx.Arch.FlagRegister() {
        return nil
    }

    /* trashed registers are not handed back */
    if w := self.ctx.Arch.WholeRegister(r); pf.Trashed.Has(w) || !pf.Preserved.Has(w) {
        return nil
    } else {
        return call.DefOf(k)
    }
}

// mayDerive tells whether a register trashed by a member of the current
// component may be computed from its value on entry. The flows of the
// members start out reading nothing, so the read can not be confirmed
// from MayUse until the fixed point is reached.
func (self *_UseWalker) mayDerive(call *ir.CallInstruction, pf *flow.ProcedureFlow, w *ir.RegisterStorage) bool {
    return self.ctx.InComponent(call) && pf.Trashed.Has(w) && pf.Constants[w] == nil
}

// passedTo tells whether the callee reads a storage bound to a call.
func (self *_UseWalker) passedTo(pf *flow.ProcedureFlow, k ir.Storage) bool {
    switch v := k.(type) {
        case *ir.RegisterStorage : {
            if v == self.ctx.Arch.FlagRegister() {
                return pf.MayUseFlags != 0
            } else {
                return pf.MayUse.Has(self.ctx.Arch.WholeRegister(v))
            }
        }
        default: {
            return true
        }
    }
}
