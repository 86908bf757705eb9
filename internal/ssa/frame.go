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
    `sort`

    `github.com/cloudwego/decompflow/internal/ir`
)

type _FrameSlot struct {
    off  int
    bits int
}

type _FrameRewriter struct {
    st    *State
    sp    *ir.Identifier
    reg   ir.Storage
    slots map[_FrameSlot]bool
    vars  map[_FrameSlot]*ir.Identifier
}

// RenameFrameAccesses turns memory accesses at constant offsets from the
// entry value of the stack pointer into stack variables, and renames them
// into SSA form. Nothing is promoted when the address of the frame escapes,
// and slots accessed with overlapping widths stay in memory. It reports
// whether any slot was promoted.
func RenameFrameAccesses(st *State) bool {
    sp := st.EntryDef(st.Arch.StackPointer())
    if sp == nil {
        return false
    }

    /* create the rewriter */
    fr := &_FrameRewriter {
        st    : st,
        sp    : sp.Id,
        reg   : ir.StorageKey(st.Arch.StackPointer()),
        slots : make(map[_FrameSlot]bool),
        vars  : make(map[_FrameSlot]*ir.Identifier),
    }

    /* the frame address must not escape */
    if fr.escapes() {
        return false
    }

    /* find the slots that can be promoted */
    if fr.collect(); len(fr.vars) == 0 {
        return false
    }

    /* rewrite the accesses, and rename the new variables */
    fr.rewrite()
    st.Extend()
    return true
}

// offset matches sp0 and sp0 ± c.
func (self *_FrameRewriter) offset(e ir.Expression) (int, bool) {
    if e == ir.Expression(self.sp) {
        return 0, true
    }

    /* must be sp ± constant */
    bin, ok := e.(*ir.BinaryExpression)
    if !ok || bin.Left != ir.Expression(self.sp) || (bin.Op != ir.OpAdd && bin.Op != ir.OpSub) {
        return 0, false
    }

    /* extract the constant */
    if c, ok := bin.Right.(*ir.Constant); !ok {
        return 0, false
    } else if bin.Op == ir.OpSub {
        return int(-c.Signed()), true
    } else {
        return int(c.Signed()), true
    }
}

// leaks tests whether the stack pointer is used other than as a memory
// address inside the expression.
func (self *_FrameRewriter) leaks(e ir.Expression) bool {
    switch v := e.(type) {
        case *ir.Identifier: {
            return v == self.sp
        }
        case *ir.MemoryAccess: {
            if _, ok := self.offset(v.Ea); ok {
                return false
            } else {
                return self.leaks(v.Ea)
            }
        }
    }

    /* check all the operands */
    for _, p := range ir.Operands(e) {
        if self.leaks(*p) {
            return true
        }
    }

    /* all done */
    return false
}

// carries tests whether a whole operand may hold a stack pointer value
// without the frame escaping.
func (self *_FrameRewriter) carries(e ir.Expression) bool {
    _, ok := self.offset(e)
    return ok
}

func (self *_FrameRewriter) escapes() bool {
    for _, bb := range self.st.Proc.Blocks {
        for _, s := range bb.Statements {
            if self.escapesIn(s) {
                return true
            }
        }
    }
    return false
}

func (self *_FrameRewriter) escapesIn(s *ir.Statement) bool {
    switch v := s.Instr.(type) {
        case *ir.Assignment: {
            if ir.StorageKey(v.Dst.Storage) == self.reg && self.carries(v.Src) {
                return false
            }
        }
        case *ir.UseInstruction: {
            if self.carries(v.Expr) {
                return false
            }
        }
        case *ir.Store: {
            return self.leaks(v.Dst) || self.leaks(v.Src)
        }
        case *ir.PhiAssignment: {
            if ir.StorageKey(v.Dst.Storage) == self.reg {
                return false
            }
        }
        case *ir.CallInstruction: {
            if self.leaks(v.Callee) {
                return true
            }
            for _, u := range v.Uses {
                if !(ir.StorageKey(u.Storage) == self.reg && self.carries(u.Expr)) && self.leaks(u.Expr) {
                    return true
                }
            }
            return false
        }
    }

    /* check every operand */
    if use, ok := s.Instr.(ir.Usages); ok {
        for _, u := range use.Usages() {
            if self.leaks(*u) {
                return true
            }
        }
    }

    /* does not escape */
    return false
}

func (self *_FrameRewriter) collect() {
    self.st.Proc.Statements(func(s *ir.Statement) {
        if use, ok := s.Instr.(ir.Usages); ok {
            for _, u := range use.Usages() {
                ir.WalkSlots(u, func(p *ir.Expression) {
                    if m, ok := (*p).(*ir.MemoryAccess); ok {
                        self.access(m)
                    }
                })
            }
        }
        if st, ok := s.Instr.(*ir.Store); ok {
            self.access(st.Dst)
        }
    })

    /* sort the slots by offset */
    slots := make([]_FrameSlot, 0, len(self.slots))
    for k := range self.slots {
        slots = append(slots, k)
    }

    /* sort by offset, then by width */
    sort.Slice(slots, func(i int, j int) bool {
        if slots[i].off != slots[j].off {
            return slots[i].off < slots[j].off
        } else {
            return slots[i].bits < slots[j].bits
        }
    })

    /* slots must not overlap */
    bad := make(map[_FrameSlot]bool)
    for i := 1; i < len(slots); i++ {
        for j := i - 1; j >= 0; j-- {
            if slots[j].off + slots[j].bits / 8 > slots[i].off {
                bad[slots[i]] = true
                bad[slots[j]] = true
            }
        }
    }

    /* create the variables */
    for _, k := range slots {
        if !bad[k] {
            self.vars[k] = self.st.Proc.Frame.EnsureStackVariable(k.off, k.bits)
        }
    }
}

func (self *_FrameRewriter) access(m *ir.MemoryAccess) {
    if off, ok := self.offset(m.Ea); ok && m.Bits >= 8 && m.Bits % 8 == 0 {
        self.slots[_FrameSlot { off: off, bits: m.Bits }] = true
    }
}

func (self *_FrameRewriter) variable(m *ir.MemoryAccess) *ir.Identifier {
    if off, ok := self.offset(m.Ea); !ok {
        return nil
    } else {
        return self.vars[_FrameSlot { off: off, bits: m.Bits }]
    }
}

func (self *_FrameRewriter) rewrite() {
    self.st.Proc.Statements(func(s *ir.Statement) {
        if use, ok := s.Instr.(ir.Usages); ok {
            for _, u := range use.Usages() {
                ir.WalkSlots(u, func(p *ir.Expression) {
                    if m, ok := (*p).(*ir.MemoryAccess); ok {
                        if v := self.variable(m); v != nil {
                            *p = v
                        }
                    }
                })
            }
        }

        /* stores become assignments */
        if st, ok := s.Instr.(*ir.Store); ok {
            if v := self.variable(st.Dst); v != nil {
                s.Instr = &ir.Assignment { Dst: v, Src: st.Src }
            }
        }

        /* calls may read the slots above their stack pointer */
        if call, ok := s.Instr.(*ir.CallInstruction); ok {
            self.bindSlots(call)
        }
    })
}

func (self *_FrameRewriter) bindSlots(call *ir.CallInstruction) {
    off, known := 0, false
    if u := call.UseOf(self.reg); u != nil {
        off, known = self.offset(u.Expr)
    }

    /* sort the slots for stable bindings */
    slots := make([]_FrameSlot, 0, len(self.vars))
    for k := range self.vars {
        if !known || k.off >= off {
            slots = append(slots, k)
        }
    }

    /* sort by offset */
    sort.Slice(slots, func(i int, j int) bool {
        return slots[i].off < slots[j].off
    })

    /* bind the slots */
    for _, k := range slots {
        v := self.vars[k]
        call.Uses = append(call.Uses, &ir.UseBinding { Storage: v.Storage, Expr: v })
    }
}
