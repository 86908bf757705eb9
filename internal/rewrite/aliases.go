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


package rewrite

import (
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/ir`
)

// Aliases rewrites every access to a sub-register into an access to the
// whole register, so that the SSA builder sees a single storage per
// register. Reads become slices, and writes either deposit the bits into
// the whole register or zero-extend the value, depending on the
// architecture.
type Aliases struct {
    Arch arch.Architecture
}

func (self Aliases) Apply(proc *ir.Procedure) bool {
    ret := false
    for _, bb := range proc.Blocks {
        for _, s := range bb.Statements {
            diag.Statement(s, func() {
                ret = self.uses(proc, s) || ret
                ret = self.defs(proc, s) || ret
            })
        }
    }
    return ret
}

func (self Aliases) whole(s ir.Storage) (*ir.RegisterStorage, *ir.RegisterStorage, bool) {
    if r, ok := s.(*ir.RegisterStorage); !ok {
        return nil, nil, false
    } else if w := self.Arch.WholeRegister(r); w == r {
        return nil, nil, false
    } else {
        return r, w, true
    }
}

func (self Aliases) uses(proc *ir.Procedure, s *ir.Statement) bool {
    ret := false
    for _, p := range ir.IdentifierSlots(s.Instr) {
        if r, w, ok := self.whole((*p).(*ir.Identifier).Storage); ok {
            ret = true
            *p = &ir.Slice {
                Expr   : proc.Frame.EnsureRegister(w),
                Bits   : r.Bits,
                Offset : r.BitOffset - w.BitOffset,
            }
        }
    }
    return ret
}

func (self Aliases) defs(proc *ir.Procedure, s *ir.Statement) bool {
    as, ok := s.Instr.(*ir.Assignment)
    if !ok {
        return false
    }

    /* only the sub-registers */
    r, w, ok := self.whole(as.Dst.Storage)
    if !ok {
        return false
    }

    /* zero-extending writes replace the whole register */
    id := proc.Frame.EnsureRegister(w)
    if self.Arch.ZeroExtendsOnWrite(r) {
        as.Src = &ir.Cast { Expr: as.Src, Bits: w.Bits }
    } else {
        as.Src = &ir.DepositBits { Source: id, Insert: as.Src, Offset: r.BitOffset - w.BitOffset }
    }

    /* write the whole register */
    as.Dst = id
    return true
}
