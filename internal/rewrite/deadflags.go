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

// IntraBlockDeadFlags removes the flag definitions that are overwritten in
// the same block before any of their flags is read.
type IntraBlockDeadFlags struct {
    Arch arch.Architecture
}

func (self IntraBlockDeadFlags) Apply(proc *ir.Procedure) int {
    n := 0
    for _, bb := range proc.Blocks {
        n += self.block(bb)
    }
    return n
}

func (self IntraBlockDeadFlags) block(bb *ir.Block) int {
    n := 0
    dead := uint32(0)
    fr := self.Arch.FlagRegister()

    /* walk backwards, the flags are live at the end of the block */
    for i := len(bb.Statements) - 1; i >= 0; i-- {
        s := bb.Statements[i]

        /* calls may read any flag */
        if _, ok := s.Instr.(*ir.CallInstruction); ok {
            dead = 0
            continue
        }

        /* a flag definition that is completely overwritten */
        if as, ok := s.Instr.(*ir.Assignment); ok {
            if fg, ok := as.Dst.Storage.(*ir.FlagGroupStorage); ok && fg.FlagRegister == fr {
                if fg.Mask & ^dead == 0 {
                    bb.Remove(s)
                    n++
                    continue
                }
                dead |= fg.Mask
            }
        }

        /* the flags read by the statement are live */
        diag.Statement(s, func() {
            for _, id := range ir.UsedIdentifiers(s.Instr) {
                if fg, ok := id.Storage.(*ir.FlagGroupStorage); ok && fg.FlagRegister == fr {
                    dead &^= fg.Mask
                } else if id.Storage == ir.Storage(fr) {
                    dead = 0
                }
            }
        })
    }

    /* all done */
    return n
}
