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

// Coalescer folds single-use definitions into their only use, when both are
// in the same block and nothing in between can change the value.
type Coalescer struct {
    MaxIterations int
}

func (self Coalescer) Apply(st *State) {
    for i := 0; ; i++ {
        if i >= self.MaxIterations {
            diag.Fail(diag.ConvergenceError { Pass: "coalescing", Unit: st.Proc.Name, Iterations: i })
        }

        /* run until nothing changes */
        if !self.iterate(st) {
            break
        }
    }
}

func (self Coalescer) iterate(st *State) bool {
    changed := false
    for _, bb := range st.Proc.Blocks {
        for _, s := range append([]*ir.Statement(nil), bb.Statements...) {
            if s.Block == bb {
                diag.Statement(s, func() { changed = self.coalesce(st, s) || changed })
            }
        }
    }
    return changed
}

func (self Coalescer) coalesce(st *State, s *ir.Statement) bool {
    as, ok := s.Instr.(*ir.Assignment)
    if !ok {
        return false
    }

    /* must have exactly one use */
    sid := st.Lookup(as.Dst)
    if sid == nil || len(sid.Uses) != 1 {
        return false
    }

    /* the use must be a plain statement in the same block */
    u := sid.Uses[0]
    if u.Block != s.Block || u == s {
        return false
    }

    /* never into Phi nodes */
    if _, ok = u.Instr.(*ir.PhiAssignment); ok {
        return false
    }

    /* the use must follow the definition */
    i := s.Block.IndexOf(s)
    j := s.Block.IndexOf(u)
    if i < 0 || j <= i {
        return false
    }

    /* memory must not change between a load and its use */
    if ir.ReadsMemory(as.Src) {
        for _, v := range s.Block.Statements[i + 1:j] {
            if writesMemory(v.Instr) {
                return false
            }
        }
    }

    /* move the expression into its use */
    st.ReplaceUses(sid, as.Src)
    st.Delete(s)
    return true
}

func writesMemory(ins ir.Instruction) bool {
    switch ins.(type) {
        case *ir.Store           : return true
        case *ir.CallInstruction : return true
        case *ir.SideEffect      : return true
        default                  : return false
    }
}
