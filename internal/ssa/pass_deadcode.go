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
    `github.com/oleiade/lane`
)

// DeadCodeElimination removes definitions whose values never reach an
// impure instruction. Stores, calls, branches and returns are always kept,
// but the unused definitions of calls are dropped.
type DeadCodeElimination struct {
    MaxIterations int
}

func (self DeadCodeElimination) Apply(st *State) {
    for i := 0; ; i++ {
        if i >= self.MaxIterations {
            diag.Fail(diag.ConvergenceError { Pass: "dead code elimination", Unit: st.Proc.Name, Iterations: i })
        }

        /* run until nothing changes */
        if !self.sweep(st, self.mark(st)) {
            break
        }
    }
}

func (self DeadCodeElimination) mark(st *State) map[*ir.Identifier]bool {
    q := lane.NewQueue()
    live := make(map[*ir.Identifier]bool)

    /* all impure instructions are critical */
    for _, bb := range st.Proc.Blocks {
        for _, s := range bb.Statements {
            if _, ok := s.Instr.(ir.Impure); ok {
                q.Enqueue(s)
            }
        }
    }

    /* mark all the definitions reachable from the critical instructions */
    for !q.Empty() {
        s := q.Dequeue().(*ir.Statement)
        for _, id := range ir.UsedIdentifiers(s.Instr) {
            if !live[id] {
                live[id] = true
                if sid := st.Lookup(id); sid != nil && sid.DefStatement != nil {
                    q.Enqueue(sid.DefStatement)
                }
            }
        }
    }

    /* all done */
    return live
}

func (self DeadCodeElimination) sweep(st *State, live map[*ir.Identifier]bool) bool {
    changed := false
    for _, bb := range st.Proc.Blocks {
        for _, s := range append([]*ir.Statement(nil), bb.Statements...) {
            switch v := s.Instr.(type) {
                case *ir.CallInstruction: {
                    changed = pruneCallDefs(st, v, live) || changed
                }
                case ir.Impure: {
                    /* never removed */
                }
                case ir.Definitions: {
                    if !anyLive(v, live) {
                        st.Delete(s)
                        changed = true
                    }
                }
            }
        }
    }
    return changed
}

func anyLive(ins ir.Definitions, live map[*ir.Identifier]bool) bool {
    for _, p := range ins.Definitions() {
        if live[*p] {
            return true
        }
    }
    return false
}

func pruneCallDefs(st *State, call *ir.CallInstruction, live map[*ir.Identifier]bool) bool {
    n := len(call.Defs)
    defs := call.Defs[:0]

    /* keep the definitions that are used */
    for _, d := range call.Defs {
        if live[d.Id] {
            defs = append(defs, d)
        } else if sid := st.Lookup(d.Id); sid != nil {
            sid.DefStatement = nil
        }
    }

    /* update the definitions */
    call.Defs = defs
    return len(defs) != n
}
