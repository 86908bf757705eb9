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
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/oleiade/lane`
)

// Loop is a natural loop: the header dominates every block of the body, and
// every latch jumps back to the header.
type Loop struct {
    Header  *ir.Block
    Latches []*ir.Block
    Blocks  map[*ir.Block]bool
}

// Contains tests whether a block is part of the loop.
func (self *Loop) Contains(bb *ir.Block) bool {
    return self.Blocks[bb]
}

// Preheader returns the only predecessor of the header outside the loop, or
// nil when there is more than one.
func (self *Loop) Preheader() *ir.Block {
    var ret *ir.Block
    for _, p := range self.Header.Pred {
        if !self.Blocks[p] {
            if ret != nil && ret != p {
                return nil
            }
            ret = p
        }
    }
    return ret
}

// FindLoops finds the natural loops of a procedure, one per header, in
// dominator pre-order.
func FindLoops(st *State) []*Loop {
    var ret []*Loop
    dt := st.Doms

    /* find all the back edges */
    for _, h := range dt.Blocks() {
        var latches []*ir.Block
        for _, p := range h.Pred {
            if dt.Contains(p) && dt.Dominates(h, p) && !containsBlock(latches, p) {
                latches = append(latches, p)
            }
        }

        /* build the loop body */
        if len(latches) != 0 {
            ret = append(ret, naturalLoop(h, latches))
        }
    }

    /* all done */
    return ret
}

func naturalLoop(h *ir.Block, latches []*ir.Block) *Loop {
    s := lane.NewStack()
    body := map[*ir.Block]bool { h: true }

    /* walk backwards from every latch */
    for _, p := range latches {
        if !body[p] {
            body[p] = true
            s.Push(p)
        }
    }

    /* add every block reaching a latch without passing the header */
    for !s.Empty() {
        bb := s.Pop().(*ir.Block)
        for _, p := range bb.Pred {
            if !body[p] {
                body[p] = true
                s.Push(p)
            }
        }
    }

    /* construct the loop */
    return &Loop {
        Header  : h,
        Blocks  : body,
        Latches : latches,
    }
}

// Invariant tests whether an expression has the same value on every
// iteration of the loop.
func (self *Loop) Invariant(st *State, e ir.Expression) bool {
    switch v := e.(type) {
        case *ir.Constant          : return true
        case *ir.ProcedureConstant : return true
        case *ir.MemoryAccess      : return false
        case *ir.Identifier: {
            sid := st.Lookup(v)
            return sid != nil && sid.DefStatement != nil && !self.Blocks[sid.DefStatement.Block]
        }
    }

    /* all the operands must be invariant */
    for _, p := range ir.Operands(e) {
        if !self.Invariant(st, *p) {
            return false
        }
    }

    /* all done */
    return len(ir.Operands(e)) != 0
}
