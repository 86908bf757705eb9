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
    `strings`

    `github.com/cloudwego/decompflow/internal/ir`
)

type _IdSet map[*ir.Identifier]struct{}

func (self _IdSet) add(id *ir.Identifier) {
    self[id] = struct{}{}
}

func (self _IdSet) has(id *ir.Identifier) bool {
    _, ok := self[id]
    return ok
}

func (self _IdSet) union(rs _IdSet) (changed bool) {
    for id := range rs {
        if !self.has(id) {
            self.add(id)
            changed = true
        }
    }
    return
}

func (self _IdSet) remove(id *ir.Identifier) {
    delete(self, id)
}

func (self _IdSet) clone() (rs _IdSet) {
    rs = make(_IdSet, len(self))
    for id := range self { rs.add(id) }
    return
}

func (self _IdSet) String() string {
    nb := make([]string, 0, len(self))
    for id := range self {
        nb = append(nb, id.Name)
    }
    sort.Strings(nb)
    return "{" + strings.Join(nb, ", ") + "}"
}

// _Liveness holds the SSA values live on entry and exit of every block.
// Phi arguments are live on exit of the matching predecessor only.
type _Liveness struct {
    in  map[*ir.Block]_IdSet
    out map[*ir.Block]_IdSet
}

func (self *State) ssaIds(ins ir.Instruction) []*ir.Identifier {
    var ret []*ir.Identifier
    for _, id := range ir.UsedIdentifiers(ins) {
        if self.index[id] != nil {
            ret = append(ret, id)
        }
    }
    return ret
}

func computeLiveness(st *State) *_Liveness {
    lv := &_Liveness {
        in  : make(map[*ir.Block]_IdSet),
        out : make(map[*ir.Block]_IdSet),
    }

    /* visit the blocks in post-order */
    order := st.Doms.ReversePostOrder()
    for _, bb := range order {
        lv.in[bb] = make(_IdSet)
        lv.out[bb] = make(_IdSet)
    }

    /* iterate until nothing changes */
    for changed := true; changed; {
        changed = false
        for i := len(order) - 1; i >= 0; i-- {
            bb := order[i]
            out := lv.liveOut(st, bb)
            in := transfer(st, bb, out)

            /* update the sets */
            if lv.out[bb].union(out) {
                changed = true
            }
            if lv.in[bb].union(in) {
                changed = true
            }
        }
    }

    /* all done */
    return lv
}

func (self *_Liveness) liveOut(st *State, bb *ir.Block) _IdSet {
    rs := make(_IdSet)
    for i, s := range bb.Succ {
        if containsBlock(bb.Succ[:i], s) {
            continue
        }

        /* values live into the successor */
        rs.union(self.in[s])

        /* and the Phi arguments coming from this block */
        for j, p := range s.Pred {
            if p == bb {
                for _, ps := range s.Phis() {
                    if id, ok := ps.Instr.(*ir.PhiAssignment).Args[j].Value.(*ir.Identifier); ok && st.index[id] != nil {
                        rs.add(id)
                    }
                }
            }
        }
    }
    return rs
}

// transfer computes the values live on entry of a block from the values live
// on exit.
func transfer(st *State, bb *ir.Block, out _IdSet) _IdSet {
    live := out.clone()
    for i := len(bb.Statements) - 1; i >= 0; i-- {
        ins := bb.Statements[i].Instr
        for _, id := range ir.DefinedIdentifiers(ins) {
            live.remove(id)
        }

        /* Phi arguments belong to the predecessors */
        if _, ok := ins.(*ir.PhiAssignment); !ok {
            for _, id := range st.ssaIds(ins) {
                live.add(id)
            }
        }
    }
    return live
}
