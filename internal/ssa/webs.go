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
)

// Web is a set of SSA values of the same storage that become a single
// variable when the procedure leaves SSA form.
type Web struct {
    Var     *ir.Identifier
    Members []*SsaIdentifier
}

type _Interference map[*ir.Identifier]_IdSet

func (self _Interference) add(a *ir.Identifier, b *ir.Identifier) {
    if a != b {
        self.edge(a).add(b)
        self.edge(b).add(a)
    }
}

func (self _Interference) edge(a *ir.Identifier) _IdSet {
    if rs, ok := self[a]; ok {
        return rs
    } else {
        rs = make(_IdSet)
        self[a] = rs
        return rs
    }
}

// WebBuilder groups the values connected by Phi nodes into webs, keeping
// values whose live ranges intersect apart.
type WebBuilder struct{}

func (WebBuilder) Apply(st *State) map[*ir.Identifier]*Web {
    lv := computeLiveness(st)
    ig := buildInterference(st, lv)

    /* every value starts in its own web */
    uf := newUnionFind()
    for _, sid := range st.Live() {
        uf.find(sid.Id)
    }

    /* merge along the Phi nodes */
    for _, bb := range st.Doms.Blocks() {
        for _, s := range bb.Phis() {
            phi := s.Instr.(*ir.PhiAssignment)
            for _, a := range phi.Args {
                if id, ok := a.Value.(*ir.Identifier); ok && st.index[id] != nil && sameStorage(phi.Dst, id) {
                    uf.unionIfDisjoint(phi.Dst, id, ig)
                }
            }
        }
    }

    /* build the webs */
    ret := make(map[*ir.Identifier]*Web)
    for _, sid := range st.Live() {
        r := uf.find(sid.Id)
        w, ok := ret[r]

        /* the first member names the web */
        if !ok {
            w = &Web { Var: sid.Id }
            ret[r] = w
        }

        /* add to the web */
        w.Members = append(w.Members, sid)
        ret[sid.Id] = w
    }

    /* all done */
    return ret
}

func sameStorage(a *ir.Identifier, b *ir.Identifier) bool {
    return ir.StorageKey(a.Storage) == ir.StorageKey(b.Storage)
}

func buildInterference(st *State, lv *_Liveness) _Interference {
    ig := make(_Interference)
    for _, bb := range st.Doms.Blocks() {
        live := lv.out[bb].clone()

        /* walk backwards */
        for i := len(bb.Statements) - 1; i >= 0; i-- {
            ins := bb.Statements[i].Instr
            defs := ir.DefinedIdentifiers(ins)

            /* a definition interferes with everything live after it */
            for _, d := range defs {
                for v := range live {
                    ig.add(d, v)
                }
            }

            /* so do the values defined together */
            for _, d := range defs {
                for _, e := range defs {
                    ig.add(d, e)
                }
            }

            /* update the live set */
            for _, d := range defs {
                live.remove(d)
            }

            /* Phi nodes are defined in parallel on block entry */
            if phi, ok := ins.(*ir.PhiAssignment); ok {
                live.add(phi.Dst)
            } else {
                for _, id := range st.ssaIds(ins) {
                    live.add(id)
                }
            }
        }
    }
    return ig
}

type _UnionFind struct {
    parent  map[*ir.Identifier]*ir.Identifier
    members map[*ir.Identifier][]*ir.Identifier
}

func newUnionFind() *_UnionFind {
    return &_UnionFind {
        parent  : make(map[*ir.Identifier]*ir.Identifier),
        members : make(map[*ir.Identifier][]*ir.Identifier),
    }
}

func (self *_UnionFind) find(id *ir.Identifier) *ir.Identifier {
    p, ok := self.parent[id]
    if !ok {
        self.parent[id] = id
        self.members[id] = []*ir.Identifier { id }
        return id
    }

    /* path compression */
    if p != id {
        p = self.find(p)
        self.parent[id] = p
    }

    /* all done */
    return p
}

func (self *_UnionFind) unionIfDisjoint(a *ir.Identifier, b *ir.Identifier, ig _Interference) bool {
    ra := self.find(a)
    rb := self.find(b)

    /* already in the same web */
    if ra == rb {
        return true
    }

    /* no two members may interfere */
    for _, x := range self.members[ra] {
        for _, y := range self.members[rb] {
            if ig[x].has(y) {
                return false
            }
        }
    }

    /* merge the smaller web into the larger one */
    if len(self.members[ra]) < len(self.members[rb]) {
        ra, rb = rb, ra
    }

    /* update the members */
    self.parent[rb] = ra
    self.members[ra] = append(self.members[ra], self.members[rb]...)
    delete(self.members, rb)
    return true
}
