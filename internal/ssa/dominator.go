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

/** This is an implementation of the Lengauer-Tarjan algorithm described in
 *  https://doi.org/10.1145%2F357062.357071
 */

package ssa

import (
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/ir`
)

type _LtNode struct {
    semi     int
    node     *ir.Block
    dom      *_LtNode
    label    *_LtNode
    parent   *_LtNode
    ancestor *_LtNode
    pred     []*_LtNode
    bucket   map[*_LtNode]struct{}
}

type _LengauerTarjan struct {
    nodes  []*_LtNode
    vertex map[int]int
}

func newLengauerTarjan() *_LengauerTarjan {
    return &_LengauerTarjan {
        vertex: make(map[int]int),
    }
}

func (self *_LengauerTarjan) dfs(bb *ir.Block) {
    i := len(self.nodes)
    self.vertex[bb.Id] = i

    /* create a new node */
    p := &_LtNode {
        semi   : i,
        node   : bb,
        bucket : make(map[*_LtNode]struct{}),
    }

    /* add to node list */
    p.label = p
    self.nodes = append(self.nodes, p)

    /* traverse the successors */
    for _, w := range bb.Succ {
        idx, ok := self.vertex[w.Id]

        /* not visited yet */
        if !ok {
            self.dfs(w)
            idx = self.vertex[w.Id]
            self.nodes[idx].parent = p
        }

        /* add predecessors */
        q := self.nodes[idx]
        q.pred = append(q.pred, p)
    }
}

func (self *_LengauerTarjan) eval(p *_LtNode) *_LtNode {
    if p.ancestor == nil {
        return p
    } else {
        self.compress(p)
        return p.label
    }
}

func (self *_LengauerTarjan) link(p *_LtNode, q *_LtNode) {
    q.ancestor = p
}

func (self *_LengauerTarjan) compress(p *_LtNode) {
    if p.ancestor.ancestor != nil {
        self.compress(p.ancestor)
        if p.label.semi > p.ancestor.label.semi { p.label = p.ancestor.label }
        p.ancestor = p.ancestor.ancestor
    }
}

// DominatorGraph holds the dominator tree and dominance frontiers of the
// blocks reachable from the entry of a procedure. It is read-only, and must
// be rebuilt whenever the shape of the control flow graph changes.
type DominatorGraph struct {
    Root              *ir.Block
    Proc              *ir.Procedure
    DominatedBy       map[int]*ir.Block
    DominatorOf       map[int][]*ir.Block
    DominanceFrontier map[int][]*ir.Block
    preorder          []*ir.Block
    index             map[int]int
}

func minInt(a int, b int) int {
    if a < b {
        return a
    } else {
        return b
    }
}

// BuildDominatorGraph computes the dominator graph of a procedure.
func BuildDominatorGraph(proc *ir.Procedure) *DominatorGraph {
    bb := proc.Entry
    domby := make(map[int]*ir.Block)
    domof := make(map[int][]*ir.Block)

    /* Step 1: Carry out a depth-first search of the problem graph. Number the vertices
     * from 1 to n as they are reached during the search. Initialize the variables used
     * in succeeding steps. */
    lt := newLengauerTarjan()
    lt.dfs(bb)

    /* perform Step 2 and Step 3 simultaneously */
    for i := len(lt.nodes) - 1; i > 0; i-- {
        p := lt.nodes[i]
        q := (*_LtNode)(nil)

        /* Step 2: Compute the semidominators of all vertices by applying Theorem 4.
         * Carry out the computation vertex by vertex in decreasing order by number. */
        for _, v := range p.pred {
            q = lt.eval(v)
            p.semi = minInt(p.semi, q.semi)
        }

        /* link the ancestor */
        lt.link(p.parent, p)
        lt.nodes[p.semi].bucket[p] = struct{}{}

        /* Step 3: Implicitly define the immediate dominator of each vertex by applying Corollary 1 */
        for v := range p.parent.bucket {
            if q = lt.eval(v); q.semi < v.semi {
                v.dom = q
            } else {
                v.dom = p.parent
            }
        }

        /* clear the bucket */
        for v := range p.parent.bucket {
            delete(p.parent.bucket, v)
        }
    }

    /* Step 4: Explicitly define the immediate dominator of each vertex, carrying out the
     * computation vertex by vertex in increasing order by number. */
    for _, p := range lt.nodes[1:] {
        if p.dom.node.Id != lt.nodes[p.semi].node.Id {
            p.dom = p.dom.dom
        }
    }

    /* map the dominator relations */
    for _, p := range lt.nodes[1:] {
        domby[p.node.Id] = p.dom.node
        domof[p.dom.node.Id] = append(domof[p.dom.node.Id], p.node)
    }

    /* construct the dominator graph */
    ret := &DominatorGraph {
        Root              : bb,
        Proc              : proc,
        DominatorOf       : domof,
        DominatedBy       : domby,
        DominanceFrontier : make(map[int][]*ir.Block),
        index             : make(map[int]int, len(lt.nodes)),
    }

    /* keep the DFS order */
    for i, p := range lt.nodes {
        ret.index[p.node.Id] = i
        ret.preorder = append(ret.preorder, p.node)
    }

    /* compute the dominance frontiers */
    ret.buildFrontiers()
    return ret
}

func (self *DominatorGraph) buildFrontiers() {
    for _, bb := range self.preorder {
        if len(bb.Pred) < 2 {
            continue
        }

        /* walk up from every reachable predecessor */
        idom := self.DominatedBy[bb.Id]
        for _, p := range bb.Pred {
            for r := p; r != idom && self.Contains(r); r = self.DominatedBy[r.Id] {
                if !containsBlock(self.DominanceFrontier[r.Id], bb) {
                    self.DominanceFrontier[r.Id] = append(self.DominanceFrontier[r.Id], bb)
                }
                if r == self.Root {
                    break
                }
            }
        }
    }
}

func containsBlock(bbs []*ir.Block, bb *ir.Block) bool {
    for _, v := range bbs {
        if v == bb {
            return true
        }
    }
    return false
}

// Contains tests whether a block is reachable from the entry.
func (self *DominatorGraph) Contains(bb *ir.Block) bool {
    _, ok := self.index[bb.Id]
    return ok && self.preorder[self.index[bb.Id]] == bb
}

func (self *DominatorGraph) check(bb *ir.Block) {
    if !self.Contains(bb) {
        panic(diag.EStructural(self.Proc, "block %s is not part of the dominator graph", bb.Name))
    }
}

// ImmediateDominator returns the immediate dominator of a block, which is nil
// for the root.
func (self *DominatorGraph) ImmediateDominator(bb *ir.Block) *ir.Block {
    self.check(bb)
    return self.DominatedBy[bb.Id]
}

// Dominates tests whether a dominates b.
func (self *DominatorGraph) Dominates(a *ir.Block, b *ir.Block) bool {
    self.check(a)
    self.check(b)

    /* walk up the dominator tree */
    for p := b; p != nil; p = self.DominatedBy[p.Id] {
        if p == a {
            return true
        }
    }

    /* not found */
    return false
}

// Blocks returns the reachable blocks in depth-first pre-order.
func (self *DominatorGraph) Blocks() []*ir.Block {
    return self.preorder
}

// ReversePostOrder returns the reachable blocks in reverse post-order.
func (self *DominatorGraph) ReversePostOrder() []*ir.Block {
    seen := make(map[*ir.Block]bool, len(self.preorder))
    post := make([]*ir.Block, 0, len(self.preorder))

    /* post-order walk */
    var walk func(*ir.Block)
    walk = func(bb *ir.Block) {
        seen[bb] = true
        for _, s := range bb.Succ {
            if !seen[s] {
                walk(s)
            }
        }
        post = append(post, bb)
    }

    /* reverse the post-order */
    walk(self.Root)
    for i, j := 0, len(post) - 1; i < j; i, j = i + 1, j - 1 {
        post[i], post[j] = post[j], post[i]
    }

    /* all done */
    return post
}
