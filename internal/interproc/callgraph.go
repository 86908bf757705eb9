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


// Package interproc holds the analyses that look across procedure
// boundaries: the call graph, the termination, trashed register, used
// register and liveness analyses, and the rewriting of calls once their
// callees are summarized.
package interproc

import (
    `sort`

    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/ir`
    `gonum.org/v1/gonum/graph/simple`
    `gonum.org/v1/gonum/graph/topo`
)

// CallGraph is the directed graph of the calls between the procedures of a
// program. Calls whose target is unknown go to the hell node, which is kept
// as a per-procedure flag rather than as a vertex.
type CallGraph struct {
    prog  *ir.Program
    graph *simple.DirectedGraph
    ids   map[*ir.Procedure]int64
    procs []*ir.Procedure
    hell  map[*ir.Procedure]bool
    self  map[*ir.Procedure]bool
}

// Component is a strongly connected component of the call graph, together
// with the components it calls into.
type Component struct {
    Procs     []*ir.Procedure
    Deps      []*Component
    Recursive bool
}

// ResolveAddress finds the procedure at a constant call target, either in
// the program or through the trampolines of the platform.
func ResolveAddress(prog *ir.Program, plat arch.Platform, addr uint64) ir.ProcedureBase {
    if p := prog.ByAddr[addr]; p != nil {
        return p
    } else if plat == nil {
        return nil
    } else if ext := plat.ResolveTrampoline(addr); ext != nil {
        return ext
    } else {
        return nil
    }
}

// Callee resolves the target of a call, or returns nil for indirect calls.
func Callee(prog *ir.Program, plat arch.Platform, call *ir.CallInstruction) ir.ProcedureBase {
    switch v := call.Callee.(type) {
        case *ir.ProcedureConstant : return v.Proc
        case *ir.Constant          : return ResolveAddress(prog, plat, v.Value)
        default                    : return nil
    }
}

// BuildCallGraph scans every call of the program.
func BuildCallGraph(prog *ir.Program, plat arch.Platform) *CallGraph {
    cg := &CallGraph {
        prog  : prog,
        graph : simple.NewDirectedGraph(),
        ids   : make(map[*ir.Procedure]int64, len(prog.Procedures)),
        procs : make([]*ir.Procedure, 0, len(prog.Procedures)),
        hell  : make(map[*ir.Procedure]bool),
        self  : make(map[*ir.Procedure]bool),
    }

    /* one vertex per procedure */
    for _, p := range prog.Procedures {
        cg.ids[p] = int64(len(cg.procs))
        cg.procs = append(cg.procs, p)
        cg.graph.AddNode(simple.Node(cg.ids[p]))
    }

    /* one edge per distinct callee */
    for _, p := range prog.Procedures {
        p.Statements(func(st *ir.Statement) {
            if call, ok := st.Instr.(*ir.CallInstruction); ok {
                cg.addCall(p, Callee(prog, plat, call))
            }
        })
    }

    /* all done */
    return cg
}

func (self *CallGraph) addCall(caller *ir.Procedure, callee ir.ProcedureBase) {
    switch v := callee.(type) {
        case nil: {
            self.hell[caller] = true
        }
        case *ir.ExternalProcedure: {
            /* imports are summarized from their signatures */
        }
        case *ir.Procedure: {
            if id, ok := self.ids[v]; !ok {
                self.hell[caller] = true
            } else if v == caller {
                self.self[caller] = true
            } else if from := self.ids[caller]; !self.graph.HasEdgeFromTo(from, id) {
                self.graph.SetEdge(self.graph.NewEdge(simple.Node(from), simple.Node(id)))
            }
        }
    }
}

// CallsHell tells whether a procedure contains a call to an unknown target.
func (self *CallGraph) CallsHell(p *ir.Procedure) bool {
    return self.hell[p]
}

// IsSelfRecursive tells whether a procedure calls itself directly.
func (self *CallGraph) IsSelfRecursive(p *ir.Procedure) bool {
    return self.self[p]
}

// Callees lists the procedures of the program called by p, by address. A
// self-recursive procedure is its own callee.
func (self *CallGraph) Callees(p *ir.Procedure) []*ir.Procedure {
    var ret []*ir.Procedure
    for it := self.graph.From(self.ids[p]); it.Next(); {
        ret = append(ret, self.procs[it.Node().ID()])
    }
    if self.self[p] {
        ret = append(ret, p)
    }
    sortProcedures(ret)
    return ret
}

// Callers lists the procedures of the program that call p, by address.
func (self *CallGraph) Callers(p *ir.Procedure) []*ir.Procedure {
    var ret []*ir.Procedure
    for it := self.graph.To(self.ids[p]); it.Next(); {
        ret = append(ret, self.procs[it.Node().ID()])
    }
    if self.self[p] {
        ret = append(ret, p)
    }
    sortProcedures(ret)
    return ret
}

// Components returns the strongly connected components of the call graph,
// callees before callers. Among the components that are ready at the same
// time, the one with the lowest address comes first.
func (self *CallGraph) Components() []*Component {
    sccs := topo.TarjanSCC(self.graph)
    comp := make(map[*ir.Procedure]*Component, len(self.procs))
    ret := make([]*Component, 0, len(sccs))

    /* build the components */
    for _, scc := range sccs {
        c := new(Component)
        for _, n := range scc {
            c.Procs = append(c.Procs, self.procs[n.ID()])
            comp[self.procs[n.ID()]] = c
        }
        sortProcedures(c.Procs)
        ret = append(ret, c)
    }

    /* link the components to their callees */
    for _, c := range ret {
        seen := make(map[*Component]bool)
        c.Recursive = len(c.Procs) > 1 || self.self[c.Procs[0]]

        /* every callee outside the component is a dependency */
        for _, p := range c.Procs {
            for _, q := range self.Callees(p) {
                if d := comp[q]; d != c && !seen[d] {
                    seen[d] = true
                    c.Deps = append(c.Deps, d)
                }
            }
        }
    }

    /* stable topological order */
    return orderComponents(ret)
}

func orderComponents(cc []*Component) []*Component {
    ret := make([]*Component, 0, len(cc))
    done := make(map[*Component]bool, len(cc))

    /* pick the lowest ready component every round */
    for len(ret) < len(cc) {
        var next *Component
        for _, c := range cc {
            if !done[c] && ready(c, done) && (next == nil || lessProcedure(c.Procs[0], next.Procs[0])) {
                next = c
            }
        }

        /* the condensation is acyclic, so there is always one */
        if next == nil {
            panic("interproc: cyclic component graph")
        }

        /* mark as done */
        done[next] = true
        ret = append(ret, next)
    }

    /* all done */
    return ret
}

func ready(c *Component, done map[*Component]bool) bool {
    for _, d := range c.Deps {
        if !done[d] {
            return false
        }
    }
    return true
}

func lessProcedure(a *ir.Procedure, b *ir.Procedure) bool {
    if a.Addr != b.Addr {
        return a.Addr < b.Addr
    } else {
        return a.Name < b.Name
    }
}

func sortProcedures(pp []*ir.Procedure) {
    sort.Slice(pp, func(i int, j int) bool {
        return lessProcedure(pp[i], pp[j])
    })
}
