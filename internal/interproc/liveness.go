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


package interproc

import (
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
)

// Liveness computes the registers live at the end of every block of every
// procedure, and the registers callers read after each procedure returns.
// It runs on procedures that are no longer in SSA form. Procedures without
// known callers are assumed to return every register they trash.
type Liveness struct {
    Context       *Context
    Graph         *CallGraph
    Failed        map[*ir.Procedure]bool
    MaxIterations int
}

type _LiveSet struct {
    regs  flow.RegisterSet
    flags uint32
}

func newLiveSet() _LiveSet {
    return _LiveSet { regs: make(flow.RegisterSet) }
}

func (self _LiveSet) clone() _LiveSet {
    return _LiveSet { regs: self.regs.Clone(), flags: self.flags }
}

func (self *_LiveSet) union(v _LiveSet) bool {
    f := self.flags
    self.flags |= v.flags
    return self.regs.Union(v.regs) || f != self.flags
}

func (self Liveness) Apply(comps []*Component) {
    pdf := self.Context.Flows
    outs := make(map[*ir.Procedure]_LiveSet)

    /* seed the procedures nobody calls */
    for _, p := range self.Context.Program.Procedures {
        if pf := pdf.Procedure(p); pf == nil {
            continue
        } else if self.called(p) {
            outs[p] = newLiveSet()
        } else {
            outs[p] = _LiveSet { regs: pf.Trashed.Clone(), flags: pf.TrashedFlags }
        }
    }

    /* callers before callees, until nothing changes */
    for i := 0; ; i++ {
        if i >= self.MaxIterations {
            diag.Fail(diag.ConvergenceError { Pass: "register liveness", Unit: "program", Iterations: i })
        }

        /* propagate from every caller */
        changed := false
        for j := len(comps) - 1; j >= 0; j-- {
            for _, p := range comps[j].Procs {
                if _, ok := outs[p]; ok {
                    changed = self.propagate(p, outs) || changed
                }
            }
        }

        /* stop at the fixed point */
        if !changed {
            break
        }
    }

    /* publish the block flows and the live-out registers */
    for _, p := range self.Context.Program.Procedures {
        pf := pdf.Procedure(p)
        if pf == nil {
            continue
        }

        /* only the live registers the procedure trashes matter */
        lv := outs[p]
        pf.LiveOut = lv.regs.Intersect(pf.Trashed)
        pf.LiveOutFlags = lv.flags & pf.TrashedFlags

        /* failed procedures keep their signature */
        if !self.Failed[p] {
            PruneSignature(self.Context.Arch, pf.Signature, pf)
            pdf.SetBlocks(self.blockFlows(p, lv)...)
        }
    }
}

// called tells whether p has callers other than itself.
func (self Liveness) called(p *ir.Procedure) bool {
    for _, q := range self.Graph.Callers(p) {
        if q != p {
            return true
        }
    }
    return false
}

// propagate adds the registers live after every call of p to the live-out
// set of the callee, and tells whether any set grew.
func (self Liveness) propagate(p *ir.Procedure, outs map[*ir.Procedure]_LiveSet) bool {
    changed := false
    sites := self.callSites(p, outs[p])

    /* the registers live after the call are read by the caller */
    for _, cs := range sites {
        q, ok := self.Context.Callee(cs.call).(*ir.Procedure)
        if !ok {
            continue
        }

        /* only procedures with flows */
        out, ok := outs[q]
        if !ok {
            continue
        }

        /* definitions of the call that are live, calls of failed procedures bind nothing */
        add := newLiveSet()
        if self.Failed[p] {
            add = cs.live.clone()
        } else {
            for _, d := range cs.call.Defs {
                add.gen(self.Context.Arch, d.Storage, cs.live)
            }
        }

        /* merge into the callee */
        if out.union(add) {
            outs[q] = out
            changed = true
        }
    }

    /* all done */
    return changed
}

type _CallSite struct {
    call *ir.CallInstruction
    live _LiveSet
}

// gen adds storage s to the set when it is live in the other set.
func (self *_LiveSet) gen(a arch.Architecture, s ir.Storage, live _LiveSet) {
    if mask := flagMask(a, s); mask != 0 {
        self.flags |= mask & live.flags
    } else if r, ok := s.(*ir.RegisterStorage); ok && live.regs.Has(a.WholeRegister(r)) {
        self.regs.Add(a.WholeRegister(r))
    }
}

// callSites runs the block liveness of p and collects the registers live
// after each call. Failed procedures read everything after every call.
func (self Liveness) callSites(p *ir.Procedure, out _LiveSet) []_CallSite {
    var ret []_CallSite
    a := self.Context.Arch

    /* the analysis of this procedure failed */
    if self.Failed[p] {
        hell := _LiveSet { regs: flow.NewRegisterSet(a.Registers()...), flags: a.AllFlags() }
        p.Statements(func(s *ir.Statement) {
            if call, ok := s.Instr.(*ir.CallInstruction); ok {
                ret = append(ret, _CallSite { call: call, live: hell })
            }
        })
        return ret
    }

    /* walk the blocks backwards, recording the live sets at the calls */
    ins := self.blockLiveness(p, out)
    for _, bb := range p.Blocks {
        self.transfer(bb, self.liveOut(p, bb, ins, out), func(call *ir.CallInstruction, live _LiveSet) {
            ret = append(ret, _CallSite { call: call, live: live.clone() })
        })
    }

    /* all done */
    return ret
}

func (self Liveness) liveOut(p *ir.Procedure, bb *ir.Block, ins map[*ir.Block]_LiveSet, out _LiveSet) _LiveSet {
    ret := newLiveSet()
    for _, s := range bb.Succ {
        if s == p.Exit {
            ret.union(out)
        } else {
            ret.union(ins[s])
        }
    }
    return ret
}

// blockLiveness computes the live-in set of every block.
func (self Liveness) blockLiveness(p *ir.Procedure, out _LiveSet) map[*ir.Block]_LiveSet {
    ins := make(map[*ir.Block]_LiveSet, len(p.Blocks))
    for _, bb := range p.Blocks {
        ins[bb] = newLiveSet()
    }

    /* iterate until stable */
    for i := 0; ; i++ {
        if i >= self.MaxIterations {
            diag.Fail(diag.ConvergenceError { Pass: "block liveness", Unit: p.Name, Iterations: i })
        }

        /* blocks in reverse order converge faster */
        changed := false
        for j := len(p.Blocks) - 1; j >= 0; j-- {
            bb := p.Blocks[j]
            if bb == p.Exit {
                continue
            }

            /* live-in from live-out */
            lv := self.transfer(bb, self.liveOut(p, bb, ins, out), nil)
            if in := ins[bb]; in.union(lv) {
                ins[bb] = in
                changed = true
            }
        }

        /* stop at the fixed point */
        if !changed {
            break
        }
    }

    /* all done */
    return ins
}

// transfer computes the live-in set of a block from its live-out set.
func (self Liveness) transfer(bb *ir.Block, live _LiveSet, fn func(*ir.CallInstruction, _LiveSet)) _LiveSet {
    a := self.Context.Arch
    live = live.clone()

    /* walk the statements backwards */
    for i := len(bb.Statements) - 1; i >= 0; i-- {
        ins := bb.Statements[i].Instr
        if _, ok := ins.(*ir.UseInstruction); ok {
            continue
        }

        /* registers live after a call */
        if call, ok := ins.(*ir.CallInstruction); ok && fn != nil {
            fn(call, live)
        }

        /* definitions kill whole registers and flag groups */
        for _, id := range ir.DefinedIdentifiers(ins) {
            if mask := flagMask(a, id.Storage); mask != 0 {
                live.flags &^= mask
            } else if r, ok := id.Storage.(*ir.RegisterStorage); ok && a.WholeRegister(r) == r {
                live.regs.Remove(r)
            }
        }

        /* uses make registers live */
        for _, id := range ir.UsedIdentifiers(ins) {
            if mask := flagMask(a, id.Storage); mask != 0 {
                live.flags |= mask
            } else if r, ok := id.Storage.(*ir.RegisterStorage); ok {
                live.regs.Add(a.WholeRegister(r))
            }
        }
    }

    /* all done */
    return live
}

func (self Liveness) blockFlows(p *ir.Procedure, out _LiveSet) []*flow.BlockFlow {
    ins := self.blockLiveness(p, out)
    _, ends := FindTermination(self.Context, p)
    ret := make([]*flow.BlockFlow, 0, len(p.Blocks))

    /* one flow per block */
    for _, bb := range p.Blocks {
        lv := self.liveOut(p, bb, ins, out)
        bf := flow.NewBlockFlow(bb)
        bf.LiveOut = lv.regs
        bf.LiveOutFlags = lv.flags
        bf.TerminatesProcess = ends[bb]
        ret = append(ret, bf)
    }

    /* all done */
    return ret
}
