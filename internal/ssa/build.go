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

    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/oleiade/lane`
)

// CallEffects is what the SSA builder assumes about a call: the storages it
// reads, the storages it writes, and how far the callee moves the stack
// pointer between its entry and its return.
type CallEffects struct {
    Uses       []ir.Storage
    Defs       []ir.Storage
    StackDelta int
}

// CallResolver supplies the effects of the calls of a procedure.
type CallResolver interface {
    ResolveCall(call *ir.CallInstruction) CallEffects
}

// HellResolver assumes that every call reads and writes every register,
// except the stack pointer which is preserved.
type HellResolver struct {
    Arch arch.Architecture
}

func (self HellResolver) ResolveCall(call *ir.CallInstruction) CallEffects {
    return HellEffects(self.Arch, call)
}

// HellEffects returns the effects of a call to an unknown callee.
func HellEffects(a arch.Architecture, call *ir.CallInstruction) CallEffects {
    sp := a.StackPointer()
    ret := CallEffects { StackDelta: call.Site.ReturnAddressBytes }

    /* every register is used, and every register but the stack pointer is trashed */
    for _, r := range a.Registers() {
        ret.Uses = append(ret.Uses, r)
        if r != sp {
            ret.Defs = append(ret.Defs, r)
        }
    }

    /* so are the flags */
    ret.Uses = append(ret.Uses, a.FlagRegister())
    ret.Defs = append(ret.Defs, a.FlagRegister())
    return ret
}

type BuildConfig struct {
    Arch               arch.Architecture
    Calls              CallResolver
    AddUseInstructions bool
}

// Build converts a procedure into SSA form. Blocks unreachable from the
// entry are removed.
func Build(proc *ir.Procedure, cfg BuildConfig) *State {
    doms := BuildDominatorGraph(proc)
    blocks := append([]*ir.Block(nil), proc.Blocks...)

    /* drop the unreachable blocks */
    for _, bb := range blocks {
        if bb != proc.Exit && !doms.Contains(bb) {
            proc.RemoveBlock(bb)
        }
    }

    /* use the hell resolver by default */
    if cfg.Calls == nil {
        cfg.Calls = HellResolver { Arch: cfg.Arch }
    }

    /* bind the calls, the exit uses need their definitions */
    bindCalls(proc, doms, cfg)
    st := newState(proc, cfg.Arch)
    st.Doms = doms

    /* add the exit uses */
    if cfg.AddUseInstructions && doms.Contains(proc.Exit) {
        addExitUses(proc, doms)
    }

    /* place the Phi nodes and rename everything */
    newRenamer(st).run()
    return st
}

// Extend renames the identifiers that were introduced into an SSA procedure
// without being versioned, such as promoted stack slots.
func (self *State) Extend() {
    newRenamer(self).run()
}

func bindCalls(proc *ir.Procedure, doms *DominatorGraph, cfg BuildConfig) {
    sp := proc.Frame.EnsureRegister(cfg.Arch.StackPointer())

    /* scan every reachable block */
    for _, bb := range doms.Blocks() {
        for i := 0; i < len(bb.Statements); i++ {
            st := bb.Statements[i]
            call, ok := st.Instr.(*ir.CallInstruction)

            /* only the calls that have not been bound */
            if !ok || len(call.Uses) != 0 || len(call.Defs) != 0 {
                continue
            }

            /* bind all the storages */
            eff := cfg.Calls.ResolveCall(call)
            bindCall(proc, call, eff)

            /* the callee may leave the stack unbalanced */
            if adj := eff.StackDelta - call.Site.ReturnAddressBytes; adj != 0 {
                i++
                bb.Insert(i, st.Addr, &ir.Assignment { Dst: sp, Src: ir.AddConst(sp, int64(adj)) })
            }
        }
    }
}

func bindCall(proc *ir.Procedure, call *ir.CallInstruction, eff CallEffects) {
    for _, s := range eff.Uses {
        call.Uses = append(call.Uses, &ir.UseBinding {
            Storage : s,
            Expr    : proc.Frame.EnsureRegister(s),
        })
    }

    /* definitions */
    for _, s := range eff.Defs {
        call.Defs = append(call.Defs, &ir.DefBinding {
            Storage : s,
            Id      : proc.Frame.EnsureRegister(s),
        })
    }
}

func addExitUses(proc *ir.Procedure, doms *DominatorGraph) {
    var keys []*ir.RegisterStorage
    seen := make(map[ir.Storage]bool)

    /* find all the defined registers */
    for _, bb := range doms.Blocks() {
        for _, st := range bb.Statements {
            for _, id := range ir.DefinedIdentifiers(st.Instr) {
                if r, ok := ir.StorageKey(id.Storage).(*ir.RegisterStorage); ok && !seen[r] {
                    seen[r] = true
                    keys = append(keys, r)
                }
            }
        }
    }

    /* registers in numerical order */
    sort.Slice(keys, func(i int, j int) bool {
        if keys[i].Number != keys[j].Number {
            return keys[i].Number < keys[j].Number
        } else {
            return keys[i].BitOffset < keys[j].BitOffset
        }
    })

    /* add the pseudo-uses */
    for _, r := range keys {
        proc.Exit.Append(proc.Addr, &ir.UseInstruction {
            Storage : r,
            Expr    : proc.Frame.EnsureRegister(r),
        })
    }
}

type _PhiDesc struct {
    k ir.Storage
    b []*ir.Block
}

type _Renamer struct {
    st    *State
    keys  []ir.Storage
    reps  map[ir.Storage]*ir.Identifier
    stack map[ir.Storage][]*ir.Identifier
}

func newRenamer(st *State) *_Renamer {
    return &_Renamer {
        st    : st,
        reps  : make(map[ir.Storage]*ir.Identifier),
        stack : make(map[ir.Storage][]*ir.Identifier),
    }
}

func (self *_Renamer) run() {
    self.insertPhiNodes()
    self.renameBlock(self.st.Doms.Root)
    self.st.RebuildUses()
}

func (self *_Renamer) flat(e ir.Expression) (*ir.Identifier, bool) {
    if id, ok := e.(*ir.Identifier); !ok || self.st.index[id] != nil {
        return nil, false
    } else {
        return id, true
    }
}

func (self *_Renamer) rep(k ir.Storage, id *ir.Identifier) *ir.Identifier {
    if v, ok := self.reps[k]; ok {
        return v
    }

    /* registers are represented by the whole register, flags by the flag register */
    if _, ok := k.(*ir.RegisterStorage); ok {
        id = self.st.Proc.Frame.EnsureRegister(k)
    }

    /* remember the representative */
    self.keys = append(self.keys, k)
    self.reps[k] = id
    return id
}

func (self *_Renamer) insertPhiNodes() {
    q := lane.NewQueue()
    dt := self.st.Doms
    phi := make(map[ir.Storage]map[int]bool)
    orig := make(map[int]map[ir.Storage]bool)
    defs := make(map[ir.Storage][]*ir.Block)

    /* find out all the variable origins */
    for q.Enqueue(dt.Root); !q.Empty(); {
        p := q.Dequeue().(*ir.Block)
        addDominated(dt, p, q)

        /* mark all the definition sites */
        for _, st := range p.Statements {
            for _, id := range ir.DefinedIdentifiers(st.Instr) {
                if self.st.index[id] != nil {
                    continue
                }

                /* first definition in this block */
                k := ir.StorageKey(id.Storage)
                self.rep(k, id)

                /* add to the definition sites */
                if !orig[p.Id][k] {
                    if orig[p.Id] == nil {
                        orig[p.Id] = make(map[ir.Storage]bool)
                    }
                    orig[p.Id][k] = true
                    defs[k] = append(defs[k], p)
                }
            }
        }
    }

    /* build the descriptors in discovery order */
    pd := make([]_PhiDesc, 0, len(defs))
    for _, k := range self.keys {
        if b := defs[k]; len(b) != 0 {
            pd = append(pd, _PhiDesc { k: k, b: append([]*ir.Block(nil), b...) })
        }
    }

    /* insert Phi node for every variable */
    for _, p := range pd {
        for len(p.b) != 0 {
            n := p.b[0]
            p.b = p.b[1:]

            /* insert Phi nodes */
            for _, y := range dt.DominanceFrontier[n.Id] {
                if rem := phi[p.k]; !rem[y.Id] {
                    if rem != nil {
                        rem[y.Id] = true
                    } else {
                        phi[p.k] = map[int]bool { y.Id: true }
                    }

                    /* build the Phi node args */
                    r := self.reps[p.k]
                    args := make([]ir.PhiArg, len(y.Pred))

                    /* one argument per predecessor */
                    for i, pred := range y.Pred {
                        args[i] = ir.PhiArg { Block: pred, Value: r }
                    }

                    /* insert a new Phi node */
                    y.Insert(len(y.Phis()), blockAddr(y), &ir.PhiAssignment {
                        Dst  : r,
                        Args : args,
                    })

                    /* a node may contain both an ordinary definition and a
                     * Phi node for the same variable */
                    if !orig[y.Id][p.k] {
                        p.b = append(p.b, y)
                    }
                }
            }
        }
    }
}

func addDominated(dt *DominatorGraph, bb *ir.Block, q *lane.Queue) {
    for _, p := range dt.DominatorOf[bb.Id] {
        q.Enqueue(p)
    }
}

func blockAddr(bb *ir.Block) uint64 {
    if len(bb.Statements) != 0 {
        return bb.Statements[0].Addr
    } else {
        return bb.Proc.Addr
    }
}

func (self *_Renamer) top(k ir.Storage, id *ir.Identifier) *ir.Identifier {
    if n := len(self.stack[k]); n != 0 {
        return self.stack[k][n - 1]
    } else {
        return self.entryDef(k, id)
    }
}

func (self *_Renamer) entryDef(k ir.Storage, id *ir.Identifier) *ir.Identifier {
    if sid := self.st.entry[k]; sid != nil {
        return sid.Id
    }

    /* the value lives in the storage on entry */
    proc := self.st.Proc
    sid := self.st.NewVersion(id)
    sid.DefStatement = proc.Entry.Append(proc.Addr, &ir.DefInstruction { Id: sid.Id })

    /* cache by storage */
    self.st.entry[k] = sid
    return sid.Id
}

func (self *_Renamer) renameUses(ins ir.Instruction) {
    if _, ok := ins.(*ir.PhiAssignment); ok {
        return
    }

    /* replace every flat identifier */
    for _, p := range ir.IdentifierSlots(ins) {
        if id, ok := self.flat(*p); ok {
            *p = self.top(ir.StorageKey(id.Storage), id)
        }
    }
}

func (self *_Renamer) renameDefs(st *ir.Statement, buf *[]ir.Storage) {
    if d, ok := st.Instr.(ir.Definitions); ok {
        for _, def := range d.Definitions() {
            if self.st.index[*def] == nil {
                k := ir.StorageKey((*def).Storage)
                sid := self.st.NewVersion(*def)

                /* push the new version */
                *def = sid.Id
                *buf = append(*buf, k)
                sid.DefStatement = st
                self.stack[k] = append(self.stack[k], sid.Id)
            }
        }
    }
}

func (self *_Renamer) renameBlock(bb *ir.Block) {
    var d []ir.Storage

    /* rename the body, including Phi nodes */
    for _, st := range bb.Statements {
        diag.Statement(st, func() {
            self.renameUses(st.Instr)
            self.renameDefs(st, &d)
        })
    }

    /* rename all the Phi node of it's successors */
    for i, s := range bb.Succ {
        if containsBlock(bb.Succ[:i], s) {
            continue
        }

        /* every edge from this block */
        for j, p := range s.Pred {
            if p != bb {
                continue
            }

            /* update the matching arguments */
            for _, st := range s.Phis() {
                phi := st.Instr.(*ir.PhiAssignment)
                if id, ok := self.flat(phi.Args[j].Value); ok {
                    phi.Args[j].Value = self.top(ir.StorageKey(id.Storage), id)
                }
            }
        }
    }

    /* rename all it's children in the dominator tree */
    for _, p := range self.st.Doms.DominatorOf[bb.Id] {
        self.renameBlock(p)
    }

    /* pop the definitions */
    for _, k := range d {
        self.stack[k] = self.stack[k][:len(self.stack[k]) - 1]
    }
}
