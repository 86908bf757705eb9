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


// Package flow holds the summaries computed by the data flow analysis: what
// every procedure does to the registers of its callers, and which registers
// are live at the end of every block.
package flow

import (
    `sort`
    `sync`

    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/ir`
    `golang.org/x/exp/maps`
)

// Termination tells whether a procedure returns to its caller.
type Termination int8

const (
    Unknown Termination = iota
    Returns
    NeverReturns
)

func (self Termination) String() string {
    switch self {
        case Returns      : return "returns"
        case NeverReturns : return "never returns"
        default           : return "unknown"
    }
}

// ProcedureFlow summarizes the effects of a procedure on the registers.
type ProcedureFlow struct {
    Proc           *ir.Procedure
    Trashed        RegisterSet
    TrashedFlags   uint32
    Preserved      RegisterSet
    PreservedFlags uint32
    MayUse         RegisterSet
    MayUseFlags    uint32
    ByPass         RegisterSet
    LiveOut        RegisterSet
    LiveOutFlags   uint32
    BitsUsed       map[*ir.RegisterStorage]BitRange
    Constants      map[*ir.RegisterStorage]*ir.Constant
    StackDelta     int
    Signature      *ir.Signature
    Termination    Termination
}

func NewProcedureFlow(proc *ir.Procedure) *ProcedureFlow {
    return &ProcedureFlow {
        Proc      : proc,
        Trashed   : make(RegisterSet),
        Preserved : make(RegisterSet),
        MayUse    : make(RegisterSet),
        ByPass    : make(RegisterSet),
        LiveOut   : make(RegisterSet),
        BitsUsed  : make(map[*ir.RegisterStorage]BitRange),
        Constants : make(map[*ir.RegisterStorage]*ir.Constant),
    }
}

// HellFlow is the flow of a procedure nothing is known about: it reads every
// register and trashes every register except the stack pointer.
func HellFlow(a arch.Architecture) *ProcedureFlow {
    sp := a.StackPointer()
    ret := NewProcedureFlow(nil)

    /* everything is used, everything but the stack pointer is trashed */
    for _, r := range a.Registers() {
        ret.MayUse.Add(r)
        ret.BitsUsed[r] = BitRange { Lo: 0, Hi: r.Bits }
        if r != sp {
            ret.Trashed.Add(r)
        }
    }

    /* the stack pointer survives the call */
    ret.Preserved.Add(sp)
    ret.MayUseFlags = a.AllFlags()
    ret.TrashedFlags = a.AllFlags()
    ret.StackDelta = a.ReturnAddressBytes()
    return ret
}

// ExternalFlow derives the flow of an imported procedure from its declared
// signature. Imports without a signature get the hell flow.
func ExternalFlow(a arch.Architecture, ext *ir.ExternalProcedure) *ProcedureFlow {
    var ret *ProcedureFlow
    sig := ext.Signature

    /* nothing is known about the procedure */
    if sig == nil {
        ret = HellFlow(a)
        ret.Termination = termination(ext.Characteristics)
        return ret
    }

    /* parameters are read, return values are written */
    ret = NewProcedureFlow(nil)
    ret.Signature = sig
    ret.Termination = termination(ext.Characteristics)
    ret.StackDelta = a.ReturnAddressBytes() + sig.StackDelta

    /* add the parameter registers */
    for _, p := range sig.Params {
        if r, ok := p.Storage.(*ir.RegisterStorage); ok {
            w := a.WholeRegister(r)
            ret.MayUse.Add(w)
            ret.BitsUsed[w] = ret.BitsUsed[w].Union(BitRange { Lo: r.BitOffset, Hi: r.BitOffset + r.Bits })
        }
    }

    /* add the return registers */
    for _, v := range sig.Returns {
        if r, ok := v.Storage.(*ir.RegisterStorage); ok {
            ret.Trashed.Add(a.WholeRegister(r))
        }
    }

    /* everything else is preserved */
    for _, r := range a.Registers() {
        if !ret.Trashed.Has(r) {
            ret.Preserved.Add(r)
        }
    }

    /* the flags are not preserved by any convention */
    ret.TrashedFlags = a.AllFlags()
    return ret
}

func termination(c ir.Characteristics) Termination {
    if c.Terminates {
        return NeverReturns
    } else {
        return Returns
    }
}

func (self *ProcedureFlow) Clone() *ProcedureFlow {
    ret := *self
    ret.Trashed = self.Trashed.Clone()
    ret.Preserved = self.Preserved.Clone()
    ret.MayUse = self.MayUse.Clone()
    ret.ByPass = self.ByPass.Clone()
    ret.LiveOut = self.LiveOut.Clone()
    ret.BitsUsed = maps.Clone(self.BitsUsed)
    ret.Constants = maps.Clone(self.Constants)
    return &ret
}

// SameSummary compares the parts of two flows that are visible to callers,
// which is what the fixed points over the call graph are computed on.
func (self *ProcedureFlow) SameSummary(other *ProcedureFlow) bool {
    return self.Termination == other.Termination &&
           self.StackDelta == other.StackDelta &&
           self.TrashedFlags == other.TrashedFlags &&
           self.MayUseFlags == other.MayUseFlags &&
           self.Trashed.Equal(other.Trashed) &&
           self.Preserved.Equal(other.Preserved) &&
           self.MayUse.Equal(other.MayUse) &&
           self.ByPass.Equal(other.ByPass) &&
           maps.Equal(self.BitsUsed, other.BitsUsed) &&
           maps.EqualFunc(self.Constants, other.Constants, sameConstant)
}

func sameConstant(a *ir.Constant, b *ir.Constant) bool {
    return a.Value == b.Value && a.Bits == b.Bits
}

// BlockFlow holds the facts known at the end of a block.
type BlockFlow struct {
    Block             *ir.Block
    LiveOut           RegisterSet
    LiveOutFlags      uint32
    TerminatesProcess bool
}

func NewBlockFlow(bb *ir.Block) *BlockFlow {
    return &BlockFlow {
        Block   : bb,
        LiveOut : make(RegisterSet),
    }
}

// ProgramDataFlow is the table of all the procedure and block flows of a
// program. Procedure flows become visible once they are finalized; until
// then readers get nil and must assume the hell flow.
type ProgramDataFlow struct {
    Arch   arch.Architecture
    mu     sync.RWMutex
    procs  map[*ir.Procedure]*ProcedureFlow
    blocks map[*ir.Block]*BlockFlow
}

func NewProgramDataFlow(a arch.Architecture) *ProgramDataFlow {
    return &ProgramDataFlow {
        Arch   : a,
        procs  : make(map[*ir.Procedure]*ProcedureFlow),
        blocks : make(map[*ir.Block]*BlockFlow),
    }
}

// Procedure returns the finalized flow of a procedure, or nil.
func (self *ProgramDataFlow) Procedure(proc *ir.Procedure) *ProcedureFlow {
    self.mu.RLock()
    defer self.mu.RUnlock()
    return self.procs[proc]
}

// Block returns the flow of a block, or nil.
func (self *ProgramDataFlow) Block(bb *ir.Block) *BlockFlow {
    self.mu.RLock()
    defer self.mu.RUnlock()
    return self.blocks[bb]
}

// Finalize publishes the flow of a procedure.
func (self *ProgramDataFlow) Finalize(f *ProcedureFlow) {
    if f.Proc == nil {
        panic("flow: finalizing a flow without procedure")
    }

    /* publish the flow */
    self.mu.Lock()
    self.procs[f.Proc] = f
    self.mu.Unlock()
}

// SetBlocks publishes the flows of blocks, replacing the previous ones.
func (self *ProgramDataFlow) SetBlocks(bfs ...*BlockFlow) {
    self.mu.Lock()
    defer self.mu.Unlock()

    /* replace every block flow */
    for _, bf := range bfs {
        self.blocks[bf.Block] = bf
    }
}

// Procedures lists the finalized procedure flows by address.
func (self *ProgramDataFlow) Procedures() []*ProcedureFlow {
    self.mu.RLock()
    ret := maps.Values(self.procs)
    self.mu.RUnlock()

    /* sort by address, then by name */
    sort.Slice(ret, func(i int, j int) bool {
        if a, b := ret[i].Proc, ret[j].Proc; a.Addr != b.Addr {
            return a.Addr < b.Addr
        } else {
            return a.Name < b.Name
        }
    })

    /* all done */
    return ret
}
