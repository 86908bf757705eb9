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

package ir

import (
    `fmt`
    `strings`
)

type Block struct {
    Id         int
    Name       string
    Proc       *Procedure
    Statements []*Statement
    Pred       []*Block
    Succ       []*Block
}

func (self *Block) String() string {
    return self.Name
}

// Append adds an instruction to the end of the block.
func (self *Block) Append(addr uint64, ins Instruction) *Statement {
    st := &Statement {
        Addr  : addr,
        Instr : ins,
        Block : self,
    }
    self.Statements = append(self.Statements, st)
    return st
}

// Insert adds an instruction at position i of the block.
func (self *Block) Insert(i int, addr uint64, ins Instruction) *Statement {
    st := &Statement {
        Addr  : addr,
        Instr : ins,
        Block : self,
    }

    /* shift the remaining statements */
    self.Statements = append(self.Statements, nil)
    copy(self.Statements[i + 1:], self.Statements[i:])
    self.Statements[i] = st
    return st
}

// InsertBeforeTerminator adds an instruction before the trailing branch or
// return, if any.
func (self *Block) InsertBeforeTerminator(addr uint64, ins Instruction) *Statement {
    n := len(self.Statements)
    if n != 0 && IsTerminator(self.Statements[n - 1].Instr) {
        return self.Insert(n - 1, addr, ins)
    } else {
        return self.Append(addr, ins)
    }
}

// IndexOf returns the position of a statement in the block, or -1.
func (self *Block) IndexOf(st *Statement) int {
    for i, v := range self.Statements {
        if v == st {
            return i
        }
    }
    return -1
}

// Remove deletes a statement from the block.
func (self *Block) Remove(st *Statement) bool {
    if i := self.IndexOf(st); i < 0 {
        return false
    } else {
        self.Statements = append(self.Statements[:i], self.Statements[i + 1:]...)
        return true
    }
}

// PredIndex returns the index of a predecessor, or -1.
func (self *Block) PredIndex(p *Block) int {
    for i, v := range self.Pred {
        if v == p {
            return i
        }
    }
    return -1
}

// Phis returns the leading phi assignments of the block.
func (self *Block) Phis() []*Statement {
    for i, st := range self.Statements {
        if _, ok := st.Instr.(*PhiAssignment); !ok {
            return self.Statements[:i]
        }
    }
    return self.Statements
}

// Terminator returns the trailing branch or return statement, if any.
func (self *Block) Terminator() *Statement {
    if n := len(self.Statements); n != 0 && IsTerminator(self.Statements[n - 1].Instr) {
        return self.Statements[n - 1]
    } else {
        return nil
    }
}

// IsTerminator tests whether an instruction must be the last one in a block.
func IsTerminator(ins Instruction) bool {
    switch ins.(type) {
        case *Branch            : return true
        case *ReturnInstruction : return true
        default                 : return false
    }
}

// Link adds an edge from a to b.
func Link(a *Block, b *Block) {
    a.Succ = append(a.Succ, b)
    b.Pred = append(b.Pred, a)
}

// Characteristics carries facts about a procedure known without analysis.
type Characteristics struct {
    Terminates bool // never returns to its caller
}

// Signature is the typed interface of a procedure. StackDelta counts the
// bytes released by the callee beyond the return address. Declared
// signatures come from the user or a signature library and are never
// narrowed by the analysis.
type Signature struct {
    Params     []*Identifier
    Returns    []*Identifier
    StackDelta int
    Declared   bool
}

func (self *Signature) String() string {
    if self == nil {
        return "<unknown>"
    }

    /* format the parameters */
    pp := make([]string, 0, len(self.Params))
    for _, p := range self.Params {
        pp = append(pp, p.Name)
    }

    /* format the return values */
    rr := make([]string, 0, len(self.Returns))
    for _, r := range self.Returns {
        rr = append(rr, r.Name)
    }

    /* build the signature */
    return fmt.Sprintf("(%s) -> (%s)", strings.Join(pp, ", "), strings.Join(rr, ", "))
}

// ProcedureBase is implemented by *Procedure and *ExternalProcedure.
type ProcedureBase interface {
    fmt.Stringer
    procedure()
}

// ExternalProcedure is a procedure whose body is not part of the program,
// such as an import.
type ExternalProcedure struct {
    Name            string
    Signature       *Signature
    Characteristics Characteristics
}

func (self *ExternalProcedure) procedure()     {}
func (self *ExternalProcedure) String() string { return self.Name }

type Procedure struct {
    Name            string
    Addr            uint64
    Entry           *Block
    Exit            *Block
    Blocks          []*Block
    Frame           *Frame
    Signature       *Signature
    Characteristics Characteristics
    nextId          int
}

// NewProcedure creates a procedure with only its synthetic entry and exit
// blocks.
func NewProcedure(name string, addr uint64) *Procedure {
    p := &Procedure {
        Name  : name,
        Addr  : addr,
        Frame : NewFrame(),
    }

    /* create the synthetic blocks */
    p.Entry = p.NewBlock(name + "_entry")
    p.Exit = p.NewBlock(name + "_exit")
    return p
}

func (self *Procedure) procedure()     {}
func (self *Procedure) String() string { return self.Name }

// NewBlock creates a block owned by the procedure.
func (self *Procedure) NewBlock(name string) *Block {
    bb := &Block {
        Id   : self.nextId,
        Name : name,
        Proc : self,
    }

    /* anonymous blocks are named by their ID */
    if bb.Name == "" {
        bb.Name = fmt.Sprintf("l%d", bb.Id)
    }

    /* add to block list */
    self.nextId++
    self.Blocks = append(self.Blocks, bb)
    return bb
}

// RemoveBlock detaches a block from the procedure and all its neighbours.
func (self *Procedure) RemoveBlock(bb *Block) {
    for _, s := range bb.Succ {
        unlinkPred(s, bb)
    }

    /* detach from predecessors */
    for _, p := range bb.Pred {
        unlinkSucc(p, bb)
    }

    /* remove from the block list */
    for i, v := range self.Blocks {
        if v == bb {
            self.Blocks = append(self.Blocks[:i], self.Blocks[i + 1:]...)
            break
        }
    }
}

func unlinkPred(bb *Block, p *Block) {
    for i := 0; i < len(bb.Pred); {
        if bb.Pred[i] != p {
            i++
        } else {
            bb.Pred = append(bb.Pred[:i], bb.Pred[i + 1:]...)
            removePhiArg(bb, i)
        }
    }
}

func unlinkSucc(bb *Block, s *Block) {
    for i := 0; i < len(bb.Succ); {
        if bb.Succ[i] != s {
            i++
        } else {
            bb.Succ = append(bb.Succ[:i], bb.Succ[i + 1:]...)
        }
    }
}

func removePhiArg(bb *Block, i int) {
    for _, st := range bb.Phis() {
        phi := st.Instr.(*PhiAssignment)
        phi.Args = append(phi.Args[:i], phi.Args[i + 1:]...)
    }
}

// Statements iterates over every statement of the procedure in block order.
func (self *Procedure) Statements(fn func(*Statement)) {
    for _, bb := range self.Blocks {
        for _, st := range bb.Statements {
            fn(st)
        }
    }
}

// Frame owns the identifiers of a procedure.
type Frame struct {
    Identifiers []*Identifier
    registers   map[Storage]*Identifier
    stack       map[int]*Identifier
    temps       int
}

func NewFrame() *Frame {
    return &Frame {
        stack     : make(map[int]*Identifier),
        registers : make(map[Storage]*Identifier),
    }
}

func (self *Frame) add(id *Identifier) *Identifier {
    self.Identifiers = append(self.Identifiers, id)
    return id
}

// EnsureRegister returns the identifier for a register or flag group,
// creating it on first use.
func (self *Frame) EnsureRegister(s Storage) *Identifier {
    if id, ok := self.registers[s]; ok {
        return id
    }

    /* create a new identifier */
    id := self.add(&Identifier {
        Name    : s.String(),
        Bits    : s.BitSize(),
        Storage : s,
    })

    /* register the identifier */
    self.registers[s] = id
    return id
}

// EnsureStackVariable returns the identifier for the stack slot at offset.
func (self *Frame) EnsureStackVariable(offset int, bits int) *Identifier {
    if id, ok := self.stack[offset]; ok && id.Bits == bits {
        return id
    }

    /* create a new stack slot */
    ss := &StackStorage {
        Bits   : bits,
        Offset : offset,
    }

    /* name by the offset */
    id := self.add(&Identifier {
        Name    : stackName(offset),
        Bits    : bits,
        Storage : ss,
    })

    /* register the identifier */
    self.stack[offset] = id
    return id
}

func stackName(offset int) string {
    if offset < 0 {
        return fmt.Sprintf("loc%x", -offset)
    } else {
        return fmt.Sprintf("arg%x", offset)
    }
}

// CreateTemporary returns a fresh identifier in a temporary storage.
func (self *Frame) CreateTemporary(bits int) *Identifier {
    self.temps++
    name := fmt.Sprintf("tmp%d", self.temps)

    /* create the temporary storage */
    return self.add(&Identifier {
        Name    : name,
        Bits    : bits,
        Storage : &TemporaryStorage { Name: name, Bits: bits },
    })
}

// CreateSequence returns a fresh identifier spanning two storages.
func (self *Frame) CreateSequence(head *Identifier, tail *Identifier) *Identifier {
    ss := &SequenceStorage {
        Head: head.Storage,
        Tail: tail.Storage,
    }

    /* create the identifier */
    return self.add(&Identifier {
        Name    : ss.String(),
        Bits    : head.Bits + tail.Bits,
        Storage : ss,
    })
}

// Program is the set of procedures under analysis.
type Program struct {
    Procedures         []*Procedure
    ByAddr             map[uint64]*Procedure
    Externals          map[string]*ExternalProcedure
    InductionVariables map[*Identifier]*LinearInductionVariable
}

func NewProgram() *Program {
    return &Program {
        ByAddr             : make(map[uint64]*Procedure),
        Externals          : make(map[string]*ExternalProcedure),
        InductionVariables : make(map[*Identifier]*LinearInductionVariable),
    }
}

// AddProcedure registers a procedure, keeping the program order.
func (self *Program) AddProcedure(p *Procedure) {
    self.ByAddr[p.Addr] = p
    self.Procedures = append(self.Procedures, p)
}

// LinearInductionVariable is a value that changes by a constant step on
// every iteration of a loop.
type LinearInductionVariable struct {
    Phi   *Identifier
    Init  Expression
    Step  int64
    Bound Expression
}

func (self *LinearInductionVariable) String() string {
    if self.Bound == nil {
        return fmt.Sprintf("(%s; %d; ?)", self.Init, self.Step)
    } else {
        return fmt.Sprintf("(%s; %d; %s)", self.Init, self.Step, self.Bound)
    }
}

// ImportResolver finds external procedures by name or by address.
type ImportResolver interface {
    ResolveImport(name string) *ExternalProcedure
    ResolveAddress(addr uint64) *ExternalProcedure
}
