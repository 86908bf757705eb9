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

const (
    _InstrSize = 4
)

type _BlockLinks struct {
    fall  string
    taken string
    next  *Block
}

// Builder assembles the flat body of a procedure. Labels may be referenced
// before they are defined, they are resolved by Build.
type Builder struct {
    addr  uint64
    proc  *Procedure
    cur   *Block
    refs  map[string]*Block
    links map[*Block]*_BlockLinks
}

func NewBuilder(name string, addr uint64) *Builder {
    return &Builder {
        addr  : addr,
        proc  : NewProcedure(name, addr),
        refs  : make(map[string]*Block),
        links : make(map[*Block]*_BlockLinks),
    }
}

func (self *Builder) Procedure() *Procedure {
    return self.proc
}

// Reg returns the identifier of a register or flag group.
func (self *Builder) Reg(s Storage) *Identifier {
    return self.proc.Frame.EnsureRegister(s)
}

// At sets the address of the next statement.
func (self *Builder) At(addr uint64) *Builder {
    self.addr = addr
    return self
}

func (self *Builder) block() *Block {
    if self.cur == nil {
        self.cur = self.newBlock("")
    }
    return self.cur
}

func (self *Builder) newBlock(name string) *Block {
    bb := self.proc.NewBlock(name)
    self.links[bb] = new(_BlockLinks)
    return bb
}

// Label starts a new block. The current block, if still open, falls through
// into it.
func (self *Builder) Label(name string) {
    if _, ok := self.refs[name]; ok {
        panic("label " + name + " has already been linked")
    }

    /* an empty fall-through block takes the label directly */
    if self.cur != nil && len(self.cur.Statements) == 0 && self.links[self.cur].next == nil && !self.named(self.cur) {
        self.cur.Name = name
        self.refs[name] = self.cur
        return
    }

    /* create the new block */
    bb := self.newBlock(name)
    self.refs[name] = bb

    /* fall through from the current block */
    if self.cur != nil {
        self.links[self.cur].next = bb
    }

    /* switch to the new block */
    self.cur = bb
}

// Emit appends an instruction to the current block.
func (self *Builder) Emit(ins Instruction) *Statement {
    st := self.block().Append(self.addr, ins)
    self.addr += _InstrSize
    return st
}

func (self *Builder) Assign(dst *Identifier, src Expression) *Statement {
    return self.Emit(&Assignment { Dst: dst, Src: src })
}

func (self *Builder) Store(ea Expression, src Expression) *Statement {
    return self.Emit(&Store { Dst: Mem(ea, src.BitSize()), Src: src })
}

func (self *Builder) Call(callee Expression, retsize int) *Statement {
    return self.Emit(&CallInstruction {
        Callee : callee,
        Site   : CallSite { ReturnAddressBytes: retsize },
    })
}

// Branch ends the current block with a conditional jump to a label; the
// following code starts a new fall-through block.
func (self *Builder) Branch(cond Expression, to string) *Statement {
    st := self.Emit(&Branch { Cond: cond })
    bb := self.newBlock("")

    /* link the branch target and the fall-through block */
    self.links[self.cur].taken = to
    self.links[self.cur].next = bb
    self.cur = bb
    return st
}

// Jump ends the current block with an unconditional jump to a label.
func (self *Builder) Jump(to string) {
    self.links[self.block()].fall = to
    self.cur = nil
}

// Return ends the current block with a return to the caller.
func (self *Builder) Return() *Statement {
    st := self.Emit(new(ReturnInstruction))
    self.links[self.cur].next = self.proc.Exit
    self.cur = nil
    return st
}

func (self *Builder) named(bb *Block) bool {
    v, ok := self.refs[bb.Name]
    return ok && v == bb
}

func (self *Builder) resolve(name string) *Block {
    if bb, ok := self.refs[name]; ok {
        return bb
    } else {
        panic("labels are not fully resolved: " + name)
    }
}

// Build resolves all the labels and links the control flow graph.
func (self *Builder) Build() *Procedure {
    var ok bool
    var lk *_BlockLinks

    /* the first user block follows the entry block */
    if len(self.proc.Blocks) <= 2 {
        panic("procedure " + self.proc.Name + " has no body")
    } else {
        Link(self.proc.Entry, self.proc.Blocks[2])
    }

    /* link every block */
    for _, bb := range self.proc.Blocks[2:] {
        if lk, ok = self.links[bb]; !ok {
            continue
        }

        /* fall-through edge comes first */
        if lk.next != nil {
            Link(bb, lk.next)
        } else if lk.fall != "" {
            Link(bb, self.resolve(lk.fall))
        } else {
            panic("block falls off the end of the procedure: " + bb.Name)
        }

        /* then the branch target */
        if lk.taken != "" {
            Link(bb, self.resolve(lk.taken))
        }
    }

    /* all done */
    return self.proc
}
