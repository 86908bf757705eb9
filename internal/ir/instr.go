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

type Instruction interface {
    fmt.Stringer
}

// Usages is implemented by instructions that read expressions. The returned
// pointers can be used to rewrite the operands in place.
type Usages interface {
    Instruction
    Usages() []*Expression
}

// Definitions is implemented by instructions that write identifiers.
type Definitions interface {
    Instruction
    Definitions() []**Identifier
}

// Impure marks instructions that must never be removed, even when none of
// their definitions is used.
type Impure interface {
    Instruction
    impure()
}

type Assignment struct {
    Dst *Identifier
    Src Expression
}

func (self *Assignment) String() string              { return fmt.Sprintf("%s = %s", self.Dst, self.Src) }
func (self *Assignment) Usages() []*Expression       { return []*Expression { &self.Src } }
func (self *Assignment) Definitions() []**Identifier { return []**Identifier { &self.Dst } }

type Store struct {
    Dst *MemoryAccess
    Src Expression
}

func (self *Store) impure()        {}
func (self *Store) String() string { return fmt.Sprintf("%s = %s", self.Dst, self.Src) }

func (self *Store) Usages() []*Expression {
    return []*Expression { &self.Dst.Ea, &self.Src }
}

// Branch transfers control to Succ[1] of its block when Cond holds, and to
// Succ[0] otherwise.
type Branch struct {
    Cond Expression
}

func (self *Branch) impure()               {}
func (self *Branch) String() string        { return fmt.Sprintf("branch %s", self.Cond) }
func (self *Branch) Usages() []*Expression { return []*Expression { &self.Cond } }

type ReturnInstruction struct {
    Value Expression
}

func (self *ReturnInstruction) impure() {}

func (self *ReturnInstruction) String() string {
    if self.Value == nil {
        return "return"
    } else {
        return "return " + self.Value.String()
    }
}

func (self *ReturnInstruction) Usages() []*Expression {
    if self.Value == nil {
        return nil
    } else {
        return []*Expression { &self.Value }
    }
}

// CallSite describes the machine-level shape of a call.
type CallSite struct {
    ReturnAddressBytes int
}

// UseBinding binds a storage to the value it holds when a call is made.
type UseBinding struct {
    Storage Storage
    Expr    Expression
}

// DefBinding binds a storage to the identifier receiving its value after a
// call returns.
type DefBinding struct {
    Storage Storage
    Id      *Identifier
}

type CallInstruction struct {
    Callee    Expression
    Site      CallSite
    Uses      []*UseBinding
    Defs      []*DefBinding
    Signature *Signature
}

func (self *CallInstruction) impure() {}

func (self *CallInstruction) String() string {
    uses := make([]string, 0, len(self.Uses))
    defs := make([]string, 0, len(self.Defs))

    /* format the use bindings */
    for _, u := range self.Uses {
        uses = append(uses, fmt.Sprintf("%s:%s", u.Storage, u.Expr))
    }

    /* format the definition bindings */
    for _, d := range self.Defs {
        defs = append(defs, fmt.Sprintf("%s:%s", d.Storage, d.Id))
    }

    /* typed calls print as applications */
    if self.Signature != nil {
        return self.Application().String() + fmt.Sprintf(" defs: %s", strings.Join(defs, ","))
    } else {
        return fmt.Sprintf("call %s (retsize: %d;) uses: %s defs: %s", self.Callee, self.Site.ReturnAddressBytes, strings.Join(uses, ","), strings.Join(defs, ","))
    }
}

// Application renders a typed call with the arguments bound to the
// parameters of the signature.
func (self *CallInstruction) Application() *Application {
    args := make([]Expression, 0, len(self.Uses))
    bits := 0

    /* arguments in signature order */
    if self.Signature != nil {
        for _, p := range self.Signature.Params {
            if u := self.UseOf(p.Storage); u != nil {
                args = append(args, u.Expr)
            }
        }
        if len(self.Signature.Returns) != 0 {
            bits = self.Signature.Returns[0].Bits
        }
    }

    /* build the application */
    return &Application {
        Callee : self.Callee,
        Args   : args,
        Bits   : bits,
    }
}

// UseOf finds the use binding for a storage.
func (self *CallInstruction) UseOf(s Storage) *UseBinding {
    for _, u := range self.Uses {
        if StorageKey(u.Storage) == StorageKey(s) {
            return u
        }
    }
    return nil
}

// DefOf finds the definition binding for a storage.
func (self *CallInstruction) DefOf(s Storage) *DefBinding {
    for _, d := range self.Defs {
        if StorageKey(d.Storage) == StorageKey(s) {
            return d
        }
    }
    return nil
}

func (self *CallInstruction) Usages() []*Expression {
    ret := make([]*Expression, 0, len(self.Uses) + 1)
    ret = append(ret, &self.Callee)

    /* add all the use bindings */
    for _, u := range self.Uses {
        ret = append(ret, &u.Expr)
    }

    /* all done */
    return ret
}

func (self *CallInstruction) Definitions() []**Identifier {
    ret := make([]**Identifier, 0, len(self.Defs))
    for _, d := range self.Defs {
        ret = append(ret, &d.Id)
    }
    return ret
}

// PhiArg is the value flowing into a phi from one predecessor.
type PhiArg struct {
    Block *Block
    Value Expression
}

// PhiAssignment merges values at a join point. Args are in the same order as
// the predecessors of the block it belongs to.
type PhiAssignment struct {
    Dst  *Identifier
    Args []PhiArg
}

func (self *PhiAssignment) String() string {
    args := make([]string, 0, len(self.Args))
    for _, a := range self.Args {
        args = append(args, fmt.Sprintf("%s %s", a.Value, a.Block.Name))
    }
    return fmt.Sprintf("%s = PHI(%s)", self.Dst, strings.Join(args, ", "))
}

func (self *PhiAssignment) Usages() []*Expression {
    ret := make([]*Expression, 0, len(self.Args))
    for i := range self.Args {
        ret = append(ret, &self.Args[i].Value)
    }
    return ret
}

func (self *PhiAssignment) Definitions() []**Identifier {
    return []**Identifier { &self.Dst }
}

// DefInstruction is the pseudo-definition of a value live on procedure entry.
type DefInstruction struct {
    Id *Identifier
}

func (self *DefInstruction) String() string              { return "def " + self.Id.String() }
func (self *DefInstruction) Definitions() []**Identifier { return []**Identifier { &self.Id } }

// UseInstruction is the pseudo-use of the value a storage holds on
// procedure exit.
type UseInstruction struct {
    Storage Storage
    Expr    Expression
}

func (self *UseInstruction) impure()               {}
func (self *UseInstruction) String() string        { return "use " + self.Expr.String() }
func (self *UseInstruction) Usages() []*Expression { return []*Expression { &self.Expr } }

type SideEffect struct {
    Expr Expression
}

func (self *SideEffect) impure()               {}
func (self *SideEffect) String() string        { return self.Expr.String() }
func (self *SideEffect) Usages() []*Expression { return []*Expression { &self.Expr } }

// Statement places an instruction at an address inside a block.
type Statement struct {
    Addr  uint64
    Instr Instruction
    Block *Block
}

func (self *Statement) String() string {
    return self.Instr.String()
}
