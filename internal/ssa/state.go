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
    `fmt`

    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/ir`
)

// SsaIdentifier is the bookkeeping record of one SSA value.
type SsaIdentifier struct {
    Id           *ir.Identifier
    Original     *ir.Identifier
    DefStatement *ir.Statement
    Uses         []*ir.Statement
}

func (self *SsaIdentifier) String() string {
    return self.Id.Name
}

// IsEntryDef tells whether the value is live on procedure entry.
func (self *SsaIdentifier) IsEntryDef() bool {
    if self.DefStatement == nil {
        return false
    } else {
        _, ok := self.DefStatement.Instr.(*ir.DefInstruction)
        return ok
    }
}

// State is the SSA form of one procedure: every identifier has exactly one
// defining statement, and the use lists are kept in sync with the
// statements by the passes that modify them.
type State struct {
    Proc        *ir.Procedure
    Arch        arch.Architecture
    Doms        *DominatorGraph
    Identifiers []*SsaIdentifier
    index       map[*ir.Identifier]*SsaIdentifier
    entry       map[ir.Storage]*SsaIdentifier
}

func newState(proc *ir.Procedure, arch arch.Architecture) *State {
    return &State {
        Proc  : proc,
        Arch  : arch,
        index : make(map[*ir.Identifier]*SsaIdentifier),
        entry : make(map[ir.Storage]*SsaIdentifier),
    }
}

// Lookup returns the SSA record of an identifier, or nil when the identifier
// has not been renamed.
func (self *State) Lookup(id *ir.Identifier) *SsaIdentifier {
    return self.index[id]
}

// Get is like Lookup, but panics for identifiers outside the SSA form.
func (self *State) Get(id *ir.Identifier) *SsaIdentifier {
    if sid := self.index[id]; sid != nil {
        return sid
    } else {
        panic(fmt.Sprintf("identifier %s is not in SSA form", id))
    }
}

// EntryDef returns the value a storage holds on procedure entry, if it is
// read anywhere.
func (self *State) EntryDef(s ir.Storage) *SsaIdentifier {
    return self.entry[ir.StorageKey(s)]
}

// EntryDefs lists the values read on procedure entry.
func (self *State) EntryDefs() []*SsaIdentifier {
    ret := make([]*SsaIdentifier, 0, len(self.entry))
    for _, st := range self.Proc.Entry.Statements {
        if d, ok := st.Instr.(*ir.DefInstruction); ok {
            ret = append(ret, self.index[d.Id])
        }
    }
    return ret
}

// NewVersion creates a new SSA value for the storage of orig.
func (self *State) NewVersion(orig *ir.Identifier) *SsaIdentifier {
    sid := &SsaIdentifier {
        Original : orig,
        Id       : &ir.Identifier {
            Bits    : orig.Bits,
            Storage : orig.Storage,
            Name    : fmt.Sprintf("%s_%d", orig.Name, len(self.Identifiers)),
        },
    }

    /* register the identifier */
    self.index[sid.Id] = sid
    self.Identifiers = append(self.Identifiers, sid)
    return sid
}

// NewTemporary creates an SSA value in a fresh temporary storage.
func (self *State) NewTemporary(bits int) *SsaIdentifier {
    return self.NewVersion(self.Proc.Frame.CreateTemporary(bits))
}

// Define makes st the defining statement of every identifier it writes.
func (self *State) Define(st *ir.Statement) {
    for _, id := range ir.DefinedIdentifiers(st.Instr) {
        if sid := self.index[id]; sid != nil {
            sid.DefStatement = st
        }
    }
}

// AddUses registers st as a user of every SSA identifier it reads.
func (self *State) AddUses(st *ir.Statement) {
    for _, id := range ir.UsedIdentifiers(st.Instr) {
        if sid := self.index[id]; sid != nil {
            sid.Uses = append(sid.Uses, st)
        }
    }
}

// RemoveUses drops st from the use lists of the identifiers it reads. A
// statement reading the same identifier twice is removed once per read.
func (self *State) RemoveUses(st *ir.Statement) {
    for _, id := range ir.UsedIdentifiers(st.Instr) {
        if sid := self.index[id]; sid != nil {
            sid.removeUse(st)
        }
    }
}

func (self *SsaIdentifier) removeUse(st *ir.Statement) {
    for i, v := range self.Uses {
        if v == st {
            self.Uses = append(self.Uses[:i], self.Uses[i + 1:]...)
            return
        }
    }
}

// Replace swaps the instruction of a statement, keeping the use lists and
// definitions up to date.
func (self *State) Replace(st *ir.Statement, ins ir.Instruction) {
    self.RemoveUses(st)
    self.undefine(st)
    st.Instr = ins
    self.Define(st)
    self.AddUses(st)
}

func (self *State) undefine(st *ir.Statement) {
    for _, id := range ir.DefinedIdentifiers(st.Instr) {
        if sid := self.index[id]; sid != nil && sid.DefStatement == st {
            sid.DefStatement = nil
        }
    }
}

// Delete removes a statement from its block, together with its uses and
// definitions.
func (self *State) Delete(st *ir.Statement) {
    self.RemoveUses(st)
    self.undefine(st)

    /* entry definitions are cached by storage */
    if d, ok := st.Instr.(*ir.DefInstruction); ok {
        if k := ir.StorageKey(d.Id.Storage); self.entry[k] != nil && self.entry[k].Id == d.Id {
            delete(self.entry, k)
        }
    }

    /* remove from the block */
    st.Block.Remove(st)
}

// Insert adds an instruction at position i of a block and registers it.
func (self *State) Insert(bb *ir.Block, i int, addr uint64, ins ir.Instruction) *ir.Statement {
    st := bb.Insert(i, addr, ins)
    self.Define(st)
    self.AddUses(st)
    return st
}

// ReplaceUses rewrites every read of from with the expression to, and
// returns the number of statements changed.
func (self *State) ReplaceUses(from *SsaIdentifier, to ir.Expression) int {
    n := 0
    uses := append([]*ir.Statement(nil), from.Uses...)

    /* rewrite every distinct user once */
    for i, st := range uses {
        if indexOf(uses[:i], st) >= 0 {
            continue
        }

        /* substitute and update the use lists */
        self.RemoveUses(st)
        for _, p := range ir.IdentifierSlots(st.Instr) {
            if *p == ir.Expression(from.Id) {
                *p = ir.Clone(to)
            }
        }

        /* register the new uses */
        n++
        self.AddUses(st)
    }

    /* all done */
    return n
}

func indexOf(sts []*ir.Statement, st *ir.Statement) int {
    for i, v := range sts {
        if v == st {
            return i
        }
    }
    return -1
}

// RebuildUses recomputes every definition and use list from scratch.
func (self *State) RebuildUses() {
    for _, sid := range self.Identifiers {
        sid.Uses = nil
        sid.DefStatement = nil
    }

    /* scan every statement */
    self.Proc.Statements(func(st *ir.Statement) {
        self.Define(st)
        self.AddUses(st)
    })
}

// Live lists the identifiers that are still defined.
func (self *State) Live() []*SsaIdentifier {
    ret := make([]*SsaIdentifier, 0, len(self.Identifiers))
    for _, sid := range self.Identifiers {
        if sid.DefStatement != nil {
            ret = append(ret, sid)
        }
    }
    return ret
}

// Validate checks the single-definition property and the use lists.
func (self *State) Validate() error {
    defs := make(map[*ir.Identifier]*ir.Statement)
    uses := make(map[*ir.Identifier]int)

    /* collect definitions and uses */
    for _, bb := range self.Proc.Blocks {
        for _, st := range bb.Statements {
            if st.Block != bb {
                return fmt.Errorf("statement %q is owned by block %v, but found in %s", st, st.Block, bb.Name)
            }

            /* every value is defined exactly once */
            for _, id := range ir.DefinedIdentifiers(st.Instr) {
                if self.index[id] == nil {
                    return fmt.Errorf("statement %q defines the non-SSA identifier %s", st, id)
                } else if defs[id] != nil {
                    return fmt.Errorf("identifier %s is defined more than once", id)
                } else {
                    defs[id] = st
                }
            }

            /* count the uses */
            for _, id := range ir.UsedIdentifiers(st.Instr) {
                if self.index[id] == nil {
                    return fmt.Errorf("statement %q reads the non-SSA identifier %s", st, id)
                } else {
                    uses[id]++
                }
            }

            /* phis must have one argument per predecessor */
            if phi, ok := st.Instr.(*ir.PhiAssignment); ok && len(phi.Args) != len(bb.Pred) {
                return fmt.Errorf("phi %q has %d arguments, but block %s has %d predecessors", st, len(phi.Args), bb.Name, len(bb.Pred))
            }
        }
    }

    /* check against the records */
    for _, sid := range self.Identifiers {
        if defs[sid.Id] != sid.DefStatement {
            return fmt.Errorf("identifier %s has a stale definition", sid.Id)
        } else if uses[sid.Id] != len(sid.Uses) {
            return fmt.Errorf("identifier %s has %d uses, but %d are recorded", sid.Id, uses[sid.Id], len(sid.Uses))
        } else if sid.DefStatement == nil && len(sid.Uses) != 0 {
            return fmt.Errorf("identifier %s is used but never defined", sid.Id)
        }
    }

    /* all checked */
    return nil
}
