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


// Package signatures loads the signatures of imported procedures, and the
// signatures the user declares for procedures of the program, from YAML
// files.
package signatures

import (
    `fmt`
    `io/ioutil`
    `strconv`
    `strings`

    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/ir`
    `gopkg.in/yaml.v2`
)

// Entry is one procedure of a signature file.
type Entry struct {
    Name       string   `yaml:"name"`
    Address    uint64   `yaml:"address"`
    Params     []string `yaml:"params"`
    Returns    []string `yaml:"returns"`
    StackDelta int      `yaml:"stack_delta"`
    Terminates bool     `yaml:"terminates"`
}

// File is the layout of a signature file.
type File struct {
    Arch       string  `yaml:"arch"`
    Imports    []Entry `yaml:"imports"`
    Procedures []Entry `yaml:"procedures"`
}

// Library resolves imported procedures by name or by the address of their
// trampoline, and holds the signatures declared for program procedures.
type Library struct {
    Arch    arch.Architecture
    imports map[string]*ir.ExternalProcedure
    byAddr  map[uint64]*ir.ExternalProcedure
    user    map[uint64]Entry
}

func NewLibrary(a arch.Architecture) *Library {
    return &Library {
        Arch    : a,
        imports : make(map[string]*ir.ExternalProcedure),
        byAddr  : make(map[uint64]*ir.ExternalProcedure),
        user    : make(map[uint64]Entry),
    }
}

// Load reads a signature file into the library.
func (self *Library) Load(path string) error {
    buf, err := ioutil.ReadFile(path)
    if err != nil {
        return fmt.Errorf("failed to read signature file %s: %w", path, err)
    }

    /* parse the file */
    if err = self.Parse(buf); err != nil {
        return fmt.Errorf("failed to load signature file %s: %w", path, err)
    } else {
        return nil
    }
}

// Parse adds the entries of a signature file to the library. Later entries
// replace earlier ones with the same name or address.
func (self *Library) Parse(buf []byte) error {
    var f File
    if err := yaml.Unmarshal(buf, &f); err != nil {
        return err
    }

    /* the file must match the architecture */
    if f.Arch != "" && f.Arch != self.Arch.Name() {
        return fmt.Errorf("signatures are for %s, not %s", f.Arch, self.Arch.Name())
    }

    /* imported procedures */
    for _, e := range f.Imports {
        if err := self.addImport(e); err != nil {
            return err
        }
    }

    /* user signatures */
    for _, e := range f.Procedures {
        if e.Address == 0 {
            return fmt.Errorf("procedure %q has no address", e.Name)
        } else if _, err := self.signature(ir.NewFrame(), e); err != nil {
            return err
        } else {
            self.user[e.Address] = e
        }
    }

    /* all done */
    return nil
}

func (self *Library) addImport(e Entry) error {
    if e.Name == "" {
        return fmt.Errorf("import at %#x has no name", e.Address)
    }

    /* build the signature */
    sig, err := self.signature(ir.NewFrame(), e)
    if err != nil {
        return err
    }

    /* register the procedure */
    ext := &ir.ExternalProcedure {
        Name            : e.Name,
        Signature       : sig,
        Characteristics : ir.Characteristics { Terminates: e.Terminates },
    }

    /* by name, and by address when it has a trampoline */
    if self.imports[e.Name] = ext; e.Address != 0 {
        self.byAddr[e.Address] = ext
    }

    /* all done */
    return nil
}

// signature builds a declared signature with identifiers of the frame.
// Entries without parameters and return values have no signature.
func (self *Library) signature(frame *ir.Frame, e Entry) (*ir.Signature, error) {
    if e.Params == nil && e.Returns == nil && e.StackDelta == 0 {
        return nil, nil
    }

    /* declared signatures are never narrowed */
    sig := &ir.Signature {
        StackDelta : e.StackDelta,
        Declared   : true,
    }

    /* parameters */
    for _, s := range e.Params {
        if id, err := self.storage(frame, s); err != nil {
            return nil, fmt.Errorf("%s: %w", e.Name, err)
        } else {
            sig.Params = append(sig.Params, id)
        }
    }

    /* return values */
    for _, s := range e.Returns {
        if id, err := self.storage(frame, s); err != nil {
            return nil, fmt.Errorf("%s: %w", e.Name, err)
        } else {
            sig.Returns = append(sig.Returns, id)
        }
    }

    /* all done */
    return sig, nil
}

// storage parses a register name, or a stack slot written as `sp+N`.
func (self *Library) storage(frame *ir.Frame, s string) (*ir.Identifier, error) {
    if r := self.Arch.RegisterByName(s); r != nil {
        return frame.EnsureRegister(r), nil
    }

    /* stack slots are relative to the stack pointer on entry */
    sp := self.Arch.StackPointer().Name + "+"
    if !strings.HasPrefix(s, sp) {
        return nil, fmt.Errorf("unknown storage %q", s)
    }

    /* parse the offset */
    off, err := strconv.ParseUint(s[len(sp):], 0, 31)
    if err != nil {
        return nil, fmt.Errorf("invalid stack offset in %q: %w", s, err)
    } else {
        return frame.EnsureStackVariable(int(off), self.Arch.WordSize()), nil
    }
}

// ResolveImport finds an imported procedure by name.
func (self *Library) ResolveImport(name string) *ir.ExternalProcedure {
    return self.imports[name]
}

// ResolveAddress finds an imported procedure by the address of its
// trampoline.
func (self *Library) ResolveAddress(addr uint64) *ir.ExternalProcedure {
    return self.byAddr[addr]
}
