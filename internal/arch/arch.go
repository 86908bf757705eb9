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

package arch

import (
    `github.com/cloudwego/decompflow/internal/ir`
)

// Architecture describes the register file of a processor.
type Architecture interface {
    Name() string
    WordSize() int
    Registers() []*ir.RegisterStorage
    RegisterByName(name string) *ir.RegisterStorage
    WholeRegister(r *ir.RegisterStorage) *ir.RegisterStorage
    ZeroExtendsOnWrite(r *ir.RegisterStorage) bool
    StackPointer() *ir.RegisterStorage
    FlagRegister() *ir.RegisterStorage
    FlagGroup(mask uint32) *ir.FlagGroupStorage
    AllFlags() uint32
    CarryFlag() uint32
    ReturnAddressBytes() int
    Semantics() Semantics
}

// Platform binds an architecture to the conventions of an operating
// environment.
type Platform interface {
    Architecture() Architecture
    ImplicitRegisters() []*ir.RegisterStorage
    ResolveTrampoline(addr uint64) *ir.ExternalProcedure
}

// DefaultPlatform is a platform without calling-convention knowledge. Only
// the stack pointer is implicit, and trampolines are resolved through the
// import resolver.
type DefaultPlatform struct {
    Arch        Architecture
    Imports     ir.ImportResolver
    Trampolines map[uint64]string
}

func NewPlatform(arch Architecture, imports ir.ImportResolver) *DefaultPlatform {
    return &DefaultPlatform {
        Arch        : arch,
        Imports     : imports,
        Trampolines : make(map[uint64]string),
    }
}

func (self *DefaultPlatform) Architecture() Architecture {
    return self.Arch
}

func (self *DefaultPlatform) ImplicitRegisters() []*ir.RegisterStorage {
    return []*ir.RegisterStorage { self.Arch.StackPointer() }
}

func (self *DefaultPlatform) ResolveTrampoline(addr uint64) *ir.ExternalProcedure {
    if self.Imports == nil {
        return nil
    } else if name, ok := self.Trampolines[addr]; ok {
        return self.Imports.ResolveImport(name)
    } else {
        return self.Imports.ResolveAddress(addr)
    }
}

// FlagGroupName builds the name of a flag group from the names of the
// individual flags, listed from bit 0 upwards.
func FlagGroupName(names string, mask uint32) string {
    buf := make([]byte, 0, len(names))
    for i := 0; i < len(names); i++ {
        if mask & (1 << i) != 0 {
            buf = append(buf, names[i])
        }
    }
    return string(buf)
}

// NewFlagGroups creates every flag group of a flag register.
func NewFlagGroups(reg *ir.RegisterStorage, names string) []*ir.FlagGroupStorage {
    n := uint32(1) << len(names)
    ret := make([]*ir.FlagGroupStorage, n)

    /* one group per non-empty mask */
    for m := uint32(1); m < n; m++ {
        ret[m] = &ir.FlagGroupStorage {
            Mask         : m,
            Name         : FlagGroupName(names, m),
            FlagRegister : reg,
        }
    }

    /* all done */
    return ret
}
