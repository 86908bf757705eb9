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

// Package generic provides a small 32-bit load/store architecture with
// sixteen general purpose registers and NZCV flags.
package generic

import (
    `fmt`

    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/ir`
)

const (
    FlagN uint32 = 1 << iota
    FlagZ
    FlagC
    FlagV
)

const (
    _FlagNames = "NZCV"
    _NumRegs   = 16
)

var (
    regs  = make([]*ir.RegisterStorage, _NumRegs)
    names = make(map[string]*ir.RegisterStorage)
)

var (
    R0  = reg(0)
    R1  = reg(1)
    R2  = reg(2)
    R3  = reg(3)
    R4  = reg(4)
    R5  = reg(5)
    R6  = reg(6)
    R7  = reg(7)
    R8  = reg(8)
    R9  = reg(9)
    R10 = reg(10)
    R11 = reg(11)
    R12 = reg(12)
    R13 = reg(13)
    R14 = reg(14)
    SP  = reg(15)
)

var (
    Flags  = &ir.RegisterStorage { Name: "nzcv", Number: _NumRegs, Bits: 32 }
    groups = arch.NewFlagGroups(Flags, _FlagNames)
)

func reg(i int) *ir.RegisterStorage {
    r := &ir.RegisterStorage {
        Name   : fmt.Sprintf("r%d", i),
        Bits   : 32,
        Number : i,
    }

    /* the last register is the stack pointer */
    if i == _NumRegs - 1 {
        r.Name = "sp"
    }

    /* register the register */
    regs[i] = r
    names[r.Name] = r
    return r
}

// Group returns the flag group for a mask.
func Group(mask uint32) *ir.FlagGroupStorage {
    return groups[mask]
}

type _Arch struct{}

// Arch is the generic architecture instance.
var Arch arch.Architecture = _Arch{}

func (_Arch) Name() string                                    { return "generic32" }
func (_Arch) WordSize() int                                   { return 32 }
func (_Arch) Registers() []*ir.RegisterStorage                { return regs }
func (_Arch) RegisterByName(name string) *ir.RegisterStorage  { return names[name] }
func (_Arch) WholeRegister(r *ir.RegisterStorage) *ir.RegisterStorage { return r }
func (_Arch) ZeroExtendsOnWrite(*ir.RegisterStorage) bool     { return false }
func (_Arch) StackPointer() *ir.RegisterStorage               { return SP }
func (_Arch) FlagRegister() *ir.RegisterStorage               { return Flags }
func (_Arch) FlagGroup(mask uint32) *ir.FlagGroupStorage      { return groups[mask] }
func (_Arch) CarryFlag() uint32                               { return FlagC }
func (_Arch) AllFlags() uint32                                { return FlagN | FlagZ | FlagC | FlagV }
func (_Arch) ReturnAddressBytes() int                         { return 0 }
func (_Arch) Semantics() arch.Semantics                       { return arch.Semantics { Carry: arch.CarryIsNotBorrow } }
