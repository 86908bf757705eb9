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

// Package amd64 describes the x86-64 register file and lifts x86-64 machine
// code into flat procedures.
package amd64

import (
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/ir`
)

type _Arch struct{}

// Arch is the x86-64 architecture instance.
var Arch arch.Architecture = _Arch{}

func (_Arch) Name() string                                   { return "x86-64" }
func (_Arch) WordSize() int                                  { return 64 }
func (_Arch) Registers() []*ir.RegisterStorage               { return registers }
func (_Arch) RegisterByName(name string) *ir.RegisterStorage { return byName[name] }
func (_Arch) StackPointer() *ir.RegisterStorage              { return RSP }
func (_Arch) FlagRegister() *ir.RegisterStorage              { return Flags }
func (_Arch) FlagGroup(mask uint32) *ir.FlagGroupStorage     { return groups[mask] }
func (_Arch) CarryFlag() uint32                              { return FlagC }
func (_Arch) AllFlags() uint32                               { return _AllFlags }
func (_Arch) ReturnAddressBytes() int                        { return 8 }
func (_Arch) Semantics() arch.Semantics                      { return arch.Semantics { Carry: arch.CarryIsBorrow } }

func (_Arch) WholeRegister(r *ir.RegisterStorage) *ir.RegisterStorage {
    if r.Number < len(registers) {
        return registers[r.Number]
    } else {
        return r
    }
}

// Writes to 32-bit registers clear the upper half of the 64-bit register.
func (_Arch) ZeroExtendsOnWrite(r *ir.RegisterStorage) bool {
    return r.Bits == 32 && r.BitOffset == 0
}
