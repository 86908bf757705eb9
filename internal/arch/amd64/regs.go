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

package amd64

import (
    `strings`

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/ir`
    `golang.org/x/arch/x86/x86asm`
)

const (
    FlagC uint32 = 1 << iota
    FlagZ
    FlagS
    FlagO
)

const (
    _FlagNames = "CZSO"
)

var fullRegisters = [...]x86asm.Reg {
    x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RBX,
    x86asm.RSP, x86asm.RBP, x86asm.RSI, x86asm.RDI,
    x86asm.R8,  x86asm.R9,  x86asm.R10, x86asm.R11,
    x86asm.R12, x86asm.R13, x86asm.R14, x86asm.R15,
}

var dwordRegisters = [...]x86asm.Reg {
    x86asm.EAX, x86asm.ECX, x86asm.EDX,  x86asm.EBX,
    x86asm.ESP, x86asm.EBP, x86asm.ESI,  x86asm.EDI,
    x86asm.R8L, x86asm.R9L, x86asm.R10L, x86asm.R11L,
    x86asm.R12L, x86asm.R13L, x86asm.R14L, x86asm.R15L,
}

var wordRegisters = [...]x86asm.Reg {
    x86asm.AX,  x86asm.CX,  x86asm.DX,   x86asm.BX,
    x86asm.SP,  x86asm.BP,  x86asm.SI,   x86asm.DI,
    x86asm.R8W, x86asm.R9W, x86asm.R10W, x86asm.R11W,
    x86asm.R12W, x86asm.R13W, x86asm.R14W, x86asm.R15W,
}

var byteRegisters = [...]x86asm.Reg {
    x86asm.AL,  x86asm.CL,  x86asm.DL,   x86asm.BL,
    x86asm.SPB, x86asm.BPB, x86asm.SIB,  x86asm.DIB,
    x86asm.R8B, x86asm.R9B, x86asm.R10B, x86asm.R11B,
    x86asm.R12B, x86asm.R13B, x86asm.R14B, x86asm.R15B,
}

var highRegisters = [...]x86asm.Reg {
    x86asm.AH, x86asm.CH, x86asm.DH, x86asm.BH,
}

var (
    byName      = make(map[string]*ir.RegisterStorage)
    registerTab = make(map[x86asm.Reg]*ir.RegisterStorage)
    registers   = buildRegisters()
)

var (
    Flags  = &ir.RegisterStorage { Name: "rflags", Number: len(fullRegisters), Bits: 64 }
    groups = arch.NewFlagGroups(Flags, _FlagNames)
)

var iasmTable = map[x86_64.Register64]x86asm.Reg {
    x86_64.RAX : x86asm.RAX,
    x86_64.RCX : x86asm.RCX,
    x86_64.RDX : x86asm.RDX,
    x86_64.RBX : x86asm.RBX,
    x86_64.RSP : x86asm.RSP,
    x86_64.RBP : x86asm.RBP,
    x86_64.RSI : x86asm.RSI,
    x86_64.RDI : x86asm.RDI,
    x86_64.R8  : x86asm.R8,
    x86_64.R9  : x86asm.R9,
    x86_64.R10 : x86asm.R10,
    x86_64.R11 : x86asm.R11,
    x86_64.R12 : x86asm.R12,
    x86_64.R13 : x86asm.R13,
    x86_64.R14 : x86asm.R14,
    x86_64.R15 : x86asm.R15,
}

func buildRegisters() []*ir.RegisterStorage {
    ret := make([]*ir.RegisterStorage, 0, len(fullRegisters))
    for i, r := range fullRegisters {
        ret = append(ret, addRegister(r, regName(r, ""), i, 0, 64))
    }

    /* 32-bit sub-registers */
    for i, r := range dwordRegisters {
        addRegister(r, regName(fullRegisters[i], "d"), i, 0, 32)
    }

    /* 16-bit sub-registers */
    for i, r := range wordRegisters {
        addRegister(r, regName(fullRegisters[i], "w"), i, 0, 16)
    }

    /* low 8-bit sub-registers */
    for i, r := range byteRegisters {
        addRegister(r, regName(fullRegisters[i], "b"), i, 0, 8)
    }

    /* high 8-bit sub-registers */
    for i, r := range highRegisters {
        addRegister(r, strings.ToLower(r.String()), i, 8, 8)
    }

    /* all done */
    return ret
}

func addRegister(r x86asm.Reg, name string, num int, off int, bits int) *ir.RegisterStorage {
    rs := &ir.RegisterStorage {
        Name      : name,
        Bits      : bits,
        Number    : num,
        BitOffset : off,
    }

    /* add to register tables */
    byName[name] = rs
    registerTab[r] = rs
    return rs
}

var legacyNames = map[string][3]string {
    "rax": { "eax", "ax", "al" },
    "rcx": { "ecx", "cx", "cl" },
    "rdx": { "edx", "dx", "dl" },
    "rbx": { "ebx", "bx", "bl" },
    "rsp": { "esp", "sp", "spl" },
    "rbp": { "ebp", "bp", "bpl" },
    "rsi": { "esi", "si", "sil" },
    "rdi": { "edi", "di", "dil" },
}

func regName(full x86asm.Reg, suffix string) string {
    name := strings.ToLower(full.String())
    legacy, ok := legacyNames[name]

    /* numbered registers take a width suffix */
    if !ok {
        return name + suffix
    }

    /* legacy registers have their own names */
    switch suffix {
        case "d" : return legacy[0]
        case "w" : return legacy[1]
        case "b" : return legacy[2]
        default  : return name
    }
}

// Register maps a decoded register to its storage.
func Register(r x86asm.Reg) *ir.RegisterStorage {
    return registerTab[r]
}

// Register64 maps an assembler register to its storage.
func Register64(r x86_64.Register64) *ir.RegisterStorage {
    return registerTab[iasmTable[r]]
}

// Group returns the flag group for a mask.
func Group(mask uint32) *ir.FlagGroupStorage {
    return groups[mask]
}

var (
    RAX = registerTab[x86asm.RAX]
    RCX = registerTab[x86asm.RCX]
    RDX = registerTab[x86asm.RDX]
    RBX = registerTab[x86asm.RBX]
    RSP = registerTab[x86asm.RSP]
    RBP = registerTab[x86asm.RBP]
    RSI = registerTab[x86asm.RSI]
    RDI = registerTab[x86asm.RDI]
)
