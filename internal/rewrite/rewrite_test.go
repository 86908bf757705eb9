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


package rewrite

import (
    `testing`

    `github.com/cloudwego/decompflow/internal/arch/amd64`
    `github.com/cloudwego/decompflow/internal/arch/generic`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
    `golang.org/x/arch/x86/x86asm`
)

func statements(proc *ir.Procedure) []string {
    var ret []string
    proc.Statements(func(s *ir.Statement) { ret = append(ret, s.String()) })
    return ret
}

// longAdd builds r1:r0 += r3:r2, with extra statements placed between the
// two halves.
func longAdd(between func(b *ir.Builder)) *ir.Procedure {
    b := ir.NewBuilder("ladd", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    r2 := b.Reg(generic.R2)
    r3 := b.Reg(generic.R3)
    c := b.Reg(generic.Group(generic.FlagC))
    b.Assign(r0, ir.Add(r0, r2))
    b.Assign(c, ir.Cond(r0))
    between(b)
    b.Assign(r1, ir.Add(ir.Add(r1, r3), &ir.Cast { Expr: c, Bits: 32 }))
    b.Return()
    return b.Build()
}

func TestLongAdd_Fused(t *testing.T) {
    proc := longAdd(func(*ir.Builder) {})
    require.True(t, LongAdd { Arch: generic.Arch }.Apply(proc))
    require.Equal(t, []string {
        "tmp1 = SEQ(r1, r0) + SEQ(r3, r2)",
        "r0 = SLICE(tmp1, word32, 0)",
        "C = cond(r0)",
        "r1 = SLICE(tmp1, word32, 32)",
        "return",
    }, statements(proc))
}

func TestLongAdd_Subtraction(t *testing.T) {
    b := ir.NewBuilder("lsub", 0x1000)
    eax := b.Reg(amd64.Register(x86asm.EAX))
    edx := b.Reg(amd64.Register(x86asm.EDX))
    ecx := b.Reg(amd64.Register(x86asm.ECX))
    b.Assign(eax, ir.Sub(eax, ecx))
    b.Assign(b.Reg(amd64.Group(amd64.FlagC | amd64.FlagZ | amd64.FlagS | amd64.FlagO)), ir.Cond(eax))
    b.Assign(edx, ir.Sub(ir.Sub(edx, ir.Word(0, 32)), &ir.Cast { Expr: b.Reg(amd64.Group(amd64.FlagC)), Bits: 32 }))
    b.Return()
    proc := b.Build()

    /* sub / sbb pair */
    require.True(t, LongAdd { Arch: amd64.Arch }.Apply(proc))
    as := proc.Blocks[2].Statements[0].Instr.(*ir.Assignment)
    require.Equal(t, 64, as.Dst.Bits)
    assert.Equal(t, "SEQ(edx, eax) - SEQ(0x0, ecx)", as.Src.String())
}

func TestLongAdd_Rejected(t *testing.T) {
    tests := []struct {
        name    string
        between func(b *ir.Builder)
    } {
        {
            name    : "flags clobbered",
            between : func(b *ir.Builder) { b.Assign(b.Reg(generic.Group(generic.FlagZ)), ir.Cond(b.Reg(generic.R5))) },
        },
        {
            name    : "operand changed",
            between : func(b *ir.Builder) { b.Assign(b.Reg(generic.R3), ir.Word(1, 32)) },
        },
        {
            name    : "call",
            between : func(b *ir.Builder) { b.Call(b.Reg(generic.R6), 0) },
        },
    }
    for _, tc := range tests {
        t.Run(tc.name, func(t *testing.T) {
            proc := longAdd(tc.between)
            before := statements(proc)
            require.False(t, LongAdd { Arch: generic.Arch }.Apply(proc))
            require.Equal(t, before, statements(proc))
        })
    }
}

func TestLongAdd_HighDependsOnLow(t *testing.T) {
    b := ir.NewBuilder("dep", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    c := b.Reg(generic.Group(generic.FlagC))
    b.Assign(r0, ir.Add(r0, r1))
    b.Assign(c, ir.Cond(r0))
    b.Assign(r1, ir.Add(ir.Add(r1, r0), &ir.Cast { Expr: c, Bits: 32 }))
    b.Return()
    require.False(t, LongAdd { Arch: generic.Arch }.Apply(b.Build()))
}

func TestAliases_SubRegisters(t *testing.T) {
    b := ir.NewBuilder("alias", 0x1000)
    eax := b.Reg(amd64.Register(x86asm.EAX))
    ebx := b.Reg(amd64.Register(x86asm.EBX))
    al := b.Reg(amd64.Register(x86asm.AL))
    ah := b.Reg(amd64.Register(x86asm.AH))
    rcx := b.Reg(amd64.RCX)
    b.Assign(eax, ir.Add(eax, ebx))
    b.Assign(al, ir.Word(1, 8))
    b.Assign(rcx, &ir.Cast { Expr: ah, Bits: 64 })
    b.Return()
    proc := b.Build()

    /* everything is expressed over the whole registers */
    require.True(t, Aliases { Arch: amd64.Arch }.Apply(proc))
    require.Equal(t, []string {
        "rax = (word64) (SLICE(rax, word32, 0) + SLICE(rbx, word32, 0))",
        "rax = DPB(rax, 0x1, 0)",
        "rcx = (word64) SLICE(rax, word8, 8)",
        "return",
    }, statements(proc))

    /* nothing left to do */
    require.False(t, Aliases { Arch: amd64.Arch }.Apply(proc))
}

func TestAliases_WholeRegisters(t *testing.T) {
    b := ir.NewBuilder("whole", 0x1000)
    r0 := b.Reg(generic.R0)
    b.Assign(r0, ir.Add(r0, ir.Word(1, 32)))
    b.Return()
    require.False(t, Aliases { Arch: generic.Arch }.Apply(b.Build()))
}

func TestIntraBlockDeadFlags(t *testing.T) {
    b := ir.NewBuilder("flags", 0x1000)
    r0 := b.Reg(generic.R0)
    r1 := b.Reg(generic.R1)
    nzcv := b.Reg(generic.Group(generic.FlagN | generic.FlagZ | generic.FlagC | generic.FlagV))
    zc := b.Reg(generic.Group(generic.FlagZ | generic.FlagC))
    z := b.Reg(generic.Group(generic.FlagZ))
    c := b.Reg(generic.Group(generic.FlagC))
    b.Assign(nzcv, ir.Cond(r0))
    b.Assign(zc, ir.Cond(r1))
    b.Assign(r0, ir.Add(r0, &ir.Cast { Expr: c, Bits: 32 }))
    b.Assign(nzcv, ir.Cond(r0))
    b.Assign(z, ir.Cond(r1))
    b.Branch(ir.Test(ir.CcEQ, z), "out")
    b.Label("out")
    b.Return()
    proc := b.Build()

    /* only the first definition is overwritten before being read */
    require.Equal(t, 1, IntraBlockDeadFlags { Arch: generic.Arch }.Apply(proc))
    require.Equal(t, []string {
        "ZC = cond(r1)",
        "r0 = r0 + ((word32) C)",
        "NZCV = cond(r0)",
        "Z = cond(r1)",
        "branch Test(EQ,Z)",
        "return",
    }, statements(proc))
}

func TestIntraBlockDeadFlags_Calls(t *testing.T) {
    b := ir.NewBuilder("calls", 0x1000)
    nzcv := b.Reg(generic.Group(generic.FlagN | generic.FlagZ | generic.FlagC | generic.FlagV))
    b.Assign(nzcv, ir.Cond(b.Reg(generic.R0)))
    b.Call(b.Reg(generic.R5), 0)
    b.Assign(nzcv, ir.Cond(b.Reg(generic.R1)))
    b.Return()
    require.Zero(t, IntraBlockDeadFlags { Arch: generic.Arch }.Apply(b.Build()))
}
