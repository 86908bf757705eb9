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


package flow

import (
    `strings`
    `sync`
    `testing`

    `github.com/apache/thrift/lib/go/thrift`
    `github.com/cloudwego/decompflow/internal/arch/generic`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/davecgh/go-spew/spew`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestRegisterSet_Operations(t *testing.T) {
    a := NewRegisterSet(generic.R2, generic.R0, generic.R1)
    b := NewRegisterSet(generic.R1, generic.R3)
    require.Equal(t, "r0 r1 r2", a.String())
    require.Equal(t, "r1", a.Intersect(b).String())
    require.Equal(t, "r0 r2", a.Minus(b).String())

    /* union reports growth */
    c := a.Clone()
    require.True(t, c.Union(b))
    require.False(t, c.Union(b))
    require.Equal(t, "r0 r1 r2 r3", c.String())
    require.Equal(t, "r0 r1 r2", a.String())
    require.True(t, a.Equal(NewRegisterSet(generic.R0, generic.R1, generic.R2)))
}

func TestBitRange_Union(t *testing.T) {
    var r BitRange
    require.True(t, r.IsEmpty())
    r = r.Union(BitRange { Lo: 8, Hi: 16 })
    require.Equal(t, BitRange { Lo: 8, Hi: 16 }, r)
    r = r.Union(BitRange { Lo: 0, Hi: 8 })
    require.Equal(t, "[0..15]", r.String())
}

func TestHellFlow(t *testing.T) {
    hf := HellFlow(generic.Arch)
    require.Len(t, hf.Trashed, 15)
    require.False(t, hf.Trashed.Has(generic.SP))
    require.True(t, hf.Preserved.Has(generic.SP))
    require.Len(t, hf.MayUse, 16)
    require.Equal(t, generic.Arch.AllFlags(), hf.TrashedFlags)
    require.Equal(t, BitRange { Lo: 0, Hi: 32 }, hf.BitsUsed[generic.R7])
}

func TestExternalFlow(t *testing.T) {
    fr := ir.NewFrame()
    ext := &ir.ExternalProcedure {
        Name      : "memcpy",
        Signature : &ir.Signature {
            Params     : []*ir.Identifier { fr.EnsureRegister(generic.R0), fr.EnsureRegister(generic.R1), fr.EnsureRegister(generic.R2) },
            Returns    : []*ir.Identifier { fr.EnsureRegister(generic.R0) },
            StackDelta : 4,
        },
    }

    /* parameters are used, the return value is trashed */
    ef := ExternalFlow(generic.Arch, ext)
    require.Equal(t, "r0 r1 r2", ef.MayUse.String())
    require.Equal(t, "r0", ef.Trashed.String())
    require.Len(t, ef.Preserved, 15)
    require.Equal(t, 4, ef.StackDelta)
    require.Equal(t, Returns, ef.Termination)

    /* no signature, but known to never return */
    ef = ExternalFlow(generic.Arch, &ir.ExternalProcedure { Name: "exit", Characteristics: ir.Characteristics { Terminates: true } })
    require.Equal(t, NeverReturns, ef.Termination)
    require.Len(t, ef.Trashed, 15)
}

func TestProcedureFlow_SameSummary(t *testing.T) {
    a := HellFlow(generic.Arch)
    b := a.Clone()
    require.True(t, a.SameSummary(b))
    b.Trashed.Remove(generic.R3)
    require.False(t, a.SameSummary(b), spew.Sdump(b.Trashed))
    require.True(t, a.Trashed.Has(generic.R3))
    c := a.Clone()
    c.Constants[generic.R3] = ir.Word(5, 32)
    require.False(t, a.SameSummary(c))
    d := c.Clone()
    d.Constants[generic.R3] = ir.Word(5, 32)
    require.True(t, c.SameSummary(d))
}

func TestProgramDataFlow_Concurrent(t *testing.T) {
    wg := sync.WaitGroup{}
    pdf := NewProgramDataFlow(generic.Arch)
    procs := make([]*ir.Procedure, 32)

    /* finalize in parallel, read while writing */
    for i := range procs {
        procs[i] = ir.NewProcedure("fn", uint64(0x1000 + i * 0x10))
        wg.Add(1)
        go func(p *ir.Procedure) {
            defer wg.Done()
            _ = pdf.Procedure(p)
            pdf.Finalize(NewProcedureFlow(p))
        }(procs[i])
    }

    /* every flow is visible in address order */
    wg.Wait()
    pfs := pdf.Procedures()
    require.Len(t, pfs, len(procs))
    for i, pf := range pfs {
        require.Same(t, procs[i], pf.Proc)
    }
    require.Panics(t, func() { pdf.Finalize(NewProcedureFlow(nil)) })
}

func sampleFlow() (*ir.Program, *ProgramDataFlow) {
    b := ir.NewBuilder("leaf", 0x1000)
    r0 := b.Reg(generic.R0)
    b.Assign(r0, ir.Add(r0, b.Reg(generic.R1)))
    b.Return()
    proc := b.Build()
    prog := ir.NewProgram()
    prog.AddProcedure(proc)

    /* a hand made summary */
    pdf := NewProgramDataFlow(generic.Arch)
    pf := NewProcedureFlow(proc)
    pf.Trashed.Add(generic.R0)
    pf.TrashedFlags = generic.FlagZ
    pf.Preserved.Add(generic.SP)
    pf.MayUse.Add(generic.R0)
    pf.MayUse.Add(generic.R1)
    pf.ByPass.Add(generic.R4)
    pf.LiveOut.Add(generic.R0)
    pf.BitsUsed[generic.R1] = BitRange { Lo: 0, Hi: 8 }
    pf.BitsUsed[generic.R0] = BitRange { Lo: 0, Hi: 32 }
    pf.Constants[generic.R2] = ir.Word(-1, 32)
    pf.Termination = Returns
    pdf.Finalize(pf)

    /* and one block flow */
    bf := NewBlockFlow(proc.Blocks[2])
    bf.LiveOut.Add(generic.R0)
    pdf.SetBlocks(bf)
    return prog, pdf
}

func TestEmit(t *testing.T) {
    sb := new(strings.Builder)
    prog, pdf := sampleFlow()
    pdf.Emit(sb, prog)
    out := sb.String()

    /* summary lines */
    assert.Contains(t, out, "// leaf\n")
    assert.Contains(t, out, "// MayUse: r0 r1\n")
    assert.Contains(t, out, "// LiveOut: r0\n")
    assert.Contains(t, out, "// BitsUsed: r0:[0..31] r1:[0..7]\n")
    assert.Contains(t, out, "// BypassIn: r4\n")
    assert.Contains(t, out, "// Trashed: r0 Z\n")
    assert.Contains(t, out, "// Preserved: sp\n")
    assert.Contains(t, out, "// Constants: r2:-0x1\n")
    assert.NotContains(t, out, "Terminates process")

    /* block listing with its flow */
    assert.Contains(t, out, "    r0 = r0 + r1\n")
    assert.Contains(t, out, "    // DataOut: r0\n")
}

func TestSnapshot_ThriftBinary(t *testing.T) {
    _, pdf := sampleFlow()
    snap := pdf.Snapshot()
    require.Len(t, snap.Procedures, 1)
    buf, err := Marshal(snap)
    require.NoError(t, err)

    /* the first field is the architecture name */
    mm := thrift.NewTMemoryBuffer()
    _, err = mm.Write(buf)
    require.NoError(t, err)
    proto := thrift.NewTBinaryProtocolTransport(mm)
    _, err = proto.ReadStructBegin()
    require.NoError(t, err)
    _, tt, id, err := proto.ReadFieldBegin()
    require.NoError(t, err)
    require.EqualValues(t, thrift.STRING, tt)
    require.Equal(t, int16(1), id)
    name, err := proto.ReadString()
    require.NoError(t, err)
    require.Equal(t, "generic32", name)

    /* decode it back */
    var out Snapshot
    require.NoError(t, Unmarshal(buf, &out))
    require.Equal(t, snap, &out, spew.Sdump(out))
    rec := out.Procedures[0]
    require.Equal(t, []string { "r0" }, rec.Trashed)
    require.Equal(t, int64(-1), rec.Constants["r2"])
    require.Equal(t, int8(Returns), rec.Termination)
    require.Equal(t, []*BitsRecord { { Register: "r0", Lo: 0, Hi: 32 }, { Register: "r1", Lo: 0, Hi: 8 } }, rec.BitsUsed)
}
