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


package decompflow

import (
    `testing`

    `github.com/cloudwego/decompflow/internal/arch/generic`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/signatures`
    `github.com/stretchr/testify/require`
)

const imports = `
arch: generic32
imports:
  - name: memcpy
    address: 0x9000
    params: [r0, r1, r2]
    returns: [r0]
`

func program(procs ...*ir.Procedure) *ir.Program {
    prog := ir.NewProgram()
    for _, p := range procs {
        prog.AddProcedure(p)
    }
    return prog
}

func caller() *ir.Procedure {
    b := ir.NewBuilder("main", 0x1000)
    b.Call(ir.Word(0x9000, 32), 0)
    b.Store(ir.Word(0x100, 32), b.Reg(generic.R0))
    b.Return()
    return b.Build()
}

func TestAnalyze_ImportResolver(t *testing.T) {
    lib := signatures.NewLibrary(generic.Arch)
    require.NoError(t, lib.Parse([]byte(imports)))

    /* the import is resolved through the library */
    main := caller()
    rec := new(diag.Recorder)
    ret := Analyze(program(main), generic.Arch, WithWorkers(1), WithImportResolver(lib), WithEventListener(rec))
    require.Empty(t, ret.Failed)
    require.Empty(t, rec.Warnings)

    /* main forwards the parameters of memcpy */
    pf := ret.Flows.Procedure(main)
    require.Equal(t, "r0 r1 r2", pf.MayUse.String())
    require.Equal(t, "r0", pf.Trashed.String())
}

func TestAnalyze_UnknownImport(t *testing.T) {
    main := caller()
    rec := new(diag.Recorder)
    ret := Analyze(program(main), generic.Arch, WithWorkers(1), WithEventListener(rec))

    /* without a resolver the call is unknown */
    require.Empty(t, ret.Failed)
    require.Len(t, ret.Flows.Procedure(main).Trashed, 15)
}

func TestAnalyze_Pipelines(t *testing.T) {
    for _, p := range []Pipeline { PipelineScc, PipelineIndependent } {
        b := ir.NewBuilder("leaf", 0x2000)
        b.Assign(b.Reg(generic.R0), ir.Add(b.Reg(generic.R1), ir.Word(1, 32)))
        b.Return()
        leaf := b.Build()

        /* both pipelines agree on a leaf */
        ret := Analyze(program(leaf), generic.Arch, WithPipeline(p), WithFrameRenaming(false), WithStrengthReduction(false))
        require.Empty(t, ret.Failed, p.String())
        pf := ret.Flows.Procedure(leaf)
        require.Equal(t, "r0", pf.Trashed.String(), p.String())
        require.Equal(t, "r1", pf.MayUse.String(), p.String())
    }
}

func TestAnalyze_ConvergenceError(t *testing.T) {
    b := ir.NewBuilder("count", 0x3000)
    r0 := b.Reg(generic.R0)
    b.Label("loop")
    b.Assign(r0, ir.Add(r0, ir.Word(1, 32)))
    b.Branch(ir.Compare(ir.OpLt, r0, ir.Word(10, 32)), "loop")
    b.Return()
    proc := b.Build()

    /* a single iteration is never enough to confirm a fixed point */
    rec := new(diag.Recorder)
    ret := Analyze(program(proc), generic.Arch, WithMaxSccIterations(1), WithEventListener(rec))
    require.Equal(t, []*ir.Procedure { proc }, ret.Failed)
    require.Len(t, rec.Errors, 1)

    /* the error kinds are visible from here */
    var err ConvergenceError
    require.ErrorAs(t, rec.Errors[0].Err, &err)
    require.Equal(t, "count", err.Unit)
}

func TestOptions_Invalid(t *testing.T) {
    require.Panics(t, func() { WithWorkers(0) })
    require.Panics(t, func() { WithMaxIterations(0) })
    require.Panics(t, func() { WithMaxSccIterations(-1) })
}
