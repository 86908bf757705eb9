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


package main

import (
    `io/ioutil`
    `path/filepath`
    `strings`
    `testing`

    `github.com/chenzhuoyu/iasm/x86_64`
    `github.com/cloudwego/decompflow`
    `github.com/cloudwego/decompflow/cmd/decompflow/internal/config`
    `github.com/cloudwego/decompflow/internal/arch/amd64`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/signatures`
    `github.com/cloudwego/decompflow/internal/store`
    `github.com/stretchr/testify/require`
    `go.uber.org/zap`
)

const (
    _Base = 0x400000
)

func image() []byte {
    sub := x86_64.CreateLabel("sub")
    p := x86_64.DefaultArch.CreateProgram()
    defer p.Free()

    /* main calls sub, which sets rcx */
    p.CALL(sub)
    p.RET()
    p.Link(sub)
    p.MOVQ(7, x86_64.RCX)
    p.RET()
    return append([]byte(nil), p.Assemble(0)...)
}

func TestLift_FollowCalls(t *testing.T) {
    lf := &amd64.Lifter { Code: image(), Base: _Base }
    lib := signatures.NewLibrary(amd64.Arch)
    cfg := &config.Config { Entries: []config.Entry {{ Name: "main", Address: _Base }} }

    /* only the entry point */
    prog := lift(lf, lib, cfg, zap.NewNop())
    require.Len(t, prog.Procedures, 1)

    /* and the callee */
    cfg.FollowCalls = true
    prog = lift(lf, lib, cfg, zap.NewNop())
    require.Len(t, prog.Procedures, 2)
    require.Equal(t, "main", prog.Procedures[0].Name)
    require.Equal(t, "fn_400006", prog.Procedures[1].Name)
}

func TestWriteOutputs(t *testing.T) {
    dir := t.TempDir()
    lf := &amd64.Lifter { Code: image(), Base: _Base }
    cfg := &config.Config {
        Entries     : []config.Entry {{ Name: "main", Address: _Base }},
        FollowCalls : true,
        Output      : filepath.Join(dir, "listing.txt"),
        Snapshot    : filepath.Join(dir, "flows.bin"),
        Database    : filepath.Join(dir, "flows.db"),
    }

    /* analyze the image */
    prog := lift(lf, signatures.NewLibrary(amd64.Arch), cfg, zap.NewNop())
    ret := decompflow.Analyze(prog, amd64.Arch, decompflow.WithWorkers(1))
    require.Empty(t, ret.Failed)
    require.NoError(t, writeOutputs(cfg, prog, ret.Flows, zap.NewNop()))

    /* the listing */
    buf, err := ioutil.ReadFile(cfg.Output)
    require.NoError(t, err)
    require.True(t, strings.Contains(string(buf), "define main"), string(buf))

    /* the snapshot */
    buf, err = ioutil.ReadFile(cfg.Snapshot)
    require.NoError(t, err)
    var snap flow.Snapshot
    require.NoError(t, flow.Unmarshal(buf, &snap))
    require.Equal(t, "x86-64", snap.Arch)
    require.Len(t, snap.Procedures, 2)

    /* the database */
    db, err := store.Open(cfg.Database, zap.NewNop())
    require.NoError(t, err)
    defer db.Close()
    rec, err := db.Procedure(_Base)
    require.NoError(t, err)
    require.Contains(t, rec.Trashed, "rcx")
}
