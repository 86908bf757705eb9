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


// Package decompflow recovers the data flow of lifted machine code: it builds
// SSA form, propagates values, computes which registers every procedure uses
// and trashes, rewrites calls with those facts, and turns the result back
// into structured expressions.
package decompflow

import (
    `github.com/cloudwego/decompflow/internal/analysis`
    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/opts`
    `go.uber.org/zap`
)

type (
    Program         = ir.Program
    Procedure       = ir.Procedure
    Architecture    = arch.Architecture
    Platform        = arch.Platform
    ImportResolver  = ir.ImportResolver
    EventListener   = diag.EventListener
    ProgramDataFlow = flow.ProgramDataFlow
    Pipeline        = opts.Pipeline
)

const (
    PipelineScc         = opts.PipelineScc
    PipelineIndependent = opts.PipelineIndependent
)

// Result is the outcome of an analysis.
type Result struct {
    Flows  *flow.ProgramDataFlow
    Failed []*ir.Procedure
}

// Analyze rewrites every procedure of the program in place and returns the
// flow table. Procedures that cannot be analyzed are reported to the event
// listener, listed in Result.Failed and given the most conservative flow, the
// rest of the program is analyzed regardless.
func Analyze(prog *ir.Program, a arch.Architecture, options ...Option) *Result {
    c := _Config {
        Options  : opts.GetDefaultOptions(),
        listener : diag.NullListener,
        log      : zap.NewNop(),
    }

    /* apply the options */
    for _, fn := range options {
        fn(&c)
    }

    /* the default platform */
    if c.platform == nil {
        c.platform = arch.NewPlatform(a, c.imports)
    }

    /* run the analysis */
    dfa := analysis.NewDataFlowAnalysis(prog, c.platform, c.Options)
    dfa.Listener = c.listener
    dfa.Log = c.log

    /* all done */
    return &Result {
        Flows  : dfa.Analyze(),
        Failed : dfa.Failed(),
    }
}
