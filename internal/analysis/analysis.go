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


// Package analysis drives the data-flow passes over a whole program. The
// primary pipeline walks the strongly connected components of the call
// graph, callees first, so that every call is rewritten with the final flow
// of its callee.
package analysis

import (
    `sync`
    `time`

    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/interproc`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/opts`
    `go.uber.org/zap`
)

// DataFlowAnalysis owns the flow table of a program while it is analyzed.
type DataFlowAnalysis struct {
    Program  *ir.Program
    Platform arch.Platform
    Flows    *flow.ProgramDataFlow
    Options  opts.Options
    Listener diag.EventListener
    Log      *zap.Logger
    mu       sync.Mutex
    done     int
    failed   map[*ir.Procedure]bool
    graph    *interproc.CallGraph
}

func NewDataFlowAnalysis(prog *ir.Program, plat arch.Platform, options opts.Options) *DataFlowAnalysis {
    return &DataFlowAnalysis {
        Program  : prog,
        Platform : plat,
        Flows    : flow.NewProgramDataFlow(plat.Architecture()),
        Options  : options,
        Listener : diag.NullListener,
        Log      : zap.NewNop(),
        failed   : make(map[*ir.Procedure]bool),
    }
}

// Analyze runs the pipeline selected by the options.
func (self *DataFlowAnalysis) Analyze() *flow.ProgramDataFlow {
    switch self.Options.Pipeline {
        case opts.PipelineScc         : return self.AnalyzeProgram()
        case opts.PipelineIndependent : return self.AnalyzeIndependent()
        default                       : panic("analysis: invalid pipeline " + self.Options.Pipeline.String())
    }
}

// AnalyzeProgram analyzes the components of the call graph in dependency
// order, possibly in parallel, then computes the liveness of the whole
// program.
func (self *DataFlowAnalysis) AnalyzeProgram() *flow.ProgramDataFlow {
    now := time.Now()
    self.graph = interproc.BuildCallGraph(self.Program, self.Platform)
    comps := self.graph.Components()

    /* analyze every component */
    self.Listener.ShowStatus("analyzing procedures")
    self.schedule(comps, self.analyzeComponent)

    /* liveness needs every flow */
    self.liveness(comps)
    self.Log.Info("program analyzed",
        zap.Int("procs", len(self.Program.Procedures)),
        zap.Int("components", len(comps)),
        zap.Int("failed", len(self.failed)),
        zap.Duration("elapsed", time.Since(now)),
    )

    /* all done */
    return self.Flows
}

// AnalyzeIndependent analyzes the procedures one by one in program order.
// Callees that come later in the program are treated as unknown.
func (self *DataFlowAnalysis) AnalyzeIndependent() *flow.ProgramDataFlow {
    now := time.Now()
    self.graph = interproc.BuildCallGraph(self.Program, self.Platform)

    /* one procedure at a time */
    self.Listener.ShowStatus("analyzing procedures")
    for _, p := range self.Program.Procedures {
        self.analyzeComponent(&interproc.Component { Procs: []*ir.Procedure { p } })
    }

    /* liveness needs every flow */
    self.liveness(self.graph.Components())
    self.Log.Info("program analyzed",
        zap.Int("procs", len(self.Program.Procedures)),
        zap.Int("failed", len(self.failed)),
        zap.Duration("elapsed", time.Since(now)),
    )

    /* all done */
    return self.Flows
}

// Failed lists the procedures whose analysis failed, by address.
func (self *DataFlowAnalysis) Failed() []*ir.Procedure {
    self.mu.Lock()
    defer self.mu.Unlock()

    /* collect in program order */
    ret := make([]*ir.Procedure, 0, len(self.failed))
    for _, p := range self.Program.Procedures {
        if self.failed[p] {
            ret = append(ret, p)
        }
    }

    /* all done */
    return ret
}

func (self *DataFlowAnalysis) liveness(comps []*interproc.Component) {
    ctx := interproc.NewContext(self.Platform, self.Program, self.Flows)
    ok := self.guard(nil, "liveness", func() {
        interproc.Liveness {
            Context       : ctx,
            Graph         : self.graph,
            Failed        : self.failed,
            MaxIterations : self.Options.MaxIterations,
        }.Apply(comps)
    })

    /* the flows are still usable without liveness */
    if !ok {
        self.Log.Warn("liveness analysis failed, signatures are not pruned")
    }
}

func (self *DataFlowAnalysis) markFailed(p *ir.Procedure) {
    self.mu.Lock()
    self.failed[p] = true
    self.mu.Unlock()
}

func (self *DataFlowAnalysis) isFailed(p *ir.Procedure) bool {
    self.mu.Lock()
    defer self.mu.Unlock()
    return self.failed[p]
}

func (self *DataFlowAnalysis) progress(n int) {
    self.mu.Lock()
    self.done += n
    done := self.done
    self.mu.Unlock()
    self.Listener.ShowProgress("analyzing procedures", done, len(self.Program.Procedures))
}

func (self *DataFlowAnalysis) addInductionVariables(vars map[*ir.Identifier]*ir.LinearInductionVariable) {
    self.mu.Lock()
    defer self.mu.Unlock()

    /* the program table is shared between workers */
    for id, iv := range vars {
        self.Program.InductionVariables[id] = iv
    }
}
