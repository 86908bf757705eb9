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


package analysis

import (
    `fmt`
    `time`

    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/interproc`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/rewrite`
    `github.com/cloudwego/decompflow/internal/ssa`
    `go.uber.org/zap`
)

// analyzeComponent runs every stage over the members of a component. The
// component is owned by the calling worker until it returns.
func (self *DataFlowAnalysis) analyzeComponent(c *interproc.Component) {
    now := time.Now()
    ctx := interproc.NewContext(self.Platform, self.Program, self.Flows)
    states := make([]*ssa.State, 0, len(c.Procs))

    /* convert every member into SSA form */
    for _, p := range c.Procs {
        var st *ssa.State
        if self.guard(p, "ssa construction", func() { st = self.prepare(ctx, p) }) {
            states = append(states, st)
        } else {
            self.fail(ctx, p)
        }
    }

    /* register usage of the whole component */
    ok := self.guard(c.Procs[0], "register usage", func() {
        failed := interproc.Solver {
            Context          : ctx,
            MaxIterations    : self.Options.MaxIterations,
            MaxSccIterations : self.Options.MaxSccIterations,
            Guard            : func(p *ir.Procedure, fn func()) bool { return self.guard(p, "register usage", fn) },
        }.Apply(states)

        /* drop the members that failed */
        states = self.survivors(ctx, states, failed)
    })

    /* the component as a whole failed */
    if !ok {
        for _, st := range states {
            self.fail(ctx, st.Proc)
        }
        states = nil
    }

    /* publish the flows, callers may start now */
    for _, st := range states {
        self.finalize(ctx, st.Proc)
    }

    /* rewrite the calls, then leave SSA form */
    for _, st := range states {
        if !self.guard(st.Proc, "call rewriting", func() { self.rewriteCalls(ctx, st) }) {
            self.markFailed(st.Proc)
        } else if !self.guard(st.Proc, "simplification", func() { self.simplify(st) }) {
            self.markFailed(st.Proc)
        }
    }

    /* report the progress */
    self.progress(len(c.Procs))
    self.Log.Debug("component analyzed",
        zap.Strings("procs", procedureNames(c.Procs)),
        zap.Bool("recursive", c.Recursive),
        zap.Duration("elapsed", time.Since(now)),
    )
}

// prepare applies the flat rewriters and builds the SSA form of a
// procedure, up to the point where its register usage can be computed.
func (self *DataFlowAnalysis) prepare(ctx *interproc.Context, p *ir.Procedure) *ssa.State {
    a := ctx.Arch
    rewrite.LongAdd { Arch: a }.Apply(p)
    rewrite.Aliases { Arch: a }.Apply(p)
    rewrite.IntraBlockDeadFlags { Arch: a }.Apply(p)

    /* build the SSA form */
    st := ssa.Build(p, ssa.BuildConfig {
        Arch               : a,
        Calls              : ctx,
        AddUseInstructions : true,
    })

    /* constants first, they may resolve indirect calls */
    ssa.ConditionCodeElimination{}.Apply(st)
    self.valueProp().Apply(st)
    interproc.IndirectCallRewriter { Context: ctx, Listener: self.Listener }.Apply(st)

    /* stack slots become variables */
    if self.Options.RenameFrameAccesses && ssa.RenameFrameAccesses(st) {
        self.valueProp().Apply(st)
    }

    /* dead temporaries must not count as uses */
    self.deadCode().Apply(st)
    validate(st)
    return st
}

func (self *DataFlowAnalysis) rewriteCalls(ctx *interproc.Context, st *ssa.State) {
    interproc.CallRewriter { Context: ctx }.Apply(st)
    validate(st)
}

// simplify cleans up a procedure whose calls are rewritten and takes it out
// of SSA form.
func (self *DataFlowAnalysis) simplify(st *ssa.State) {
    dce := self.deadCode()
    dce.Apply(st)
    self.valueProp().Apply(st)
    dce.Apply(st)

    /* build expression trees */
    ssa.Coalescer { MaxIterations: self.Options.MaxIterations }.Apply(st)
    dce.Apply(st)

    /* loops */
    ivs := ssa.FindInductionVariables(st)
    if self.Options.StrengthReduction && len(ivs) != 0 {
        ivs = append(ivs, ssa.StrengthReduction{}.Apply(st, ivs)...)
        dce.Apply(st)
    }

    /* leave SSA form */
    validate(st)
    webs := ssa.WebBuilder{}.Apply(st)
    ssa.Teardown{}.Apply(st, webs)
    self.addInductionVariables(inductionVariables(ivs, webs))
}

// finalize publishes the flow of a member. The signature is provisional
// until the liveness of the program is known.
func (self *DataFlowAnalysis) finalize(ctx *interproc.Context, p *ir.Procedure) {
    pf := ctx.Current[p]
    pf.LiveOut = pf.Trashed.Clone()

    /* declared signatures win */
    if p.Signature != nil && p.Signature.Declared {
        pf.Signature = p.Signature
    } else {
        pf.Signature = interproc.InferSignature(ctx.Arch, p, pf)
        p.Signature = pf.Signature
    }

    /* make it visible */
    self.Flows.Finalize(pf)
}

// fail gives a procedure the hell flow, so that its callers assume the
// worst.
func (self *DataFlowAnalysis) fail(ctx *interproc.Context, p *ir.Procedure) {
    pf := flow.HellFlow(ctx.Arch)
    pf.Proc = p
    ctx.Current[p] = pf
    self.Flows.Finalize(pf)
    self.markFailed(p)
}

func (self *DataFlowAnalysis) survivors(ctx *interproc.Context, states []*ssa.State, failed map[*ir.Procedure]bool) []*ssa.State {
    ret := states[:0]
    for _, st := range states {
        if failed[st.Proc] {
            self.fail(ctx, st.Proc)
        } else {
            ret = append(ret, st)
        }
    }
    return ret
}

func (self *DataFlowAnalysis) valueProp() ssa.ValuePropagation {
    return ssa.ValuePropagation { MaxIterations: self.Options.MaxIterations }
}

func (self *DataFlowAnalysis) deadCode() ssa.DeadCodeElimination {
    return ssa.DeadCodeElimination { MaxIterations: self.Options.MaxIterations }
}

// guard runs one stage of the analysis, and reports a failure of the stage
// to the listener instead of letting it escape.
func (self *DataFlowAnalysis) guard(p *ir.Procedure, stage string, fn func()) (ok bool) {
    defer func() {
        if v := recover(); v != nil {
            err := failure(p, stage, v)
            self.Listener.Error(location(p, err), err, stage + " failed")
            ok = false
        }
    }()
    fn()
    return true
}

func failure(p *ir.Procedure, stage string, v interface{}) error {
    err := diag.Recover(v)
    name := "<program>"

    /* typed errors carry their own context */
    switch err.(type) {
        case diag.StatementError   : return err
        case diag.StructuralError  : return err
        case diag.ConvergenceError : return err
    }

    /* everything else is a broken invariant */
    if p != nil {
        name = p.Name
    }

    /* wrap with the stage */
    return diag.StructuralError {
        Proc   : name,
        Reason : fmt.Sprintf("%s: %v", stage, err),
    }
}

func location(p *ir.Procedure, err error) diag.Location {
    if se, ok := err.(diag.StatementError); ok {
        return diag.StatementLocation(se.Proc, se.Addr)
    } else if p != nil {
        return diag.ProcedureLocation(p.Name)
    } else {
        return diag.ProcedureLocation("<program>")
    }
}

func validate(st *ssa.State) {
    if err := st.Validate(); err != nil {
        diag.Fail(err)
    }
}

// inductionVariables maps the induction variables found in SSA form to the
// variables that replaced them. Variables removed as dead are skipped.
func inductionVariables(ivs []*ssa.InductionVariable, webs map[*ir.Identifier]*ssa.Web) map[*ir.Identifier]*ir.LinearInductionVariable {
    ret := make(map[*ir.Identifier]*ir.LinearInductionVariable, len(ivs))
    for _, iv := range ivs {
        if w := webs[iv.Linear.Phi]; w != nil {
            ret[w.Var] = &ir.LinearInductionVariable {
                Phi   : w.Var,
                Init  : renameVariables(iv.Linear.Init, webs),
                Step  : iv.Linear.Step,
                Bound : renameVariables(iv.Linear.Bound, webs),
            }
        }
    }
    return ret
}

func renameVariables(e ir.Expression, webs map[*ir.Identifier]*ssa.Web) ir.Expression {
    if e == nil {
        return nil
    }

    /* replace the SSA values with their variables */
    ret := ir.Clone(e)
    ir.WalkSlots(&ret, func(p *ir.Expression) {
        if id, ok := (*p).(*ir.Identifier); ok && webs[id] != nil {
            *p = webs[id].Var
        }
    })

    /* all done */
    return ret
}

func procedureNames(pp []*ir.Procedure) []string {
    ret := make([]string, len(pp))
    for i, p := range pp {
        ret[i] = p.Name
    }
    return ret
}
