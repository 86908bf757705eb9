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


package interproc

import (
    `strings`

    `github.com/cloudwego/decompflow/internal/arch`
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/flow`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/ssa`
)

// OptimisticFlow is the starting point of the fixed point over a recursive
// component: the procedure never returns, preserves every register and
// reads none of them. Each round of the fixed point can only make the flow
// more pessimistic.
func OptimisticFlow(a arch.Architecture, proc *ir.Procedure) *flow.ProcedureFlow {
    pf := flow.NewProcedureFlow(proc)
    pf.Termination = flow.NeverReturns
    pf.StackDelta = a.ReturnAddressBytes()
    pf.PreservedFlags = a.AllFlags()

    /* every register is preserved */
    for _, r := range a.Registers() {
        pf.Preserved.Add(r)
    }

    /* all done */
    return pf
}

// Summarize computes the flow of a procedure in SSA form, using the flows
// of its callees known to the context.
func Summarize(ctx *Context, st *ssa.State, maxIter int) *flow.ProcedureFlow {
    term, ends := FindTermination(ctx, st.Proc)
    pf := flow.NewProcedureFlow(st.Proc)
    pf.Termination = term
    pf.StackDelta = ctx.Arch.ReturnAddressBytes()

    /* declared to never return */
    if st.Proc.Characteristics.Terminates {
        pf.Termination = flow.NeverReturns
    }

    /* registers written and read */
    TrashedRegisterFinder { Context: ctx, Ends: ends, MaxIterations: maxIter }.Apply(st, pf)
    UsedRegisterFinder { Context: ctx }.Apply(st, pf)
    return pf
}

// Join merges the flow computed in one round of a fixed point with the flow
// of the previous round, so that flows only grow: trashed and used
// registers accumulate, constants that disagree are dropped, and a
// procedure that returned once keeps returning.
func Join(a arch.Architecture, prev *flow.ProcedureFlow, next *flow.ProcedureFlow) *flow.ProcedureFlow {
    next.Trashed.Union(prev.Trashed)
    next.MayUse.Union(prev.MayUse)
    next.TrashedFlags |= prev.TrashedFlags
    next.MayUseFlags |= prev.MayUseFlags
    next.PreservedFlags = a.AllFlags() &^ next.TrashedFlags

    /* used bits */
    for r, br := range prev.BitsUsed {
        next.BitsUsed[r] = next.BitsUsed[r].Union(br)
    }

    /* constants must agree */
    for r, c := range next.Constants {
        if p, ok := prev.Constants[r]; ok && (p.Value != c.Value || p.Bits != c.Bits) {
            delete(next.Constants, r)
        } else if !ok && prev.Trashed.Has(r) {
            delete(next.Constants, r)
        }
    }

    /* constants of the previous round that are not contradicted */
    for r, c := range prev.Constants {
        if _, ok := next.Constants[r]; !ok && !next.Trashed.Has(r) {
            next.Constants[r] = c
        }
    }

    /* preserved registers are whatever is not trashed */
    for r := range next.Trashed {
        next.Preserved.Remove(r)
    }

    /* returning is final */
    if prev.Termination == flow.Returns {
        next.Termination = flow.Returns
    }

    /* all done */
    return next
}

// Solver computes the flows of the members of a call graph component
// jointly. Members are summarized in order, each one seeing the flows of
// the members before it, until a whole round changes nothing. The flows
// are left in the Current table of the context.
type Solver struct {
    Context          *Context
    MaxIterations    int
    MaxSccIterations int
    Guard            func(proc *ir.Procedure, fn func()) bool
}

// Apply solves the component, and returns the members whose analysis
// failed. Failed members are given the hell flow.
func (self Solver) Apply(states []*ssa.State) map[*ir.Procedure]bool {
    a := self.Context.Arch
    failed := make(map[*ir.Procedure]bool)

    /* start from the most optimistic flows */
    for _, st := range states {
        self.Context.Current[st.Proc] = OptimisticFlow(a, st.Proc)
    }

    /* iterate until nothing changes */
    for i := 0; ; i++ {
        if i >= self.MaxSccIterations {
            diag.Fail(diag.ConvergenceError { Pass: "register usage", Unit: componentName(states), Iterations: i })
        }

        /* summarize every member */
        changed := false
        for _, st := range states {
            var pf *flow.ProcedureFlow
            if failed[st.Proc] {
                continue
            }

            /* a failed member trashes everything */
            if !self.guard(st.Proc, func() { pf = Summarize(self.Context, st, self.MaxIterations) }) {
                pf = flow.HellFlow(a)
                pf.Proc = st.Proc
                failed[st.Proc] = true
                self.Context.Current[st.Proc] = pf
                changed = true
                continue
            }

            /* merge with the previous round */
            prev := self.Context.Current[st.Proc]
            pf = Join(a, prev, pf)

            /* check for changes */
            if !prev.SameSummary(pf) {
                changed = true
            }

            /* the next members see the new flow */
            self.Context.Current[st.Proc] = pf
        }

        /* stop at the fixed point */
        if !changed {
            break
        }
    }

    /* all done */
    return failed
}

func (self Solver) guard(proc *ir.Procedure, fn func()) bool {
    if self.Guard == nil {
        fn()
        return true
    } else {
        return self.Guard(proc, fn)
    }
}

func componentName(states []*ssa.State) string {
    names := make([]string, 0, len(states))
    for _, st := range states {
        names = append(names, st.Proc.Name)
    }
    return strings.Join(names, ",")
}
