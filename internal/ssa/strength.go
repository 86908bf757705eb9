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

package ssa

import (
    `github.com/cloudwego/decompflow/internal/ir`
)

type _ScaledBase struct {
    base  string
    scale int64
}

// StrengthReduction replaces induction variables added to a base address
// with pointers stepping through memory, so that `Mem[base + i * k]` becomes
// `Mem[p]` with `p = φ(base + init * k, p + step * k)`. Plain `Mem[base + i]`
// accesses are reduced the same way with k = 1. It returns the pointer
// variables it introduced.
type StrengthReduction struct{}

func (StrengthReduction) Apply(st *State, ivs []*InductionVariable) []*InductionVariable {
    var ret []*InductionVariable
    for _, iv := range ivs {
        ret = append(ret, reduceVariable(st, iv)...)
    }
    return ret
}

func reduceVariable(st *State, iv *InductionVariable) []*InductionVariable {
    var keys []_ScaledBase
    var ret []*InductionVariable
    groups := make(map[_ScaledBase][]IvUse)

    /* group the indexed accesses by base and scale */
    for _, u := range iv.Uses {
        if u.Kind != UseCounter && u.Base != nil && u.Mem.Ea.BitSize() == iv.Linear.Phi.Bits {
            k := _ScaledBase { base: u.Base.String(), scale: u.Scale }
            if _, ok := groups[k]; !ok {
                keys = append(keys, k)
            }
            groups[k] = append(groups[k], u)
        }
    }

    /* the pointer needs a place to be initialized */
    pre := iv.Loop.Preheader()
    if pre == nil || len(keys) == 0 {
        return nil
    }

    /* one pointer per group */
    for _, k := range keys {
        ret = append(ret, reduceGroup(st, iv, pre, groups[k]))
    }

    /* all done */
    return ret
}

func reduceGroup(st *State, iv *InductionVariable, pre *ir.Block, uses []IvUse) *InductionVariable {
    lp := iv.Loop
    bits := iv.Linear.Phi.Bits
    scale := uses[0].Scale
    step := iv.Linear.Step * scale

    /* p0 = base + init * k, in the preheader */
    p0 := st.NewTemporary(bits)
    v0, _ := Simplify(ir.Add(ir.Clone(uses[0].Base), ir.Mul(ir.Clone(iv.Linear.Init), ir.Word(scale, bits))))
    st.Insert(pre, beforeTerminator(pre), blockAddr(lp.Header), &ir.Assignment { Dst: p0.Id, Src: v0 })

    /* p1 = φ(p0, p2), in the header */
    p1 := st.NewVersion(p0.Original)
    p2 := st.NewVersion(p0.Original)
    args := make([]ir.PhiArg, len(lp.Header.Pred))

    /* one argument per predecessor */
    for i, p := range lp.Header.Pred {
        if lp.Contains(p) {
            args[i] = ir.PhiArg { Block: p, Value: p2.Id }
        } else {
            args[i] = ir.PhiArg { Block: p, Value: p0.Id }
        }
    }

    /* p2 = p1 + step * k, next to the induction variable update */
    nx := st.Get(iv.Next).DefStatement
    st.Insert(lp.Header, 0, blockAddr(lp.Header), &ir.PhiAssignment { Dst: p1.Id, Args: args })
    st.Insert(nx.Block, nx.Block.IndexOf(nx) + 1, nx.Addr, &ir.Assignment { Dst: p2.Id, Src: ir.AddConst(p1.Id, step) })

    /* rewrite the addresses */
    for _, u := range uses {
        st.RemoveUses(u.Stmt)
        u.Mem.Ea = p1.Id
        st.AddUses(u.Stmt)
    }

    /* describe the new induction variable */
    return &InductionVariable {
        Loop : lp,
        Phi  : p1.DefStatement,
        Next : p2.Id,
        Linear: &ir.LinearInductionVariable {
            Phi   : p1.Id,
            Init  : v0,
            Step  : step,
        },
    }
}

func beforeTerminator(bb *ir.Block) int {
    if bb.Terminator() != nil {
        return len(bb.Statements) - 1
    } else {
        return len(bb.Statements)
    }
}
