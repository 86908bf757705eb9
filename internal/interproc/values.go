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
    `github.com/cloudwego/decompflow/internal/diag`
    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/cloudwego/decompflow/internal/ssa`
)

type _Kind uint8

const (
    _Bottom _Kind = iota
    _Entry
    _Const
    _Top
)

// _Value is what is known about the value of an SSA identifier: nothing
// yet, the entry value of a storage plus an offset, a constant, or
// anything.
type _Value struct {
    kind _Kind
    reg  ir.Storage
    off  int64
    val  *ir.Constant
}

var top = _Value { kind: _Top }

func entryValue(k ir.Storage, off int64) _Value {
    return _Value { kind: _Entry, reg: k, off: off }
}

func constValue(c *ir.Constant) _Value {
    return _Value { kind: _Const, val: c }
}

func (self _Value) equal(v _Value) bool {
    switch {
        case self.kind != v.kind   : return false
        case self.kind == _Entry   : return self.reg == v.reg && self.off == v.off
        case self.kind == _Const   : return self.val.Bits == v.val.Bits && self.val.Value == v.val.Value
        default                    : return true
    }
}

func (self _Value) meet(v _Value) _Value {
    switch {
        case self.kind == _Bottom : return v
        case v.kind == _Bottom    : return self
        case self.equal(v)        : return self
        default                   : return top
    }
}

// isOriginal tells whether the value is the entry value of storage k.
func (self _Value) isOriginal(k ir.Storage) bool {
    return self.kind == _Entry && self.reg == k && self.off == 0
}

// _Evaluator computes the symbolic values of all the identifiers of a
// procedure, as an optimistic fixed point over the Phi nodes. Definitions
// outside the returning blocks never reach the caller and stay at bottom.
type _Evaluator struct {
    st   *ssa.State
    ctx  *Context
    ret  map[*ir.Block]bool
    vals map[*ir.Identifier]_Value
}

func evaluate(ctx *Context, st *ssa.State, maxIter int, ends map[*ir.Block]bool) *_Evaluator {
    ev := &_Evaluator {
        st   : st,
        ctx  : ctx,
        ret  : returningBlocks(st.Proc, ends),
        vals : make(map[*ir.Identifier]_Value),
    }

    /* the values can only go up the lattice */
    for i := 0; ; i++ {
        if i >= maxIter {
            diag.Fail(diag.ConvergenceError { Pass: "exit value evaluation", Unit: st.Proc.Name, Iterations: i })
        }

        /* evaluate every definition */
        changed := false
        for _, sid := range st.Live() {
            if v := ev.define(sid); !v.equal(ev.vals[sid.Id]) {
                ev.vals[sid.Id] = v
                changed = true
            }
        }

        /* stop at the fixed point */
        if !changed {
            break
        }
    }

    /* all done */
    return ev
}

func (self *_Evaluator) define(sid *ssa.SsaIdentifier) _Value {
    if !self.ret[sid.DefStatement.Block] {
        return _Value{}
    }

    /* evaluate the definition */
    switch ins := sid.DefStatement.Instr.(type) {
        case *ir.DefInstruction: {
            if k, ok := ir.StorageKey(ins.Id.Storage).(*ir.RegisterStorage); ok {
                return entryValue(k, 0)
            } else {
                return top
            }
        }
        case *ir.Assignment: {
            return self.expr(ins.Src)
        }
        case *ir.PhiAssignment: {
            v := _Value{}
            for _, a := range ins.Args {
                if self.ret[a.Block] {
                    v = v.meet(self.expr(a.Value))
                }
            }
            return v
        }
        case *ir.CallInstruction: {
            return self.callDef(ins, sid.Id)
        }
        default: {
            return top
        }
    }
}

func (self *_Evaluator) expr(e ir.Expression) _Value {
    switch v := e.(type) {
        case *ir.Constant: {
            return constValue(v)
        }
        case *ir.Identifier: {
            if self.st.Lookup(v) == nil {
                return top
            } else {
                return self.vals[v]
            }
        }
        case *ir.BinaryExpression: {
            if c, ok := v.Right.(*ir.Constant); ok && (v.Op == ir.OpAdd || v.Op == ir.OpSub) {
                return self.offset(self.expr(v.Left), v.Op, c)
            }
        }
    }
    return top
}

func (self *_Evaluator) offset(x _Value, op ir.Operator, c *ir.Constant) _Value {
    d := c.Signed()
    if op == ir.OpSub {
        d = -d
    }

    /* shift the value */
    switch x.kind {
        case _Entry : return entryValue(x.reg, x.off + d)
        case _Const : return constValue(ir.Word(int64(x.val.Value) + d, x.val.Bits))
        default     : return x
    }
}

// callDef is the value of a register after a call: the value before the call
// when the callee preserves it, or a constant the callee always returns.
func (self *_Evaluator) callDef(call *ir.CallInstruction, id *ir.Identifier) _Value {
    var k ir.Storage
    for _, d := range call.Defs {
        if d.Id == id {
            k = ir.StorageKey(d.Storage)
        }
    }

    /* only registers survive calls */
    r, ok := k.(*ir.RegisterStorage)
    if !ok {
        return top
    }

    /* check the summary of the callee */
    pf := self.ctx.CallFlow(call)
    w := self.ctx.Arch.WholeRegister(r)

    /* constants returned by the callee */
    if c := pf.Constants[w]; c != nil && w == r {
        return constValue(c)
    }

    /* preserved registers keep the value they had before the call */
    if pf.Trashed.Has(w) || !pf.Preserved.Has(w) {
        return top
    } else if u := call.UseOf(r); u == nil {
        return top
    } else {
        return self.expr(u.Expr)
    }
}
