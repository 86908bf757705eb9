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

// Simplify folds constants and applies algebraic identities bottom-up. The
// second result tells whether anything changed.
func Simplify(e ir.Expression) (ir.Expression, bool) {
    changed := false
    for _, p := range ir.Operands(e) {
        if v, ok := Simplify(*p); ok {
            *p = v
            changed = true
        }
    }

    /* simplify this node */
    if v := simplifyNode(e); v != nil {
        return v, true
    } else {
        return e, changed
    }
}

func simplifyNode(e ir.Expression) ir.Expression {
    switch v := e.(type) {
        case *ir.BinaryExpression : return simplifyBinary(v)
        case *ir.UnaryExpression  : return simplifyUnary(v)
        case *ir.Cast             : return simplifyCast(v)
        case *ir.Slice            : return simplifySlice(v)
        case *ir.DepositBits      : return simplifyDeposit(v)
        case *ir.MkSequence       : return simplifySequence(v)
        default                   : return nil
    }
}

func isCommutative(op ir.Operator) bool {
    switch op {
        case ir.OpAdd : return true
        case ir.OpMul : return true
        case ir.OpAnd : return true
        case ir.OpOr  : return true
        case ir.OpXor : return true
        case ir.OpEq  : return true
        case ir.OpNe  : return true
        default       : return false
    }
}

func constOf(e ir.Expression) (*ir.Constant, bool) {
    c, ok := e.(*ir.Constant)
    return c, ok
}

func isConst(e ir.Expression, v int64) bool {
    c, ok := constOf(e)
    return ok && c.Value == ir.Mask(uint64(v), c.Bits)
}

func simplifyBinary(e *ir.BinaryExpression) ir.Expression {
    x, xc := constOf(e.Left)
    y, yc := constOf(e.Right)

    /* both sides are constant */
    if xc && yc {
        return foldBinary(e.Op, e.Bits, x, y)
    }

    /* constants go to the right */
    if xc && isCommutative(e.Op) {
        return &ir.BinaryExpression { Op: e.Op, Bits: e.Bits, Left: e.Right, Right: e.Left }
    }

    /* identities with the same operand on both sides */
    if ir.Equal(e.Left, e.Right) && !ir.ReadsMemory(e.Left) {
        switch e.Op {
            case ir.OpSub : return ir.Word(0, e.Bits)
            case ir.OpXor : return ir.Word(0, e.Bits)
            case ir.OpAnd : return e.Left
            case ir.OpOr  : return e.Left
        }
    }

    /* nothing more without a constant operand */
    if !yc {
        return nil
    }

    /* identities with a constant operand */
    switch e.Op {
        case ir.OpAdd, ir.OpSub : return simplifyAddConst(e, y)
        case ir.OpOr, ir.OpXor  : if y.IsZero() { return e.Left }
        case ir.OpShl, ir.OpShr : if y.IsZero() { return e.Left }
        case ir.OpSar           : if y.IsZero() { return e.Left }
        case ir.OpEq, ir.OpNe   : return simplifyEquality(e, y)
        case ir.OpMul: {
            if y.IsZero() {
                return ir.Word(0, e.Bits)
            } else if isConst(y, 1) {
                return e.Left
            }
        }
        case ir.OpAnd: {
            if y.IsZero() {
                return ir.Word(0, e.Bits)
            } else if isConst(y, -1) && y.Bits == e.Bits {
                return e.Left
            }
        }
    }

    /* no simplification */
    return nil
}

func simplifyAddConst(e *ir.BinaryExpression, y *ir.Constant) ir.Expression {
    if y.IsZero() {
        return e.Left
    }

    /* combine nested additions of constants */
    v := y.Signed()
    if e.Op == ir.OpSub {
        v = -v
    }

    /* (x ± c1) ± c2 */
    if in, ok := e.Left.(*ir.BinaryExpression); ok && in.Bits == e.Bits && (in.Op == ir.OpAdd || in.Op == ir.OpSub) {
        if c, ok := constOf(in.Right); ok {
            if in.Op == ir.OpSub {
                v -= c.Signed()
            } else {
                v += c.Signed()
            }
            return ir.AddConst(in.Left, ir.SignExtend(ir.Mask(uint64(v), e.Bits), e.Bits))
        }
    }

    /* normalize x + (-c) into x - c */
    if e.Op == ir.OpAdd && v < 0 && v != ir.SignExtend(uint64(1) << (e.Bits - 1), e.Bits) {
        return ir.AddConst(e.Left, v)
    }

    /* no simplification */
    return nil
}

func simplifyEquality(e *ir.BinaryExpression, y *ir.Constant) ir.Expression {
    if !y.IsZero() {
        return nil
    }

    /* (a - b) == 0 is a == b */
    if in, ok := e.Left.(*ir.BinaryExpression); ok && in.Op == ir.OpSub {
        return ir.Compare(e.Op, in.Left, in.Right)
    } else {
        return nil
    }
}

func boolConst(v bool) *ir.Constant {
    if v {
        return ir.Word(1, 1)
    } else {
        return ir.Word(0, 1)
    }
}

func foldBinary(op ir.Operator, bits int, x *ir.Constant, y *ir.Constant) ir.Expression {
    a, b := x.Value, y.Value
    sa, sb := x.Signed(), y.Signed()

    /* evaluate the operator */
    switch op {
        case ir.OpAdd : return ir.Word(int64(a + b), bits)
        case ir.OpSub : return ir.Word(int64(a - b), bits)
        case ir.OpMul : return ir.Word(int64(a * b), bits)
        case ir.OpAnd : return ir.Word(int64(a & b), bits)
        case ir.OpOr  : return ir.Word(int64(a | b), bits)
        case ir.OpXor : return ir.Word(int64(a ^ b), bits)
        case ir.OpShl : return ir.Word(int64(a << b), bits)
        case ir.OpShr : return ir.Word(int64(ir.Mask(a, x.Bits) >> b), bits)
        case ir.OpSar : return ir.Word(sa >> b, bits)
        case ir.OpEq  : return boolConst(a == b)
        case ir.OpNe  : return boolConst(a != b)
        case ir.OpLt  : return boolConst(sa < sb)
        case ir.OpLe  : return boolConst(sa <= sb)
        case ir.OpGt  : return boolConst(sa > sb)
        case ir.OpGe  : return boolConst(sa >= sb)
        case ir.OpUlt : return boolConst(a < b)
        case ir.OpUle : return boolConst(a <= b)
        case ir.OpUgt : return boolConst(a > b)
        case ir.OpUge : return boolConst(a >= b)
        default       : return nil
    }
}

func simplifyUnary(e *ir.UnaryExpression) ir.Expression {
    if x, ok := constOf(e.Expr); ok {
        switch e.Op {
            case ir.OpNeg  : return ir.Word(-x.Signed(), e.Bits)
            case ir.OpComp : return ir.Word(int64(^x.Value), e.Bits)
            case ir.OpNot  : return boolConst(x.IsZero())
        }
    }

    /* double negation */
    if in, ok := e.Expr.(*ir.UnaryExpression); ok && in.Op == e.Op && e.Op != ir.OpNot {
        return in.Expr
    } else {
        return nil
    }
}

func simplifyCast(e *ir.Cast) ir.Expression {
    if e.Expr.BitSize() == e.Bits {
        return e.Expr
    }

    /* casting a constant */
    if x, ok := constOf(e.Expr); ok {
        if e.Signed {
            return ir.Word(x.Signed(), e.Bits)
        } else {
            return ir.Word(int64(x.Value), e.Bits)
        }
    } else {
        return nil
    }
}

func simplifySlice(e *ir.Slice) ir.Expression {
    if e.Offset == 0 && e.Expr.BitSize() == e.Bits {
        return e.Expr
    }

    /* slicing a constant */
    if x, ok := constOf(e.Expr); ok {
        return ir.Word(int64(x.Value >> uint(e.Offset)), e.Bits)
    } else {
        return nil
    }
}

func simplifyDeposit(e *ir.DepositBits) ir.Expression {
    x, xc := constOf(e.Source)
    y, yc := constOf(e.Insert)

    /* only constants can be folded */
    if !xc || !yc {
        return nil
    }

    /* replace the bits */
    m := ir.Mask(^uint64(0), y.Bits) << uint(e.Offset)
    v := x.Value &^ m | y.Value << uint(e.Offset) & m
    return ir.Word(int64(v), x.Bits)
}

func simplifySequence(e *ir.MkSequence) ir.Expression {
    x, xc := constOf(e.Head)
    y, yc := constOf(e.Tail)

    /* only narrow constants can be folded */
    if !xc || !yc || x.Bits + y.Bits > 64 {
        return nil
    } else {
        return ir.Word(int64(x.Value << uint(y.Bits) | y.Value), x.Bits + y.Bits)
    }
}
