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

package arch

import (
    `github.com/cloudwego/decompflow/internal/ir`
)

// CarryMode tells how subtraction sets the carry flag.
type CarryMode uint8

const (
    CarryIsBorrow    CarryMode = iota // x86: C set when a < b (unsigned)
    CarryIsNotBorrow                  // ARM: C set when a >= b (unsigned)
)

// Semantics knows how flags produced by an expression relate to its
// operands.
type Semantics struct {
    Carry CarryMode
}

func zero(e ir.Expression) ir.Expression {
    return ir.Word(0, e.BitSize())
}

// DecomposeFlags returns a relational expression equivalent to testing the
// flags produced by the producer expression with the condition code, or nil
// when there is no such expression.
func (self Semantics) DecomposeFlags(cc ir.ConditionCode, producer ir.Expression) ir.Expression {
    if bin, ok := producer.(*ir.BinaryExpression); ok {
        switch bin.Op {
            case ir.OpSub : return self.subtract(cc, bin)
            case ir.OpAdd : return self.addition(cc, bin)
            case ir.OpAnd : return self.logical(cc, bin)
            case ir.OpOr  : return self.logical(cc, bin)
            case ir.OpXor : return self.logical(cc, bin)
        }
    }
    return self.result(cc, producer)
}

func (self Semantics) result(cc ir.ConditionCode, e ir.Expression) ir.Expression {
    switch cc {
        case ir.CcEQ : return ir.Compare(ir.OpEq, e, zero(e))
        case ir.CcNE : return ir.Compare(ir.OpNe, e, zero(e))
        case ir.CcSG : return ir.Compare(ir.OpLt, e, zero(e))
        case ir.CcNS : return ir.Compare(ir.OpGe, e, zero(e))
        default      : return nil
    }
}

func (self Semantics) subtract(cc ir.ConditionCode, bin *ir.BinaryExpression) ir.Expression {
    if op, ok := cc.Relation(); ok {
        return ir.Compare(op, bin.Left, bin.Right)
    }

    /* the carry flag depends on the architecture */
    switch cc {
        case ir.CcCS : return ir.Compare(self.borrowOp(true), bin.Left, bin.Right)
        case ir.CcCC : return ir.Compare(self.borrowOp(false), bin.Left, bin.Right)
        case ir.CcSG : return ir.Compare(ir.OpLt, bin, zero(bin))
        case ir.CcNS : return ir.Compare(ir.OpGe, bin, zero(bin))
        default      : return nil
    }
}

func (self Semantics) borrowOp(set bool) ir.Operator {
    if set == (self.Carry == CarryIsBorrow) {
        return ir.OpUlt
    } else {
        return ir.OpUge
    }
}

func (self Semantics) addition(cc ir.ConditionCode, bin *ir.BinaryExpression) ir.Expression {
    switch cc {
        case ir.CcEQ  : return ir.Compare(ir.OpEq, bin, zero(bin))
        case ir.CcNE  : return ir.Compare(ir.OpNe, bin, zero(bin))
        case ir.CcSG  : return ir.Compare(ir.OpLt, bin, zero(bin))
        case ir.CcNS  : return ir.Compare(ir.OpGe, bin, zero(bin))
        case ir.CcCS  : return ir.Compare(ir.OpUlt, bin, bin.Left)
        case ir.CcCC  : return ir.Compare(ir.OpUge, bin, bin.Left)
        case ir.CcULT : return ir.Compare(ir.OpUlt, bin, bin.Left)
        case ir.CcUGE : return ir.Compare(ir.OpUge, bin, bin.Left)
        default       : return nil
    }
}

// Logical operations clear the overflow flag, so signed relations reduce to
// tests of the sign.
func (self Semantics) logical(cc ir.ConditionCode, e ir.Expression) ir.Expression {
    switch cc {
        case ir.CcLT : return ir.Compare(ir.OpLt, e, zero(e))
        case ir.CcGE : return ir.Compare(ir.OpGe, e, zero(e))
        case ir.CcLE : return ir.Compare(ir.OpLe, e, zero(e))
        case ir.CcGT : return ir.Compare(ir.OpGt, e, zero(e))
        default      : return self.result(cc, e)
    }
}
