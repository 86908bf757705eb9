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

package ir

import (
    `fmt`
)

type Operator uint8

const (
    OpAdd Operator = iota + 1
    OpSub
    OpMul
    OpAnd
    OpOr
    OpXor
    OpShl
    OpShr
    OpSar
    OpEq
    OpNe
    OpLt
    OpLe
    OpGt
    OpGe
    OpUlt
    OpUle
    OpUgt
    OpUge
    OpNeg
    OpComp
    OpNot
)

var _OpNames = [...]string {
    OpAdd  : "+",
    OpSub  : "-",
    OpMul  : "*",
    OpAnd  : "&",
    OpOr   : "|",
    OpXor  : "^",
    OpShl  : "<<",
    OpShr  : ">>u",
    OpSar  : ">>",
    OpEq   : "==",
    OpNe   : "!=",
    OpLt   : "<",
    OpLe   : "<=",
    OpGt   : ">",
    OpGe   : ">=",
    OpUlt  : "<u",
    OpUle  : "<=u",
    OpUgt  : ">u",
    OpUge  : ">=u",
    OpNeg  : "-",
    OpComp : "~",
    OpNot  : "!",
}

func (self Operator) String() string {
    if int(self) < len(_OpNames) && _OpNames[self] != "" {
        return _OpNames[self]
    } else {
        return fmt.Sprintf("Operator(%d)", self)
    }
}

// IsRelational tests whether the operator yields a boolean.
func (self Operator) IsRelational() bool {
    return self >= OpEq && self <= OpUge
}

// ConditionCode selects the relation a TestCondition checks.
type ConditionCode uint8

const (
    CcEQ ConditionCode = iota + 1
    CcNE
    CcLT
    CcLE
    CcGT
    CcGE
    CcULT
    CcULE
    CcUGT
    CcUGE
    CcSG
    CcNS
    CcOV
    CcNO
    CcCS
    CcCC
)

var _CcNames = [...]string {
    CcEQ  : "EQ",
    CcNE  : "NE",
    CcLT  : "LT",
    CcLE  : "LE",
    CcGT  : "GT",
    CcGE  : "GE",
    CcULT : "ULT",
    CcULE : "ULE",
    CcUGT : "UGT",
    CcUGE : "UGE",
    CcSG  : "SG",
    CcNS  : "NS",
    CcOV  : "OV",
    CcNO  : "NO",
    CcCS  : "CS",
    CcCC  : "CC",
}

func (self ConditionCode) String() string {
    if int(self) < len(_CcNames) && _CcNames[self] != "" {
        return _CcNames[self]
    } else {
        return fmt.Sprintf("ConditionCode(%d)", self)
    }
}

// Invert returns the condition code testing the negated relation.
func (self ConditionCode) Invert() ConditionCode {
    switch self {
        case CcEQ  : return CcNE
        case CcNE  : return CcEQ
        case CcLT  : return CcGE
        case CcGE  : return CcLT
        case CcLE  : return CcGT
        case CcGT  : return CcLE
        case CcULT : return CcUGE
        case CcUGE : return CcULT
        case CcULE : return CcUGT
        case CcUGT : return CcULE
        case CcSG  : return CcNS
        case CcNS  : return CcSG
        case CcOV  : return CcNO
        case CcNO  : return CcOV
        case CcCS  : return CcCC
        case CcCC  : return CcCS
        default    : panic("invalid condition code: " + self.String())
    }
}

// Relation maps a condition code to the relational operator comparing the
// two operands of a subtraction. The second result is false for condition
// codes that have no such operator.
func (self ConditionCode) Relation() (Operator, bool) {
    switch self {
        case CcEQ  : return OpEq, true
        case CcNE  : return OpNe, true
        case CcLT  : return OpLt, true
        case CcLE  : return OpLe, true
        case CcGT  : return OpGt, true
        case CcGE  : return OpGe, true
        case CcULT : return OpUlt, true
        case CcULE : return OpUle, true
        case CcUGT : return OpUgt, true
        case CcUGE : return OpUge, true
        default    : return 0, false
    }
}

func binary(op Operator, bits int, a Expression, b Expression) *BinaryExpression {
    return &BinaryExpression {
        Op    : op,
        Bits  : bits,
        Left  : a,
        Right : b,
    }
}

func Add(a Expression, b Expression) *BinaryExpression { return binary(OpAdd, a.BitSize(), a, b) }
func Sub(a Expression, b Expression) *BinaryExpression { return binary(OpSub, a.BitSize(), a, b) }
func Mul(a Expression, b Expression) *BinaryExpression { return binary(OpMul, a.BitSize(), a, b) }
func And(a Expression, b Expression) *BinaryExpression { return binary(OpAnd, a.BitSize(), a, b) }
func Or(a Expression, b Expression)  *BinaryExpression { return binary(OpOr, a.BitSize(), a, b) }
func Xor(a Expression, b Expression) *BinaryExpression { return binary(OpXor, a.BitSize(), a, b) }
func Shl(a Expression, b Expression) *BinaryExpression { return binary(OpShl, a.BitSize(), a, b) }

// Compare builds a relational expression, which is always one bit wide.
func Compare(op Operator, a Expression, b Expression) *BinaryExpression {
    if !op.IsRelational() {
        panic("not a relational operator: " + op.String())
    } else {
        return binary(op, 1, a, b)
    }
}

// AddConst adds a signed constant to an expression of the same width.
func AddConst(a Expression, v int64) Expression {
    if v == 0 {
        return a
    } else if v < 0 {
        return Sub(a, Word(-v, a.BitSize()))
    } else {
        return Add(a, Word(v, a.BitSize()))
    }
}

func Mem(ea Expression, bits int) *MemoryAccess {
    return &MemoryAccess {
        Ea   : ea,
        Bits : bits,
    }
}

func Cond(e Expression) *ConditionOf {
    return &ConditionOf{Expr: e}
}

func Test(cc ConditionCode, flags Expression) *TestCondition {
    return &TestCondition {
        Cond  : cc,
        Flags : flags,
    }
}
