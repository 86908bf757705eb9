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
    `strings`
)

type Expression interface {
    fmt.Stringer
    BitSize() int
}

// Mask returns the value truncated to the given width.
func Mask(v uint64, bits int) uint64 {
    if bits <= 0 || bits >= 64 {
        return v
    } else {
        return v & (uint64(1) << bits - 1)
    }
}

// SignExtend interprets the low bits of v as a signed integer.
func SignExtend(v uint64, bits int) int64 {
    if bits <= 0 || bits >= 64 {
        return int64(v)
    } else {
        s := uint(64 - bits)
        return int64(v << s) >> s
    }
}

type Constant struct {
    Value uint64
    Bits  int
}

// Word creates a constant of the given width, truncating the value.
func Word(v int64, bits int) *Constant {
    return &Constant {
        Bits  : bits,
        Value : Mask(uint64(v), bits),
    }
}

func (self *Constant) BitSize() int  { return self.Bits }
func (self *Constant) Signed() int64 { return SignExtend(self.Value, self.Bits) }

func (self *Constant) IsZero() bool {
    return self.Value == 0
}

func (self *Constant) String() string {
    if v := self.Signed(); self.Bits > 1 && v < 0 && v > -0x1000 {
        return fmt.Sprintf("-0x%x", -v)
    } else {
        return fmt.Sprintf("0x%x", self.Value)
    }
}

// Identifier is a named variable bound to a storage. Identity is by pointer.
type Identifier struct {
    Name    string
    Bits    int
    Storage Storage
}

func (self *Identifier) BitSize() int  { return self.Bits }
func (self *Identifier) String() string { return self.Name }

type BinaryExpression struct {
    Op    Operator
    Bits  int
    Left  Expression
    Right Expression
}

func (self *BinaryExpression) BitSize() int { return self.Bits }

func (self *BinaryExpression) String() string {
    return fmt.Sprintf("%s %s %s", operand(self.Left), self.Op, operand(self.Right))
}

type UnaryExpression struct {
    Op   Operator
    Bits int
    Expr Expression
}

func (self *UnaryExpression) BitSize() int  { return self.Bits }
func (self *UnaryExpression) String() string { return self.Op.String() + operand(self.Expr) }

type MemoryAccess struct {
    Ea   Expression
    Bits int
}

func (self *MemoryAccess) BitSize() int  { return self.Bits }
func (self *MemoryAccess) String() string { return fmt.Sprintf("Mem%d[%s]", self.Bits, self.Ea) }

// Slice extracts Bits bits starting at bit Offset.
type Slice struct {
    Expr   Expression
    Offset int
    Bits   int
}

func (self *Slice) BitSize() int { return self.Bits }

func (self *Slice) String() string {
    return fmt.Sprintf("SLICE(%s, word%d, %d)", self.Expr, self.Bits, self.Offset)
}

// Cast converts to a different width, zero or sign extending when widening.
type Cast struct {
    Expr   Expression
    Bits   int
    Signed bool
}

func (self *Cast) BitSize() int { return self.Bits }

func (self *Cast) String() string {
    if self.Signed {
        return fmt.Sprintf("(int%d) %s", self.Bits, operand(self.Expr))
    } else {
        return fmt.Sprintf("(word%d) %s", self.Bits, operand(self.Expr))
    }
}

// DepositBits replaces the bits of Source starting at Offset with Insert.
type DepositBits struct {
    Source Expression
    Insert Expression
    Offset int
}

func (self *DepositBits) BitSize() int { return self.Source.BitSize() }

func (self *DepositBits) String() string {
    return fmt.Sprintf("DPB(%s, %s, %d)", self.Source, self.Insert, self.Offset)
}

// MkSequence concatenates Head (high part) and Tail (low part).
type MkSequence struct {
    Head Expression
    Tail Expression
}

func (self *MkSequence) BitSize() int {
    return self.Head.BitSize() + self.Tail.BitSize()
}

func (self *MkSequence) String() string {
    return fmt.Sprintf("SEQ(%s, %s)", self.Head, self.Tail)
}

// ConditionOf is the set of flags produced by evaluating Expr.
type ConditionOf struct {
    Expr Expression
}

func (self *ConditionOf) BitSize() int  { return 32 }
func (self *ConditionOf) String() string { return fmt.Sprintf("cond(%s)", self.Expr) }

// TestCondition tests the flags in Flags against a condition code.
type TestCondition struct {
    Cond  ConditionCode
    Flags Expression
}

func (self *TestCondition) BitSize() int  { return 1 }
func (self *TestCondition) String() string { return fmt.Sprintf("Test(%s,%s)", self.Cond, self.Flags) }

type ProcedureConstant struct {
    Proc ProcedureBase
}

func (self *ProcedureConstant) BitSize() int  { return 64 }
func (self *ProcedureConstant) String() string { return self.Proc.String() }

// Application is a typed call of Callee with explicit arguments.
type Application struct {
    Callee Expression
    Args   []Expression
    Bits   int
}

func (self *Application) BitSize() int { return self.Bits }

func (self *Application) String() string {
    args := make([]string, 0, len(self.Args))
    for _, v := range self.Args {
        args = append(args, v.String())
    }
    return fmt.Sprintf("%s(%s)", self.Callee, strings.Join(args, ", "))
}

func operand(e Expression) string {
    switch e.(type) {
        case *BinaryExpression : return "(" + e.String() + ")"
        case *Cast             : return "(" + e.String() + ")"
        default                : return e.String()
    }
}
