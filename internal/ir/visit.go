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

// Operands returns pointers to the direct sub-expressions of e, so that they
// can be rewritten in place.
func Operands(e Expression) []*Expression {
    switch v := e.(type) {
        case *BinaryExpression : return []*Expression { &v.Left, &v.Right }
        case *UnaryExpression  : return []*Expression { &v.Expr }
        case *MemoryAccess     : return []*Expression { &v.Ea }
        case *Slice            : return []*Expression { &v.Expr }
        case *Cast             : return []*Expression { &v.Expr }
        case *DepositBits      : return []*Expression { &v.Source, &v.Insert }
        case *MkSequence       : return []*Expression { &v.Head, &v.Tail }
        case *ConditionOf      : return []*Expression { &v.Expr }
        case *TestCondition    : return []*Expression { &v.Flags }
        case *Application      : return applicationOperands(v)
        default                : return nil
    }
}

func applicationOperands(v *Application) []*Expression {
    ret := make([]*Expression, 0, len(v.Args) + 1)
    ret = append(ret, &v.Callee)

    /* add every argument */
    for i := range v.Args {
        ret = append(ret, &v.Args[i])
    }

    /* all done */
    return ret
}

// WalkSlots calls fn on every expression slot reachable from the slot,
// children before parents.
func WalkSlots(slot *Expression, fn func(*Expression)) {
    for _, p := range Operands(*slot) {
        WalkSlots(p, fn)
    }
    fn(slot)
}

// IdentifierSlots returns every slot of an instruction that holds an identifier
// read by the instruction.
func IdentifierSlots(ins Instruction) []*Expression {
    var ret []*Expression
    var use Usages
    var ok bool

    /* instruction that reads nothing */
    if use, ok = ins.(Usages); !ok {
        return nil
    }

    /* collect all the identifiers */
    for _, s := range use.Usages() {
        WalkSlots(s, func(p *Expression) {
            if _, ok := (*p).(*Identifier); ok {
                ret = append(ret, p)
            }
        })
    }

    /* all done */
    return ret
}

// UsedIdentifiers lists the identifiers read by an instruction, with duplicates.
func UsedIdentifiers(ins Instruction) []*Identifier {
    ss := IdentifierSlots(ins)
    ret := make([]*Identifier, 0, len(ss))

    /* dereference every slot */
    for _, s := range ss {
        ret = append(ret, (*s).(*Identifier))
    }

    /* all done */
    return ret
}

// DefinedIdentifiers lists the identifiers written by an instruction.
func DefinedIdentifiers(ins Instruction) []*Identifier {
    if d, ok := ins.(Definitions); !ok {
        return nil
    } else {
        dd := d.Definitions()
        ret := make([]*Identifier, 0, len(dd))

        /* dereference every slot */
        for _, p := range dd {
            ret = append(ret, *p)
        }

        /* all done */
        return ret
    }
}

// Uses tests whether an expression reads the identifier.
func Uses(e Expression, id *Identifier) bool {
    found := false
    WalkSlots(&e, func(p *Expression) { found = found || *p == Expression(id) })
    return found
}

// ReadsMemory tests whether evaluating the expression loads from memory.
func ReadsMemory(e Expression) bool {
    found := false
    WalkSlots(&e, func(p *Expression) {
        if _, ok := (*p).(*MemoryAccess); ok {
            found = true
        }
    })
    return found
}

// Clone makes a deep copy of an expression tree. Leaves that are compared by
// identity (identifiers, procedures) and immutable constants are shared.
func Clone(e Expression) Expression {
    switch v := e.(type) {
        case *BinaryExpression: {
            return &BinaryExpression {
                Op    : v.Op,
                Bits  : v.Bits,
                Left  : Clone(v.Left),
                Right : Clone(v.Right),
            }
        }
        case *UnaryExpression   : return &UnaryExpression { Op: v.Op, Bits: v.Bits, Expr: Clone(v.Expr) }
        case *MemoryAccess      : return &MemoryAccess { Ea: Clone(v.Ea), Bits: v.Bits }
        case *Slice             : return &Slice { Expr: Clone(v.Expr), Offset: v.Offset, Bits: v.Bits }
        case *Cast              : return &Cast { Expr: Clone(v.Expr), Bits: v.Bits, Signed: v.Signed }
        case *DepositBits       : return &DepositBits { Source: Clone(v.Source), Insert: Clone(v.Insert), Offset: v.Offset }
        case *MkSequence        : return &MkSequence { Head: Clone(v.Head), Tail: Clone(v.Tail) }
        case *ConditionOf       : return &ConditionOf { Expr: Clone(v.Expr) }
        case *TestCondition     : return &TestCondition { Cond: v.Cond, Flags: Clone(v.Flags) }
        case *Application: {
            args := make([]Expression, len(v.Args))
            for i, a := range v.Args {
                args[i] = Clone(a)
            }
            return &Application { Callee: Clone(v.Callee), Args: args, Bits: v.Bits }
        }
        default: {
            return e
        }
    }
}

// Equal compares two expression trees structurally.
func Equal(a Expression, b Expression) bool {
    switch x := a.(type) {
        case *Constant: {
            y, ok := b.(*Constant)
            return ok && x.Value == y.Value && x.Bits == y.Bits
        }
        case *ProcedureConstant: {
            y, ok := b.(*ProcedureConstant)
            return ok && x.Proc == y.Proc
        }
        case *BinaryExpression: {
            y, ok := b.(*BinaryExpression)
            return ok && x.Op == y.Op && x.Bits == y.Bits && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
        }
        case *UnaryExpression: {
            y, ok := b.(*UnaryExpression)
            return ok && x.Op == y.Op && x.Bits == y.Bits && Equal(x.Expr, y.Expr)
        }
        case *MemoryAccess: {
            y, ok := b.(*MemoryAccess)
            return ok && x.Bits == y.Bits && Equal(x.Ea, y.Ea)
        }
        case *Slice: {
            y, ok := b.(*Slice)
            return ok && x.Offset == y.Offset && x.Bits == y.Bits && Equal(x.Expr, y.Expr)
        }
        case *Cast: {
            y, ok := b.(*Cast)
            return ok && x.Bits == y.Bits && x.Signed == y.Signed && Equal(x.Expr, y.Expr)
        }
        case *DepositBits: {
            y, ok := b.(*DepositBits)
            return ok && x.Offset == y.Offset && Equal(x.Source, y.Source) && Equal(x.Insert, y.Insert)
        }
        case *MkSequence: {
            y, ok := b.(*MkSequence)
            return ok && Equal(x.Head, y.Head) && Equal(x.Tail, y.Tail)
        }
        case *ConditionOf: {
            y, ok := b.(*ConditionOf)
            return ok && Equal(x.Expr, y.Expr)
        }
        case *TestCondition: {
            y, ok := b.(*TestCondition)
            return ok && x.Cond == y.Cond && Equal(x.Flags, y.Flags)
        }
        default: {
            return a == b
        }
    }
}
