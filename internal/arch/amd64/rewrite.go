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

package amd64

import (
    `github.com/cloudwego/decompflow/internal/ir`
    `golang.org/x/arch/x86/x86asm`
)

type _Rewriter struct {
    b *ir.Builder
    d _Decoded
}

func (self _Rewriter) fail(reason string) error {
    return DecodeError { Addr: self.d.addr, Reason: reason }
}

func (self _Rewriter) reg(r x86asm.Reg) *ir.Identifier {
    if rs := Register(r); rs == nil {
        return nil
    } else {
        return self.b.Reg(rs)
    }
}

func (self _Rewriter) sp() *ir.Identifier {
    return self.b.Reg(RSP)
}

func (self _Rewriter) flags(mask uint32) *ir.Identifier {
    return self.b.Reg(Group(mask))
}

func (self _Rewriter) ea(m x86asm.Mem) ir.Expression {
    var ea ir.Expression

    /* RIP-relative addressing */
    if m.Base == x86asm.RIP {
        return ir.Word(int64(self.d.next()) + m.Disp, 64)
    }

    /* base register */
    if m.Base != 0 {
        ea = self.reg(m.Base)
    }

    /* scaled index */
    if m.Index != 0 {
        var idx ir.Expression = self.reg(m.Index)
        if m.Scale > 1 {
            idx = ir.Mul(idx, ir.Word(int64(m.Scale), idx.BitSize()))
        }
        if ea == nil {
            ea = idx
        } else {
            ea = ir.Add(ea, idx)
        }
    }

    /* displacement */
    if ea == nil {
        return ir.Word(m.Disp, 64)
    } else {
        return ir.AddConst(ea, m.Disp)
    }
}

func (self _Rewriter) width(i int) int {
    switch v := self.d.ins.Args[i].(type) {
        case x86asm.Reg : if rs := Register(v); rs != nil { return rs.Bits }
        case x86asm.Mem : if self.d.ins.MemBytes != 0 { return self.d.ins.MemBytes * 8 }
    }
    if self.d.ins.DataSize != 0 {
        return self.d.ins.DataSize
    } else {
        return 64
    }
}

func (self _Rewriter) operand(i int, bits int) ir.Expression {
    switch v := self.d.ins.Args[i].(type) {
        case x86asm.Reg : if id := self.reg(v); id != nil { return id }
        case x86asm.Mem : return ir.Mem(self.ea(v), bits)
        case x86asm.Imm : return ir.Word(int64(v), bits)
    }
    return nil
}

func (self _Rewriter) assign(i int, v ir.Expression) error {
    switch a := self.d.ins.Args[i].(type) {
        case x86asm.Reg: {
            if id := self.reg(a); id == nil {
                return self.fail("unsupported register " + a.String())
            } else {
                self.b.Assign(id, v)
                return nil
            }
        }
        case x86asm.Mem: {
            self.b.Store(self.ea(a), v)
            return nil
        }
        default: {
            return self.fail("invalid destination operand")
        }
    }
}

func (self _Rewriter) binary(op ir.Operator, mask uint32) error {
    bits := self.width(0)
    dst := self.operand(0, bits)
    src := self.operand(1, bits)

    /* check for operands */
    if dst == nil || src == nil {
        return self.fail("unsupported operand")
    }

    /* xor of a register with itself clears the register */
    var val ir.Expression
    if op == ir.OpXor && ir.Equal(dst, src) {
        val = ir.Word(0, bits)
    } else {
        val = &ir.BinaryExpression { Op: op, Bits: bits, Left: dst, Right: src }
    }

    /* write the result and the flags */
    if err := self.assign(0, val); err != nil {
        return err
    } else {
        self.b.Assign(self.flags(mask), ir.Cond(self.operand(0, bits)))
        return nil
    }
}

func (self _Rewriter) carry(op ir.Operator) error {
    bits := self.width(0)
    dst := self.operand(0, bits)
    src := self.operand(1, bits)

    /* check for operands */
    if dst == nil || src == nil {
        return self.fail("unsupported operand")
    }

    /* dst = dst op src op C */
    cf := &ir.Cast { Expr: self.flags(FlagC), Bits: bits }
    val := &ir.BinaryExpression {
        Op    : op,
        Bits  : bits,
        Right : cf,
        Left  : &ir.BinaryExpression { Op: op, Bits: bits, Left: dst, Right: src },
    }

    /* write the result and the flags */
    if err := self.assign(0, val); err != nil {
        return err
    } else {
        self.b.Assign(self.flags(_AllFlags), ir.Cond(self.operand(0, bits)))
        return nil
    }
}

func (self _Rewriter) compare(op ir.Operator) error {
    bits := self.width(0)
    lhs := self.operand(0, bits)
    rhs := self.operand(1, bits)

    /* check for operands */
    if lhs == nil || rhs == nil {
        return self.fail("unsupported operand")
    }

    /* only the flags are written */
    self.b.Assign(self.flags(_AllFlags), ir.Cond(&ir.BinaryExpression {
        Op    : op,
        Bits  : bits,
        Left  : lhs,
        Right : rhs,
    }))
    return nil
}

func (self _Rewriter) step(op ir.Operator) error {
    bits := self.width(0)
    dst := self.operand(0, bits)

    /* check for operands */
    if dst == nil {
        return self.fail("unsupported operand")
    }

    /* INC and DEC leave the carry flag alone */
    if err := self.assign(0, &ir.BinaryExpression { Op: op, Bits: bits, Left: dst, Right: ir.Word(1, bits) }); err != nil {
        return err
    } else {
        self.b.Assign(self.flags(FlagS | FlagZ | FlagO), ir.Cond(self.operand(0, bits)))
        return nil
    }
}

func (self _Rewriter) move() error {
    if src := self.operand(1, self.width(0)); src == nil {
        return self.fail("unsupported operand")
    } else {
        return self.assign(0, src)
    }
}

func (self _Rewriter) extend(signed bool) error {
    bits := self.width(0)
    src := self.operand(1, self.width(1))

    /* check for operands */
    if src == nil {
        return self.fail("unsupported operand")
    } else {
        return self.assign(0, &ir.Cast { Expr: src, Bits: bits, Signed: signed })
    }
}

func (self _Rewriter) push() error {
    src := self.operand(0, 64)
    sp := self.sp()

    /* check for operands */
    if src == nil {
        return self.fail("unsupported operand")
    }

    /* rsp = rsp - 8; Mem64[rsp] = src */
    self.b.Assign(sp, ir.Sub(sp, ir.Word(8, 64)))
    self.b.Store(sp, src)
    return nil
}

func (self _Rewriter) pop() error {
    sp := self.sp()
    if err := self.assign(0, ir.Mem(sp, 64)); err != nil {
        return err
    } else {
        self.b.Assign(sp, ir.Add(sp, ir.Word(8, 64)))
        return nil
    }
}

func (self _Rewriter) call() error {
    var callee ir.Expression
    if to, ok := branchTarget(self.d); ok {
        callee = ir.Word(int64(to), 64)
    } else if callee = self.operand(0, 64); callee == nil {
        return self.fail("unsupported call target")
    }
    self.b.Call(callee, 8)
    return nil
}

func (self _Rewriter) ret() {
    n := int64(8)
    sp := self.sp()

    /* RET imm16 releases the arguments as well */
    if imm, ok := self.d.ins.Args[0].(x86asm.Imm); ok {
        n += int64(imm)
    }

    /* pop the return address */
    self.b.Assign(sp, ir.Add(sp, ir.Word(n, 64)))
    self.b.Return()
}

// lift lifts a single instruction and tells whether control can fall
// through to the next one.
func (self *Lifter) lift(b *ir.Builder, d _Decoded) (bool, error) {
    rw := _Rewriter { b: b.At(d.addr), d: d }
    op := d.ins.Op

    /* conditional branches */
    if cd, ok := branchTable[op]; ok {
        if to, ok := branchTarget(d); !ok {
            return false, rw.fail("invalid branch target")
        } else {
            b.Branch(ir.Test(cd.cc, rw.flags(cd.mask)), label(to))
            return true, nil
        }
    }

    /* arithmetic and logical operations */
    if aop, ok := arithTable[op]; ok {
        if op == x86asm.IMUL && d.ins.Args[2] != nil {
            return false, rw.fail("three-operand multiplication")
        } else {
            return true, rw.binary(aop, _AllFlags)
        }
    }

    /* other instructions */
    switch op {
        case x86asm.NOP    : return true, nil
        case x86asm.MOV    : return true, rw.move()
        case x86asm.MOVZX  : return true, rw.extend(false)
        case x86asm.MOVSX  : return true, rw.extend(true)
        case x86asm.MOVSXD : return true, rw.extend(true)
        case x86asm.ADC    : return true, rw.carry(ir.OpAdd)
        case x86asm.SBB    : return true, rw.carry(ir.OpSub)
        case x86asm.CMP    : return true, rw.compare(ir.OpSub)
        case x86asm.TEST   : return true, rw.compare(ir.OpAnd)
        case x86asm.INC    : return true, rw.step(ir.OpAdd)
        case x86asm.DEC    : return true, rw.step(ir.OpSub)
        case x86asm.PUSH   : return true, rw.push()
        case x86asm.POP    : return true, rw.pop()
        case x86asm.CALL   : return true, rw.call()
        case x86asm.RET    : rw.ret(); return false, nil
    }

    /* LEA computes the address only */
    if op == x86asm.LEA {
        if m, ok := d.ins.Args[1].(x86asm.Mem); !ok {
            return false, rw.fail("invalid LEA operand")
        } else {
            return true, rw.assign(0, rw.ea(m))
        }
    }

    /* unconditional jumps */
    if op == x86asm.JMP {
        if to, ok := branchTarget(d); !ok {
            return false, rw.fail("indirect jump")
        } else {
            b.Jump(label(to))
            return false, nil
        }
    }

    /* everything else is not supported */
    return false, rw.fail("unsupported instruction " + op.String())
}
