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
    `fmt`
    `sort`

    `github.com/cloudwego/decompflow/internal/ir`
    `github.com/oleiade/lane`
    `golang.org/x/arch/x86/x86asm`
)

// DecodeError occures when the machine code cannot be lifted.
type DecodeError struct {
    Addr   uint64
    Reason string
}

func (self DecodeError) Error() string {
    return fmt.Sprintf("cannot lift instruction at %#x: %s", self.Addr, self.Reason)
}

type _CondDesc struct {
    cc   ir.ConditionCode
    mask uint32
}

var branchTable = map[x86asm.Op]_CondDesc {
    x86asm.JE  : { ir.CcEQ,  FlagZ },
    x86asm.JNE : { ir.CcNE,  FlagZ },
    x86asm.JL  : { ir.CcLT,  FlagS | FlagO },
    x86asm.JGE : { ir.CcGE,  FlagS | FlagO },
    x86asm.JLE : { ir.CcLE,  FlagS | FlagZ | FlagO },
    x86asm.JG  : { ir.CcGT,  FlagS | FlagZ | FlagO },
    x86asm.JB  : { ir.CcULT, FlagC },
    x86asm.JAE : { ir.CcUGE, FlagC },
    x86asm.JBE : { ir.CcULE, FlagC | FlagZ },
    x86asm.JA  : { ir.CcUGT, FlagC | FlagZ },
    x86asm.JS  : { ir.CcSG,  FlagS },
    x86asm.JNS : { ir.CcNS,  FlagS },
    x86asm.JO  : { ir.CcOV,  FlagO },
    x86asm.JNO : { ir.CcNO,  FlagO },
}

var arithTable = map[x86asm.Op]ir.Operator {
    x86asm.ADD  : ir.OpAdd,
    x86asm.SUB  : ir.OpSub,
    x86asm.AND  : ir.OpAnd,
    x86asm.OR   : ir.OpOr,
    x86asm.XOR  : ir.OpXor,
    x86asm.SHL  : ir.OpShl,
    x86asm.SHR  : ir.OpShr,
    x86asm.SAR  : ir.OpSar,
    x86asm.IMUL : ir.OpMul,
}

var plainTable = map[x86asm.Op]bool {
    x86asm.NOP    : true,
    x86asm.MOV    : true,
    x86asm.MOVZX  : true,
    x86asm.MOVSX  : true,
    x86asm.MOVSXD : true,
    x86asm.ADC    : true,
    x86asm.SBB    : true,
    x86asm.CMP    : true,
    x86asm.TEST   : true,
    x86asm.INC    : true,
    x86asm.DEC    : true,
    x86asm.PUSH   : true,
    x86asm.POP    : true,
    x86asm.CALL   : true,
    x86asm.RET    : true,
    x86asm.LEA    : true,
    x86asm.JMP    : true,
}

// supported tells whether the lifter knows an instruction.
func supported(op x86asm.Op) bool {
    _, br := branchTable[op]
    _, ar := arithTable[op]
    return br || ar || plainTable[op]
}

const (
    _AllFlags = FlagC | FlagZ | FlagS | FlagO
)

// Lifter turns x86-64 machine code loaded at Base into flat procedures.
type Lifter struct {
    Code []byte
    Base uint64
}

type _Decoded struct {
    ins  x86asm.Inst
    addr uint64
}

func (self _Decoded) next() uint64 {
    return self.addr + uint64(self.ins.Len)
}

func (self *Lifter) decode(addr uint64) (x86asm.Inst, error) {
    if addr < self.Base || addr - self.Base >= uint64(len(self.Code)) {
        return x86asm.Inst{}, DecodeError { Addr: addr, Reason: "address out of range" }
    } else if ins, err := x86asm.Decode(self.Code[addr - self.Base:], 64); err != nil {
        return x86asm.Inst{}, DecodeError { Addr: addr, Reason: err.Error() }
    } else {
        return ins, nil
    }
}

func label(addr uint64) string {
    return fmt.Sprintf("l%08X", addr)
}

func branchTarget(d _Decoded) (uint64, bool) {
    if rel, ok := d.ins.Args[0].(x86asm.Rel); ok {
        return uint64(int64(d.next()) + int64(rel)), true
    } else {
        return 0, false
    }
}

// scan discovers every instruction reachable from the entry point and the
// addresses that start a basic block.
func (self *Lifter) scan(entry uint64) (map[uint64]_Decoded, map[uint64]bool, error) {
    q := lane.NewQueue()
    ins := make(map[uint64]_Decoded)
    lead := map[uint64]bool { entry: true }

    /* BFS over the control flow */
    for q.Enqueue(entry); !q.Empty(); {
        pc := q.Dequeue().(uint64)

        /* decode until the end of this run */
        for {
            if _, ok := ins[pc]; ok {
                lead[pc] = true
                break
            }

            /* decode one instruction */
            v, err := self.decode(pc)
            if err != nil {
                return nil, nil, err
            }

            /* stop at the first unknown instruction */
            if !supported(v.Op) {
                return nil, nil, DecodeError { Addr: pc, Reason: "unsupported instruction " + v.Op.String() }
            }

            /* add to instruction table */
            d := _Decoded { ins: v, addr: pc }
            ins[pc] = d

            /* returns end the run */
            if v.Op == x86asm.RET {
                break
            }

            /* unconditional jumps */
            if v.Op == x86asm.JMP {
                if to, ok := branchTarget(d); !ok {
                    return nil, nil, DecodeError { Addr: pc, Reason: "indirect jump" }
                } else {
                    lead[to] = true
                    q.Enqueue(to)
                    break
                }
            }

            /* conditional branches */
            if _, ok := branchTable[v.Op]; ok {
                if to, ok := branchTarget(d); ok {
                    lead[to] = true
                    lead[d.next()] = true
                    q.Enqueue(to)
                    q.Enqueue(d.next())
                    break
                }
            }

            /* move to the next instruction */
            pc = d.next()
        }
    }

    /* all done */
    return ins, lead, nil
}

// Lift lifts the procedure starting at entry.
func (self *Lifter) Lift(name string, entry uint64) (ret *ir.Procedure, err error) {
    var ins map[uint64]_Decoded
    var lead map[uint64]bool

    /* find all the instructions */
    if ins, lead, err = self.scan(entry); err != nil {
        return nil, err
    }

    /* sort the addresses, starting from the entry point */
    pcs := make([]uint64, 0, len(ins))
    for pc := range ins {
        pcs = append(pcs, pc)
    }

    /* the entry block comes first, lower addresses come last */
    sort.Slice(pcs, func(i int, j int) bool {
        if a, b := pcs[i] >= entry, pcs[j] >= entry; a != b {
            return a
        } else {
            return pcs[i] < pcs[j]
        }
    })

    /* lift every instruction */
    fl := false
    nx := uint64(0)
    bd := ir.NewBuilder(name, entry)

    /* generate the flat procedure */
    for _, pc := range pcs {
        d := ins[pc]

        /* a non-contiguous fall-through needs an explicit jump */
        if fl && nx != pc {
            bd.Jump(label(nx))
        }

        /* start a new block if needed */
        if lead[pc] {
            bd.Label(label(pc))
        }

        /* lift the instruction */
        if fl, err = self.lift(bd, d); err != nil {
            return nil, err
        }

        /* address of the next instruction */
        nx = d.next()
    }

    /* the last instruction may fall through to a leader */
    if fl {
        bd.Jump(label(nx))
    }

    /* link the procedure */
    defer func() {
        if v := recover(); v != nil {
            ret, err = nil, DecodeError { Addr: entry, Reason: fmt.Sprint(v) }
        }
    }()

    /* all done */
    return bd.Build(), nil
}
