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
    `testing`

    `github.com/stretchr/testify/require`
)

var (
    r0 = &RegisterStorage { Name: "r0", Number: 0, Bits: 32 }
    r1 = &RegisterStorage { Name: "r1", Number: 1, Bits: 32 }
)

func TestBuilder_Diamond(t *testing.T) {
    b := NewBuilder("diamond", 0x1000)
    x := b.Reg(r0)
    y := b.Reg(r1)
    s0 := b.Branch(Compare(OpEq, y, Word(0, 32)), "else")
    s1 := b.Assign(x, Word(1, 32))
    b.Jump("done")
    b.Label("else")
    b.Assign(x, Word(2, 32))
    b.Label("done")
    b.Return()
    proc := b.Build()

    /* entry, exit, head, then, else, done */
    require.Len(t, proc.Blocks, 6, proc.Dump())
    head, then, other, done := proc.Blocks[2], proc.Blocks[3], proc.Blocks[4], proc.Blocks[5]
    require.Equal(t, []*Block { head }, proc.Entry.Succ)
    require.Equal(t, []*Block { then, other }, head.Succ)
    require.Equal(t, []*Block { then, other }, done.Pred)
    require.Equal(t, []*Block { done }, proc.Exit.Pred)
    require.Equal(t, "else", other.Name)
    require.Equal(t, "done", done.Name)

    /* statements get consecutive addresses */
    require.Equal(t, uint64(0x1000), s0.Addr)
    require.Equal(t, uint64(0x1004), s1.Addr)
    require.Same(t, then, s1.Block)

    /* registers map to a single identifier */
    require.Same(t, x, b.Reg(r0))
}

func TestBuilder_Errors(t *testing.T) {
    require.Panics(t, func() {
        NewBuilder("empty", 0).Build()
    })

    /* labels must be defined */
    require.Panics(t, func() {
        b := NewBuilder("dangling", 0)
        b.Jump("nowhere")
        b.Build()
    })

    /* and defined once */
    require.Panics(t, func() {
        b := NewBuilder("twice", 0)
        b.Label("a")
        b.Assign(b.Reg(r0), Word(0, 32))
        b.Label("a")
    })
}

func TestExpression_CloneAndEqual(t *testing.T) {
    b := NewBuilder("f", 0)
    x := b.Reg(r0)
    e := Expression(Add(Mem(AddConst(x, 4), 32), Mem(AddConst(x, -4), 32)))
    c := Clone(e)

    /* a deep copy that shares the identifiers */
    require.True(t, Equal(e, c))
    require.NotSame(t, e, c)
    require.Same(t, x, c.(*BinaryExpression).Left.(*MemoryAccess).Ea.(*BinaryExpression).Left)

    /* the copy is independent */
    c.(*BinaryExpression).Op = OpSub
    require.False(t, Equal(e, c))
    require.Equal(t, OpAdd, e.(*BinaryExpression).Op)
}

func TestExpression_Visitors(t *testing.T) {
    b := NewBuilder("f", 0)
    x := b.Reg(r0)
    y := b.Reg(r1)
    e := Expression(Add(x, Mem(y, 32)))

    /* readers */
    require.True(t, Uses(e, x))
    require.True(t, Uses(e, y))
    require.True(t, ReadsMemory(e))
    require.False(t, ReadsMemory(Add(x, y)))

    /* children before parents */
    var seen []Expression
    WalkSlots(&e, func(p *Expression) { seen = append(seen, *p) })
    require.Len(t, seen, 4)
    require.Equal(t, e, seen[3])

    /* rewriting through the slots */
    WalkSlots(&e, func(p *Expression) {
        if *p == Expression(y) {
            *p = Word(8, 32)
        }
    })
    require.False(t, Uses(e, y))
}

func TestAddConst(t *testing.T) {
    b := NewBuilder("f", 0)
    x := b.Reg(r0)
    require.Same(t, x, AddConst(x, 0))
    require.Equal(t, OpSub, AddConst(x, -4).(*BinaryExpression).Op)
    require.Equal(t, uint64(4), AddConst(x, -4).(*BinaryExpression).Right.(*Constant).Value)
    require.Panics(t, func() { Compare(OpAdd, x, x) })
}
