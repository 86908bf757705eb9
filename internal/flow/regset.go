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


package flow

import (
    `fmt`
    `strings`

    `github.com/cloudwego/decompflow/internal/ir`
    `golang.org/x/exp/maps`
    `golang.org/x/exp/slices`
)

// RegisterSet is a set of whole registers.
type RegisterSet map[*ir.RegisterStorage]struct{}

func NewRegisterSet(rr ...*ir.RegisterStorage) RegisterSet {
    ret := make(RegisterSet, len(rr))
    for _, r := range rr {
        ret.Add(r)
    }
    return ret
}

func (self RegisterSet) Add(r *ir.RegisterStorage) {
    self[r] = struct{}{}
}

func (self RegisterSet) Has(r *ir.RegisterStorage) bool {
    _, ok := self[r]
    return ok
}

func (self RegisterSet) Remove(r *ir.RegisterStorage) {
    delete(self, r)
}

func (self RegisterSet) Clone() RegisterSet {
    if self == nil {
        return make(RegisterSet)
    } else {
        return maps.Clone(self)
    }
}

// Union adds every register of rs and tells whether the set grew.
func (self RegisterSet) Union(rs RegisterSet) bool {
    n := len(self)
    for r := range rs {
        self[r] = struct{}{}
    }
    return len(self) != n
}

func (self RegisterSet) Intersect(rs RegisterSet) RegisterSet {
    ret := make(RegisterSet)
    for r := range self {
        if rs.Has(r) {
            ret.Add(r)
        }
    }
    return ret
}

func (self RegisterSet) Minus(rs RegisterSet) RegisterSet {
    ret := make(RegisterSet)
    for r := range self {
        if !rs.Has(r) {
            ret.Add(r)
        }
    }
    return ret
}

func (self RegisterSet) Equal(rs RegisterSet) bool {
    return maps.Equal(self, rs)
}

// Sorted lists the registers in the order of their numbers.
func (self RegisterSet) Sorted() []*ir.RegisterStorage {
    ret := maps.Keys(self)
    SortRegisters(ret)
    return ret
}

func (self RegisterSet) String() string {
    rr := self.Sorted()
    ss := make([]string, 0, len(rr))

    /* register names */
    for _, r := range rr {
        ss = append(ss, r.Name)
    }

    /* join with spaces */
    return strings.Join(ss, " ")
}

// SortRegisters sorts registers by number, then by bit offset.
func SortRegisters(rr []*ir.RegisterStorage) {
    slices.SortFunc(rr, func(a *ir.RegisterStorage, b *ir.RegisterStorage) bool {
        if a.Number != b.Number {
            return a.Number < b.Number
        } else {
            return a.BitOffset < b.BitOffset
        }
    })
}

// BitRange is the half-open range of bits [Lo, Hi) of a register.
type BitRange struct {
    Lo int
    Hi int
}

func (self BitRange) IsEmpty() bool {
    return self.Lo >= self.Hi
}

// Union returns the smallest range covering both ranges.
func (self BitRange) Union(r BitRange) BitRange {
    if self.IsEmpty() {
        return r
    } else if r.IsEmpty() {
        return self
    } else {
        return BitRange { Lo: minInt(self.Lo, r.Lo), Hi: maxInt(self.Hi, r.Hi) }
    }
}

func (self BitRange) String() string {
    return fmt.Sprintf("[%d..%d]", self.Lo, self.Hi - 1)
}

func minInt(a int, b int) int {
    if a < b {
        return a
    } else {
        return b
    }
}

func maxInt(a int, b int) int {
    if a > b {
        return a
    } else {
        return b
    }
}
