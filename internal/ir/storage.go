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

// Storage is the physical location a variable lives in.
type Storage interface {
    fmt.Stringer
    BitSize() int
}

// RegisterStorage is a machine register. Sub-registers share the Number of
// the full-width register they alias.
type RegisterStorage struct {
    Name      string
    Number    int
    BitOffset int
    Bits      int
}

func (self *RegisterStorage) BitSize() int  { return self.Bits }
func (self *RegisterStorage) String() string { return self.Name }

// Covers tests whether the bits of r lie inside the bits of self.
func (self *RegisterStorage) Covers(r *RegisterStorage) bool {
    return self.Number == r.Number &&
        self.BitOffset <= r.BitOffset &&
        self.BitOffset + self.Bits >= r.BitOffset + r.Bits
}

// FlagGroupStorage is a subset of the bits of a flag register.
type FlagGroupStorage struct {
    Name         string
    Mask         uint32
    FlagRegister *RegisterStorage
}

func (self *FlagGroupStorage) BitSize() int  { return 1 }
func (self *FlagGroupStorage) String() string { return self.Name }

// StackStorage is a stack slot, addressed relative to the stack pointer
// value on procedure entry.
type StackStorage struct {
    Offset int
    Bits   int
}

func (self *StackStorage) BitSize() int { return self.Bits }

func (self *StackStorage) String() string {
    if self.Offset < 0 {
        return fmt.Sprintf("Stack-%x", -self.Offset)
    } else {
        return fmt.Sprintf("Stack+%x", self.Offset)
    }
}

// TemporaryStorage holds values that never existed on the machine.
type TemporaryStorage struct {
    Name string
    Bits int
}

func (self *TemporaryStorage) BitSize() int  { return self.Bits }
func (self *TemporaryStorage) String() string { return self.Name }

// SequenceStorage is the concatenation of two storages, Head being the most
// significant part.
type SequenceStorage struct {
    Head Storage
    Tail Storage
}

func (self *SequenceStorage) BitSize() int {
    return self.Head.BitSize() + self.Tail.BitSize()
}

func (self *SequenceStorage) String() string {
    return self.Head.String() + "_" + self.Tail.String()
}

// StorageKey returns the storage SSA versions are tracked by. Every flag group
// of a flag register shares the version stream of that register.
func StorageKey(s Storage) Storage {
    if fg, ok := s.(*FlagGroupStorage); ok {
        return fg.FlagRegister
    } else {
        return s
    }
}
